package relayagent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/component-base/version"

	"github.com/domrelay/domrelay/internal/relayagent/browser"
	"github.com/domrelay/domrelay/internal/relayagent/connection"
	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	"github.com/domrelay/domrelay/internal/relayagent/executor"
	"github.com/domrelay/domrelay/internal/relayagent/poller"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/client"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

// CapabilityScreenshot is advertised when the agent uploads screenshot evidence.
const CapabilityScreenshot = "screenshot"

type Config struct {
	AgentOptions    *options.AgentOptions
	BrowserOptions  *options.BrowserOptions
	DeliveryOptions *options.DeliveryOptions
	MqttOptions     *options.MqttOptions
	RedisOptions    *options.RedisOptions
}

func (cfg *Config) NewAgent(ctx context.Context) (*Agent, error) {
	o := cfg.AgentOptions
	store := credentials.NewStore(o.CredentialsFile)

	api, err := client.New(o.ServerURL, client.WithTokenSource(store), client.WithTimeout(o.RequestTimeout))
	if err != nil {
		return nil, err
	}
	var bootstrap API
	if o.UserToken != "" {
		bc, err := client.New(o.ServerURL, client.WithToken(o.UserToken), client.WithTimeout(o.RequestTimeout))
		if err != nil {
			return nil, err
		}
		bootstrap = bc
	}

	driver, err := cfg.newDriver(ctx)
	if err != nil {
		return nil, err
	}

	agentID := o.AgentID
	if agentID == "" {
		hostname, _ := os.Hostname()
		agentID = fmt.Sprintf("relay-agent-%s", hostname)
	}

	execOpts := []executor.Option{executor.WithHandlerTimeout(o.HandlerTimeout)}
	capabilities := make([]string, 0, len(v1.CommandTypes)+1)
	for _, t := range v1.CommandTypes {
		capabilities = append(capabilities, string(t))
	}
	if o.Screenshots {
		execOpts = append(execOpts, executor.WithScreenshots(executor.NewHTTPUploader(30*time.Second)))
		capabilities = append(capabilities, CapabilityScreenshot)
	}
	dispatcher := NewDispatcher(executor.New(api, driver, agentID, execOpts...))

	a := &Agent{
		registration: v1.RegisterDeviceRequest{
			DeviceID:     o.DeviceID,
			BrowserInfo:  cfg.browserInfo(),
			Version:      version.Get().GitVersion,
			Capabilities: capabilities,
		},
		api:        api,
		bootstrap:  bootstrap,
		store:      store,
		dispatcher: dispatcher,
		poller:     poller.New(api, o.DeviceID, cfg.DeliveryOptions.PollInterval, dispatcher.Offer),
		driver:     driver,
		heartbeat:  o.HeartbeatInterval,
		logger:     log.WithName("relay-agent"),
	}
	a.refresher = credentials.NewRefresher(store, api, o.RefreshBefore, a.credentialsChanged, nil)

	if cfg.DeliveryOptions.PushEnabled {
		sub, err := cfg.newSubscriber()
		if err != nil {
			_ = driver.Close()
			return nil, err
		}
		a.conn = connection.NewManager(sub, o.DeviceID, dispatcher.Offer)
	}
	return a, nil
}

func (cfg *Config) newDriver(ctx context.Context) (browser.Driver, error) {
	if cfg.BrowserOptions.Driver == "stub" {
		return browser.NewFake(cfg.BrowserOptions.StartURL), nil
	}
	return browser.NewChrome(ctx, cfg.BrowserOptions)
}

func (cfg *Config) newSubscriber() (connection.Subscriber, error) {
	switch cfg.DeliveryOptions.PushBackend {
	case "mqtt":
		return connection.NewMQTTSubscriber(cfg.MqttOptions), nil
	case "redis":
		return connection.NewRedisSubscriber(redis.NewClient(cfg.RedisOptions.ToClientOptions())), nil
	}
	return nil, fmt.Errorf("unknown push backend %q", cfg.DeliveryOptions.PushBackend)
}

func (cfg *Config) browserInfo() string {
	b := cfg.BrowserOptions
	switch {
	case b.Driver == "stub":
		return "stub"
	case b.RemoteURL != "":
		return "chrome (attached)"
	case b.Headless:
		return "chrome (headless)"
	}
	return "chrome"
}
