package connection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	pkgmqtt "github.com/domrelay/domrelay/pkg/mqtt"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
	"github.com/domrelay/domrelay/pkg/options"
)

var _ Subscriber = (*MQTTSubscriber)(nil)

// MQTTSubscriber subscribes to {root}/command/device_{id}. Each subscription
// owns its own client so a rebuild reconnects with the new credentials.
type MQTTSubscriber struct {
	opts      *options.MqttOptions
	topics    *topic.Builder
	newClient func(*pkgmqtt.ClientConfig) (pkgmqtt.Client, error)
}

func NewMQTTSubscriber(opts *options.MqttOptions) *MQTTSubscriber {
	return &MQTTSubscriber{
		opts:      opts,
		topics:    topic.NewBuilder(opts.TopicRoot),
		newClient: pkgmqtt.NewClient,
	}
}

func (s *MQTTSubscriber) Name() string { return "mqtt" }

func (s *MQTTSubscriber) Subscribe(ctx context.Context, deviceID string, creds credentials.Credentials, deliver func([]byte)) (Subscription, error) {
	cfg := s.opts.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = "relay-agent-" + deviceID
	}
	// The device token is the broker password unless one is configured.
	if cfg.Username == "" {
		cfg.Username = deviceID
	}
	if creds.Token != "" && s.opts.Password == "" {
		cfg.Password = creds.Token
	}

	will, err := presence(deviceID, false, "UnexpectedDisconnect")
	if err != nil {
		return nil, err
	}
	presenceTopic := s.topics.Presence(deviceID)
	cfg.WillTopic = presenceTopic
	cfg.WillPayload = will
	cfg.WillQoS = 1
	cfg.WillRetain = true

	client, err := s.newClient(cfg)
	if err != nil {
		return nil, err
	}

	// The client lives until Close, not until the caller's ctx ends.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &mqttSubscription{client: client, cancel: cancel, presence: presenceTopic, deviceID: deviceID}

	if err := client.Start(subCtx); err != nil {
		cancel()
		return nil, err
	}

	actx, acancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer acancel()
	if err := client.AwaitConnection(actx); err != nil {
		_ = sub.Close(ctx)
		return nil, fmt.Errorf("connect mqtt broker: %w", err)
	}

	err = client.Subscribe(actx, s.topics.Command(deviceID), 1, func(_ context.Context, _ string, payload []byte) {
		deliver(payload)
	})
	if err != nil {
		_ = sub.Close(ctx)
		return nil, err
	}

	online, err := presence(deviceID, true, "")
	if err != nil {
		_ = sub.Close(ctx)
		return nil, err
	}
	if err := client.Publish(actx, presenceTopic, 1, true, online); err != nil {
		_ = sub.Close(ctx)
		return nil, fmt.Errorf("publish presence: %w", err)
	}
	return sub, nil
}

type mqttSubscription struct {
	client   pkgmqtt.Client
	cancel   context.CancelFunc
	presence string
	deviceID string
}

// Err never fires; the client reconnects to the broker on its own.
func (s *mqttSubscription) Err() <-chan error { return nil }

// Close announces the device offline and disconnects cleanly.
func (s *mqttSubscription) Close(ctx context.Context) error {
	defer s.cancel()

	var err error
	if s.client.IsConnected() {
		var offline []byte
		if offline, err = presence(s.deviceID, false, "Disconnect"); err == nil {
			err = s.client.Publish(ctx, s.presence, 1, true, offline)
		}
	}
	s.client.Disconnect(ctx)
	return err
}

func presence(deviceID string, online bool, reason string) ([]byte, error) {
	return json.Marshal(v1.PresenceMessage{DeviceID: deviceID, Online: online, Reason: reason})
}
