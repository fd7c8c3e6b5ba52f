package relayagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	neturl "net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	httpserver "github.com/domrelay/domrelay/internal/relayserver/server/http"
	"github.com/domrelay/domrelay/internal/relayserver/store"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/client"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

func newRelay(t *testing.T) (url, userToken string) {
	t.Helper()

	dbOpts := options.NewDBOptions()
	dbOpts.SQLitePath = filepath.Join(t.TempDir(), "relay.db")
	dbOpts.LogLevel = "silent"
	db, err := store.Open(dbOpts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	jwtOpts := options.NewJWTOptions()
	jwtOpts.Secret = "0123456789abcdef0123456789abcdef"
	signer := auth.NewSigner(jwtOpts)

	svc := service.New(store.NewRepository(db), nil, nil, signer)
	srv := httptest.NewServer(httpserver.NewHandler(&httpserver.Config{Options: options.NewHttpOptions(), Service: svc, Auth: signer}, log.NewNopLogger()))
	t.Cleanup(srv.Close)

	token, _, err := signer.SignUser("user-1", time.Hour)
	require.NoError(t, err)
	return srv.URL, token
}

func agentConfig(url, userToken, credsFile string) *Config {
	cfg := &Config{
		AgentOptions:    options.NewAgentOptions(),
		BrowserOptions:  options.NewBrowserOptions(),
		DeliveryOptions: options.NewDeliveryOptions(),
		MqttOptions:     options.NewMqttOptions(),
		RedisOptions:    options.NewRedisOptions(),
	}
	cfg.AgentOptions.ServerURL = url
	cfg.AgentOptions.DeviceID = "laptop"
	cfg.AgentOptions.AgentID = "agent-test"
	cfg.AgentOptions.UserToken = userToken
	cfg.AgentOptions.CredentialsFile = credsFile
	cfg.AgentOptions.HeartbeatInterval = 50 * time.Millisecond
	cfg.BrowserOptions.Driver = "stub"
	cfg.DeliveryOptions.PushEnabled = false
	cfg.DeliveryOptions.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestAgentExecutesPolledCommand(t *testing.T) {
	url, userToken := newRelay(t)
	credsFile := filepath.Join(t.TempDir(), "credentials.json")

	agent, err := agentConfig(url, userToken, credsFile).NewAgent(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	user, err := client.New(url, client.WithToken(userToken))
	require.NoError(t, err)

	// Registration happens on startup.
	require.Eventually(t, func() bool {
		devices, err := user.ListDevices(context.Background())
		return err == nil && len(devices) == 1
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(v1.NavigatePayload{URL: "https://docs.example.com/d/1"})
	require.NoError(t, err)
	cmd, err := user.Enqueue(context.Background(), &v1.EnqueueRequest{DeviceID: "laptop", Type: v1.CommandTypeNavigate, Payload: payload})
	require.NoError(t, err)

	var got *v1.Command
	require.Eventually(t, func() bool {
		got, err = user.Get(context.Background(), cmd.ID)
		return err == nil && got.Status == v1.CommandStatusDone
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "agent-test", got.ClaimedBy)
	require.NotNil(t, got.Result)
	assert.Equal(t, "about:blank", got.Result.URLBefore)
	assert.Equal(t, "https://docs.example.com/d/1", got.Result.URLAfter)

	verdict, ok, err := user.Verdict(context.Background(), cmd.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v1.VerdictSuccess, verdict.Status)

	// The device token was persisted for the next start.
	saved, err := credentials.NewStore(credsFile).Load()
	require.NoError(t, err)
	assert.Equal(t, "laptop", saved.DeviceID)
	assert.NotEmpty(t, saved.Token)
}

func TestAgentRequiresCredentials(t *testing.T) {
	url, _ := newRelay(t)
	agent, err := agentConfig(url, "", filepath.Join(t.TempDir(), "missing.json")).NewAgent(context.Background())
	require.NoError(t, err)

	err = agent.Run(context.Background())
	assert.ErrorContains(t, err, "no valid credentials")
}

// lossyProxy commits every odd PATCH upstream but never answers it, so the
// client times out and retries a request the server already applied.
func lossyProxy(t *testing.T, upstream string) string {
	t.Helper()
	target, err := neturl.Parse(upstream)
	require.NoError(t, err)
	proxy := httputil.NewSingleHostReverseProxy(target)

	var patches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch && patches.Add(1)%2 == 1 {
			proxy.ServeHTTP(httptest.NewRecorder(), r.Clone(context.WithoutCancel(r.Context())))
			<-r.Context().Done()
			return
		}
		proxy.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRetriedClaimAndCompleteSurviveLostResponses(t *testing.T) {
	ctx := context.Background()
	url, userToken := newRelay(t)

	user, err := client.New(url, client.WithToken(userToken))
	require.NoError(t, err)
	reg, err := user.RegisterDevice(ctx, &v1.RegisterDeviceRequest{DeviceID: "laptop", BrowserInfo: "stub", Version: "test"})
	require.NoError(t, err)

	payload, err := json.Marshal(v1.NavigatePayload{URL: "https://docs.example.com/d/1"})
	require.NoError(t, err)
	cmd, err := user.Enqueue(ctx, &v1.EnqueueRequest{DeviceID: "laptop", Type: v1.CommandTypeNavigate, Payload: payload})
	require.NoError(t, err)

	device, err := client.New(lossyProxy(t, url),
		client.WithToken(reg.Token),
		client.WithTimeout(200*time.Millisecond),
		client.WithBackoff(wait.Backoff{Duration: 10 * time.Millisecond, Factor: 1, Steps: 3}))
	require.NoError(t, err)

	claimed, err := device.Claim(ctx, cmd.ID, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, claimed, "the retry must not hand the agent a conflict for its own claim")
	assert.Equal(t, "agent-1", claimed.ClaimedBy)

	result := v1.NewExecutionResult(claimed, v1.ResultStatusSuccess, "about:blank", "https://docs.example.com/d/1", "Doc", v1.DomSignals{}, "")
	done, err := device.Complete(ctx, cmd.ID, result)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusDone, done.Status)
}
