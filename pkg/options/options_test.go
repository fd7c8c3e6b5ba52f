package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:8443", false},
		{":8080", false},
		{"127.0.0.1:65535", false},
		{"127.0.0.1", true},
		{"127.0.0.1:0", true},
		{"127.0.0.1:http", true},
		{"127.0.0.1:70000", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	jwt := NewJWTOptions()
	jwt.Secret = "0123456789abcdef"

	for name, o := range map[string]IOptions{
		"http":     NewHttpOptions(),
		"mqtt":     NewMqttOptions(),
		"s3":       NewS3Options(),
		"db":       NewDBOptions(),
		"redis":    NewRedisOptions(),
		"jwt":      jwt,
		"genai":    NewGenAIOptions(),
		"delivery": NewDeliveryOptions(),
		"browser":  NewBrowserOptions(),
	} {
		assert.Empty(t, o.Validate(), name)
	}
}

func TestDisabledGroupsSkipValidation(t *testing.T) {
	m := NewMqttOptions()
	m.Broker = "::not a url"
	assert.Empty(t, m.Validate())

	m.Enabled = true
	assert.NotEmpty(t, m.Validate())
}

func TestAddFlagsPrefix(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := NewDeliveryOptions()
	o.AddFlags(fs, "agent")

	require.NoError(t, fs.Parse([]string{"--agent.delivery.poll-interval=250ms", "--agent.delivery.push-enabled=false"}))
	assert.Equal(t, 250*time.Millisecond, o.PollInterval)
	assert.False(t, o.PushEnabled)
}

func TestDBOptionsDSN(t *testing.T) {
	o := NewDBOptions()
	assert.Contains(t, o.DSN(), "domrelay.db?")

	o.Driver = "mysql"
	o.Username, o.Password = "relay", "secret"
	assert.Equal(t, "relay:secret@tcp(127.0.0.1:3306)/domrelay?charset=utf8mb4&parseTime=True&loc=UTC", o.DSN())
}

func TestAgentOptionsValidate(t *testing.T) {
	o := NewAgentOptions()
	assert.Len(t, o.Validate(), 2)

	o.DeviceID = "laptop"
	o.CredentialsFile = "/var/lib/relay-agent/credentials.json"
	assert.Empty(t, o.Validate())

	o.ServerURL = "relay:8080"
	assert.Len(t, o.Validate(), 1)
}

func TestBrowserOptionsRemoteURL(t *testing.T) {
	o := NewBrowserOptions()
	o.RemoteURL = "http://127.0.0.1:9222"
	require.Len(t, o.Validate(), 1)

	o.RemoteURL = "ws://127.0.0.1:9222/devtools/browser/abc"
	assert.Empty(t, o.Validate())
}
