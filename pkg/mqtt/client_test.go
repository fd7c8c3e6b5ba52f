package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/x/c", false},
		{"a/#", "a/b/c/d", true},
		{"a/+", "a", false},
		{"domrelay/v1/presence/+", "domrelay/v1/presence/device_1", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"->"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic))
		})
	}
}

func TestTopicFilterStripsSharePrefix(t *testing.T) {
	assert.Equal(t, "a/+/c", topicFilter("$share/group/a/+/c"))
	assert.Equal(t, "a/b", topicFilter("a/b"))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "tcp://127.0.0.1:1883"})
	require.Error(t, err, "client id is required")

	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://127.0.0.1:1883", ClientID: "t"})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())

	pc := c.(*pahoClient)
	assert.EqualValues(t, 60, pc.cfg.KeepAlive)
	assert.Nil(t, pc.willMessage())
}
