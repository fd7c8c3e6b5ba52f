package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("domrelay/v1/")

	assert.Equal(t, "domrelay/v1/command/device_abc", b.Command("abc"))
	assert.Equal(t, "domrelay/v1/presence/device_abc", b.Presence("abc"))
	assert.Equal(t, "domrelay/v1/presence/+", b.PresenceWildcard())
	assert.Equal(t, "device_abc", Channel("abc"))
}

func TestDeviceFromChannel(t *testing.T) {
	id, ok := DeviceFromChannel("domrelay/v1/presence/device_abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	id, ok = DeviceFromChannel("device_xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", id)

	_, ok = DeviceFromChannel("domrelay/v1/presence/other")
	assert.False(t, ok)

	_, ok = DeviceFromChannel("device_")
	assert.False(t, ok)
}
