package topic

import (
	"fmt"
	"strings"
)

// Topic segments shared by relay-server and relay-agent.
// Changing these values breaks compatibility with deployed agents.
const (
	// SuffixCommand carries command INSERT notifications (server -> agent).
	// Structure: {root}/command/device_{id}
	SuffixCommand = "command"

	// SuffixPresence carries online/offline announcements and the agent's will message (agent -> server).
	// Structure: {root}/presence/device_{id}
	SuffixPresence = "presence"

	// ChannelPrefix prefixes a device id to form its notification channel key.
	ChannelPrefix = "device_"
)

// Builder constructs MQTT topic strings under a root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g., "domrelay/v1").
	root string
}

// NewBuilder creates a Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

// Channel returns the notification channel key of a device: device_{id}.
func Channel(deviceID string) string {
	return ChannelPrefix + deviceID
}

// DeviceFromChannel extracts the device id from a channel key or a topic ending in one.
func DeviceFromChannel(s string) (string, bool) {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	id, ok := strings.CutPrefix(s, ChannelPrefix)
	return id, ok && id != ""
}

// Command returns the topic on which a device receives command notifications.
func (b *Builder) Command(deviceID string) string {
	return b.Build(SuffixCommand, deviceID)
}

// Presence returns the topic on which a device announces its connectivity.
func (b *Builder) Presence(deviceID string) string {
	return b.Build(SuffixPresence, deviceID)
}

// PresenceWildcard returns the filter the server uses to observe all devices.
// Result: {root}/presence/+
func (b *Builder) PresenceWildcard() string {
	return fmt.Sprintf("%s/%s/%s", b.root, SuffixPresence, Wildcard)
}

// Build constructs {root}/{suffix}/device_{id}.
func (b *Builder) Build(suffix, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, Channel(deviceID))
}
