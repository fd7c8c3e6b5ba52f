package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*AgentOptions)(nil)

// AgentOptions configures how relay-agent identifies itself and talks to relay-server.
type AgentOptions struct {
	ServerURL string `json:"server-url" mapstructure:"server-url"`
	DeviceID  string `json:"device-id" mapstructure:"device-id"`

	// AgentID names this executor in claims. Defaults to relay-agent-<hostname>.
	AgentID string `json:"agent-id" mapstructure:"agent-id"`

	// UserToken authenticates the initial device registration.
	UserToken string `json:"user-token" mapstructure:"user-token"`

	// CredentialsFile persists the device token. It is watched for external rotation.
	CredentialsFile string `json:"credentials-file" mapstructure:"credentials-file"`

	RequestTimeout    time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
	HandlerTimeout    time.Duration `json:"handler-timeout" mapstructure:"handler-timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// RefreshBefore renews the device token this long before it expires.
	RefreshBefore time.Duration `json:"refresh-before" mapstructure:"refresh-before"`

	// Screenshots uploads a PNG of the page after every execution.
	Screenshots bool `json:"screenshots" mapstructure:"screenshots"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		ServerURL:         "http://127.0.0.1:8080",
		RequestTimeout:    5 * time.Second,
		HandlerTimeout:    15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		RefreshBefore:     5 * time.Minute,
	}
}

func (o *AgentOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	u, err := url.Parse(o.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Errorf("agent.server-url %q must be an absolute URL", o.ServerURL))
	}
	if o.DeviceID == "" {
		errors = append(errors, fmt.Errorf("agent.device-id is required"))
	}
	if o.UserToken == "" && o.CredentialsFile == "" {
		errors = append(errors, fmt.Errorf("one of agent.user-token or agent.credentials-file is required"))
	}
	if o.RequestTimeout <= 0 || o.HandlerTimeout <= 0 || o.HeartbeatInterval <= 0 {
		errors = append(errors, fmt.Errorf("agent timeouts and intervals must be positive"))
	}
	if o.RefreshBefore < 0 {
		errors = append(errors, fmt.Errorf("agent.refresh-before must not be negative"))
	}

	return errors
}

func (o *AgentOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ServerURL, join(prefixes, "agent.server-url"), o.ServerURL, "Base URL of relay-server.")
	fs.StringVar(&o.DeviceID, join(prefixes, "agent.device-id"), o.DeviceID, "Device id this agent registers and executes for.")
	fs.StringVar(&o.AgentID, join(prefixes, "agent.agent-id"), o.AgentID, "Executor id recorded on claims. Defaults to relay-agent-<hostname>.")
	fs.StringVar(&o.UserToken, join(prefixes, "agent.user-token"), o.UserToken, "User token used to register the device when no device credentials exist.")
	fs.StringVar(&o.CredentialsFile, join(prefixes, "agent.credentials-file"), o.CredentialsFile, "File holding the device token; rewritten on refresh and watched for changes.")
	fs.DurationVar(&o.RequestTimeout, join(prefixes, "agent.request-timeout"), o.RequestTimeout, "Timeout of each relay-server request attempt.")
	fs.DurationVar(&o.HandlerTimeout, join(prefixes, "agent.handler-timeout"), o.HandlerTimeout, "Deadline for a browser action to settle.")
	fs.DurationVar(&o.HeartbeatInterval, join(prefixes, "agent.heartbeat-interval"), o.HeartbeatInterval, "Interval between device heartbeats.")
	fs.DurationVar(&o.RefreshBefore, join(prefixes, "agent.refresh-before"), o.RefreshBefore, "Renew the device token this long before it expires.")
	fs.BoolVar(&o.Screenshots, join(prefixes, "agent.screenshots"), o.Screenshots, "Upload a screenshot as evidence after every execution.")
}
