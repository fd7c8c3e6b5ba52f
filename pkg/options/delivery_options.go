package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DeliveryOptions)(nil)

// DeliveryOptions configures how an agent learns about pending commands.
// Polling always runs; push only lowers latency.
type DeliveryOptions struct {
	PushEnabled bool `json:"push-enabled" mapstructure:"push-enabled"`

	// PushBackend selects the subscription transport: "mqtt" or "redis".
	PushBackend string `json:"push-backend" mapstructure:"push-backend"`

	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
}

func NewDeliveryOptions() *DeliveryOptions {
	return &DeliveryOptions{
		PushEnabled:  true,
		PushBackend:  "mqtt",
		PollInterval: 5 * time.Second,
	}
}

func (o *DeliveryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.PollInterval < 100*time.Millisecond {
		errors = append(errors, fmt.Errorf("delivery.poll-interval must be at least 100ms"))
	}
	if o.PushEnabled && o.PushBackend != "mqtt" && o.PushBackend != "redis" {
		errors = append(errors, fmt.Errorf("delivery.push-backend must be mqtt or redis, got %q", o.PushBackend))
	}

	return errors
}

func (o *DeliveryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.PushEnabled, join(prefixes, "delivery.push-enabled"), o.PushEnabled, "Subscribe to realtime command notifications.")
	fs.StringVar(&o.PushBackend, join(prefixes, "delivery.push-backend"), o.PushBackend, "Push subscription backend: mqtt or redis.")
	fs.DurationVar(&o.PollInterval, join(prefixes, "delivery.poll-interval"), o.PollInterval, "Interval of the pending-command polling fallback.")
}
