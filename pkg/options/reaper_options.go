package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ReaperOptions)(nil)

// ReaperOptions configures the expiry of stale commands and silent devices.
type ReaperOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// PendingTTL fails commands nobody claimed within it.
	PendingTTL time.Duration `json:"pending-ttl" mapstructure:"pending-ttl"`

	// ClaimTTL fails claimed commands whose executor never completed them.
	ClaimTTL time.Duration `json:"claim-ttl" mapstructure:"claim-ttl"`

	// HeartbeatTimeout marks devices offline after this long without contact.
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout" mapstructure:"heartbeat-timeout"`
}

func NewReaperOptions() *ReaperOptions {
	return &ReaperOptions{
		Interval:         30 * time.Second,
		PendingTTL:       10 * time.Minute,
		ClaimTTL:         5 * time.Minute,
		HeartbeatTimeout: 2 * time.Minute,
	}
}

func (o *ReaperOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("reaper.interval must be positive"))
	}
	if o.PendingTTL <= 0 || o.ClaimTTL <= 0 || o.HeartbeatTimeout <= 0 {
		errors = append(errors, fmt.Errorf("reaper TTLs must be positive"))
	}

	return errors
}

func (o *ReaperOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, join(prefixes, "reaper.interval"), o.Interval, "How often stale commands and devices are reaped.")
	fs.DurationVar(&o.PendingTTL, join(prefixes, "reaper.pending-ttl"), o.PendingTTL, "Unclaimed commands older than this are failed as expired.")
	fs.DurationVar(&o.ClaimTTL, join(prefixes, "reaper.claim-ttl"), o.ClaimTTL, "Claimed commands not completed within this are failed.")
	fs.DurationVar(&o.HeartbeatTimeout, join(prefixes, "reaper.heartbeat-timeout"), o.HeartbeatTimeout, "Devices silent for longer are marked offline.")
}
