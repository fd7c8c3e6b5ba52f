package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SupervisorOptions)(nil)

// SupervisorOptions configures background verification and auto-heal.
type SupervisorOptions struct {
	VerifyInterval time.Duration `json:"verify-interval" mapstructure:"verify-interval"`
	VerifyBatch    int           `json:"verify-batch" mapstructure:"verify-batch"`

	// EvidenceWindow is how long a claimed command may run without reporting.
	EvidenceWindow time.Duration `json:"evidence-window" mapstructure:"evidence-window"`

	AutoHeal   bool          `json:"auto-heal" mapstructure:"auto-heal"`
	MaxRetries int           `json:"max-retries" mapstructure:"max-retries"`
	RetryDelay time.Duration `json:"retry-delay" mapstructure:"retry-delay"`
}

func NewSupervisorOptions() *SupervisorOptions {
	return &SupervisorOptions{
		VerifyInterval: 2 * time.Second,
		VerifyBatch:    100,
		EvidenceWindow: 60 * time.Second,
		AutoHeal:       true,
		MaxRetries:     2,
		RetryDelay:     2 * time.Second,
	}
}

func (o *SupervisorOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.VerifyInterval <= 0 {
		errors = append(errors, fmt.Errorf("supervisor.verify-interval must be positive"))
	}
	if o.VerifyBatch <= 0 {
		errors = append(errors, fmt.Errorf("supervisor.verify-batch must be positive"))
	}
	if o.EvidenceWindow <= 0 {
		errors = append(errors, fmt.Errorf("supervisor.evidence-window must be positive"))
	}
	if o.MaxRetries < 0 || o.MaxRetries > 10 {
		errors = append(errors, fmt.Errorf("supervisor.max-retries must be within [0, 10]"))
	}
	if o.RetryDelay < 0 {
		errors = append(errors, fmt.Errorf("supervisor.retry-delay must not be negative"))
	}

	return errors
}

func (o *SupervisorOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.VerifyInterval, join(prefixes, "supervisor.verify-interval"), o.VerifyInterval, "How often unverified commands are checked.")
	fs.IntVar(&o.VerifyBatch, join(prefixes, "supervisor.verify-batch"), o.VerifyBatch, "Maximum commands verified per pass.")
	fs.DurationVar(&o.EvidenceWindow, join(prefixes, "supervisor.evidence-window"), o.EvidenceWindow, "Time a claimed command may run before it counts as having no evidence.")
	fs.BoolVar(&o.AutoHeal, join(prefixes, "supervisor.auto-heal"), o.AutoHeal, "Issue corrective commands for failed verifications.")
	fs.IntVar(&o.MaxRetries, join(prefixes, "supervisor.max-retries"), o.MaxRetries, "Corrective attempts after the first failure.")
	fs.DurationVar(&o.RetryDelay, join(prefixes, "supervisor.retry-delay"), o.RetryDelay, "Fixed delay between heal attempts.")
}
