package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions contains configuration items related to the relay HTTP API.
type HttpOptions struct {
	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds each request handler. Used by the http client side as the per-call timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// RateLimit is the sustained request rate allowed per subject. Zero disables limiting.
	RateLimit float64 `json:"rate-limit" mapstructure:"rate-limit"`

	// RateBurst is the burst size allowed per subject.
	RateBurst int `json:"rate-burst" mapstructure:"rate-burst"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:   "tcp",
		Addr:      "0.0.0.0:8443",
		Timeout:   5 * time.Second,
		RateLimit: 20,
		RateBurst: 40,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("http.timeout must be positive"))
	}
	if o.RateLimit < 0 || o.RateBurst < 0 {
		errors = append(errors, fmt.Errorf("http.rate-limit and http.rate-burst must not be negative"))
	}

	return errors
}

// AddFlags adds flags related to the HTTP server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, join(prefixes, "http.network"), o.Network, "Specify the network for the HTTP server.")
	fs.StringVar(&o.Addr, join(prefixes, "http.addr"), o.Addr, "Specify the HTTP server bind address and port.")
	fs.DurationVar(&o.Timeout, join(prefixes, "http.timeout"), o.Timeout, "Timeout for a single request.")
	fs.Float64Var(&o.RateLimit, join(prefixes, "http.rate-limit"), o.RateLimit, "Requests per second allowed per authenticated subject (0 disables).")
	fs.IntVar(&o.RateBurst, join(prefixes, "http.rate-burst"), o.RateBurst, "Burst size for the per-subject rate limiter.")
}
