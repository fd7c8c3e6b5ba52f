package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*JWTOptions)(nil)

// JWTOptions configures bearer token validation and device token issuance.
type JWTOptions struct {
	Secret         string        `json:"secret" mapstructure:"secret"`
	Issuer         string        `json:"issuer" mapstructure:"issuer"`
	DeviceTokenTTL time.Duration `json:"device-token-ttl" mapstructure:"device-token-ttl"`
}

func NewJWTOptions() *JWTOptions {
	return &JWTOptions{
		Issuer:         "domrelay",
		DeviceTokenTTL: time.Hour,
	}
}

func (o *JWTOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if len(o.Secret) < 16 {
		errors = append(errors, fmt.Errorf("jwt.secret must be at least 16 bytes"))
	}
	if o.DeviceTokenTTL < time.Minute {
		errors = append(errors, fmt.Errorf("jwt.device-token-ttl must be at least 1m"))
	}

	return errors
}

func (o *JWTOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Secret, join(prefixes, "jwt.secret"), o.Secret, "HMAC secret used to sign and verify bearer tokens.")
	fs.StringVar(&o.Issuer, join(prefixes, "jwt.issuer"), o.Issuer, "Issuer claim of device tokens.")
	fs.DurationVar(&o.DeviceTokenTTL, join(prefixes, "jwt.device-token-ttl"), o.DeviceTokenTTL, "Lifetime of issued device tokens.")
}
