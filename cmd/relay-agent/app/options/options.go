package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/domrelay/domrelay/internal/relayagent"
	"github.com/domrelay/domrelay/pkg/app"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

type AgentOptions struct {
	AgentOptions    *options.AgentOptions    `json:"agent" mapstructure:"agent"`
	BrowserOptions  *options.BrowserOptions  `json:"browser" mapstructure:"browser"`
	DeliveryOptions *options.DeliveryOptions `json:"delivery" mapstructure:"delivery"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	RedisOptions    *options.RedisOptions    `json:"redis" mapstructure:"redis"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		AgentOptions:    options.NewAgentOptions(),
		BrowserOptions:  options.NewBrowserOptions(),
		DeliveryOptions: options.NewDeliveryOptions(),
		MqttOptions:     options.NewMqttOptions(),
		RedisOptions:    options.NewRedisOptions(),
		Log:             log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.AgentOptions.AddFlags(fss.FlagSet("agent"))
	o.BrowserOptions.AddFlags(fss.FlagSet("browser"))
	o.DeliveryOptions.AddFlags(fss.FlagSet("delivery"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete enables the backend selected for push so its options are validated.
func (o *AgentOptions) Complete() error {
	if o.DeliveryOptions.PushEnabled {
		o.MqttOptions.Enabled = o.DeliveryOptions.PushBackend == "mqtt"
		o.RedisOptions.Enabled = o.DeliveryOptions.PushBackend == "redis"
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.AgentOptions.Validate()...)
	errs = append(errs, o.BrowserOptions.Validate()...)
	errs = append(errs, o.DeliveryOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*relayagent.Config, error) {
	return &relayagent.Config{
		AgentOptions:    o.AgentOptions,
		BrowserOptions:  o.BrowserOptions,
		DeliveryOptions: o.DeliveryOptions,
		MqttOptions:     o.MqttOptions,
		RedisOptions:    o.RedisOptions,
	}, nil
}
