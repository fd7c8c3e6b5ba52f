package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/domrelay/domrelay/internal/relayserver"
	"github.com/domrelay/domrelay/pkg/app"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

type ServerOptions struct {
	HttpOptions       *options.HttpOptions       `json:"http" mapstructure:"http"`
	DBOptions         *options.DBOptions         `json:"db" mapstructure:"db"`
	MqttOptions       *options.MqttOptions       `json:"mqtt" mapstructure:"mqtt"`
	RedisOptions      *options.RedisOptions      `json:"redis" mapstructure:"redis"`
	S3Options         *options.S3Options         `json:"s3" mapstructure:"s3"`
	JWTOptions        *options.JWTOptions        `json:"jwt" mapstructure:"jwt"`
	GenAIOptions      *options.GenAIOptions      `json:"genai" mapstructure:"genai"`
	ReaperOptions     *options.ReaperOptions     `json:"reaper" mapstructure:"reaper"`
	SupervisorOptions *options.SupervisorOptions `json:"supervisor" mapstructure:"supervisor"`
	Log               *log.Options               `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions:       options.NewHttpOptions(),
		DBOptions:         options.NewDBOptions(),
		MqttOptions:       options.NewMqttOptions(),
		RedisOptions:      options.NewRedisOptions(),
		S3Options:         options.NewS3Options(),
		JWTOptions:        options.NewJWTOptions(),
		GenAIOptions:      options.NewGenAIOptions(),
		ReaperOptions:     options.NewReaperOptions(),
		SupervisorOptions: options.NewSupervisorOptions(),
		Log:               log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.DBOptions.AddFlags(fss.FlagSet("db"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.JWTOptions.AddFlags(fss.FlagSet("jwt"))
	o.GenAIOptions.AddFlags(fss.FlagSet("genai"))
	o.ReaperOptions.AddFlags(fss.FlagSet("reaper"))
	o.SupervisorOptions.AddFlags(fss.FlagSet("supervisor"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.DBOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.JWTOptions.Validate()...)
	errs = append(errs, o.GenAIOptions.Validate()...)
	errs = append(errs, o.ReaperOptions.Validate()...)
	errs = append(errs, o.SupervisorOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) Config() (*relayserver.Config, error) {
	return &relayserver.Config{
		HttpOptions:       o.HttpOptions,
		DBOptions:         o.DBOptions,
		MqttOptions:       o.MqttOptions,
		RedisOptions:      o.RedisOptions,
		S3Options:         o.S3Options,
		JWTOptions:        o.JWTOptions,
		GenAIOptions:      o.GenAIOptions,
		ReaperOptions:     o.ReaperOptions,
		SupervisorOptions: o.SupervisorOptions,
	}, nil
}
