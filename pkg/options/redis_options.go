package options

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the Redis pub/sub push backend.
type RedisOptions struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Enabled: false,
		Addr:    "127.0.0.1:6379",
	}
}

func (o *RedisOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, fmt.Errorf("redis.addr: %w", err))
	}
	if o.DB < 0 {
		errors = append(errors, fmt.Errorf("redis.db must not be negative"))
	}

	return errors
}

func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, join(prefixes, "redis.enabled"), o.Enabled, "Enable Redis pub/sub as a push backend.")
	fs.StringVar(&o.Addr, join(prefixes, "redis.addr"), o.Addr, "Redis server address.")
	fs.StringVar(&o.Username, join(prefixes, "redis.username"), o.Username, "Redis ACL username.")
	fs.StringVar(&o.Password, join(prefixes, "redis.password"), o.Password, "Redis password.")
	fs.IntVar(&o.DB, join(prefixes, "redis.db"), o.DB, "Redis logical database.")
}

// ToClientOptions converts the options for redis.NewClient.
func (o *RedisOptions) ToClientOptions() *redis.Options {
	return &redis.Options{
		Addr:     o.Addr,
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	}
}
