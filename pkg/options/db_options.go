package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DBOptions)(nil)

// DBOptions configures the relational database backing the command store.
type DBOptions struct {
	// Driver is either "sqlite" or "mysql".
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`

	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	MaxOpenConns    int           `json:"max-open-conns" mapstructure:"max-open-conns"`
	MaxIdleConns    int           `json:"max-idle-conns" mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `json:"conn-max-lifetime" mapstructure:"conn-max-lifetime"`

	// LogLevel is the gorm logger level: silent, error, warn or info.
	LogLevel string `json:"log-level" mapstructure:"log-level"`
}

// NewDBOptions creates a DBOptions object with default parameters.
func NewDBOptions() *DBOptions {
	return &DBOptions{
		Driver:          "sqlite",
		SQLitePath:      "domrelay.db",
		Host:            "127.0.0.1",
		Port:            3306,
		Database:        "domrelay",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		LogLevel:        "warn",
	}
}

// DSN returns the driver-specific data source name.
func (o *DBOptions) DSN() string {
	if o.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			o.Username, o.Password, o.Host, o.Port, o.Database)
	}
	// WAL plus a busy timeout keeps concurrent claims from failing with SQLITE_BUSY.
	return o.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func (o *DBOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Driver {
	case "sqlite":
		if o.SQLitePath == "" {
			errors = append(errors, fmt.Errorf("db.sqlite-path is required for the sqlite driver"))
		}
	case "mysql":
		if o.Host == "" || o.Database == "" {
			errors = append(errors, fmt.Errorf("db.host and db.database are required for the mysql driver"))
		}
	default:
		errors = append(errors, fmt.Errorf("unsupported db.driver %q (want sqlite or mysql)", o.Driver))
	}

	switch strings.ToLower(o.LogLevel) {
	case "silent", "error", "warn", "info":
	default:
		errors = append(errors, fmt.Errorf("invalid db.log-level %q", o.LogLevel))
	}

	return errors
}

func (o *DBOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, join(prefixes, "db.driver"), o.Driver, "Database driver: sqlite or mysql.")
	fs.StringVar(&o.SQLitePath, join(prefixes, "db.sqlite-path"), o.SQLitePath, "Path of the sqlite database file.")
	fs.StringVar(&o.Host, join(prefixes, "db.host"), o.Host, "MySQL host.")
	fs.IntVar(&o.Port, join(prefixes, "db.port"), o.Port, "MySQL port.")
	fs.StringVar(&o.Username, join(prefixes, "db.username"), o.Username, "MySQL username.")
	fs.StringVar(&o.Password, join(prefixes, "db.password"), o.Password, "MySQL password.")
	fs.StringVar(&o.Database, join(prefixes, "db.database"), o.Database, "MySQL database name.")
	fs.IntVar(&o.MaxOpenConns, join(prefixes, "db.max-open-conns"), o.MaxOpenConns, "Maximum number of open connections.")
	fs.IntVar(&o.MaxIdleConns, join(prefixes, "db.max-idle-conns"), o.MaxIdleConns, "Maximum number of idle connections.")
	fs.DurationVar(&o.ConnMaxLifetime, join(prefixes, "db.conn-max-lifetime"), o.ConnMaxLifetime, "Maximum lifetime of a connection.")
	fs.StringVar(&o.LogLevel, join(prefixes, "db.log-level"), o.LogLevel, "gorm log level: silent, error, warn or info.")
}
