package config

import (
	"fmt"
	"strings"
	"time"

	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"

	"github.com/caarlos0/env/v6"
)

// Supported database drivers
const (
	DriverMongoDB  = "mongodb"
	DriverArangoDB = "arangodb"
)

// DatabaseConfig holds connection settings for the schema store.
// Host is "host:port" or a full connection URL.
type DatabaseConfig struct {
	Driver      string        `env:"DB_DRIVER" envDefault:"mongodb" json:"driver"`
	Host        string        `env:"DB_HOST" json:"host"`
	Name        string        `env:"DB_NAME" json:"name"`
	User        string        `env:"DB_USER" json:"user"`
	Password    string        `env:"DB_PASSWORD" json:"-"`
	Timeout     time.Duration `env:"DB_TIMEOUT" envDefault:"30s" json:"timeout"`
	MaxPoolSize uint64        `env:"DB_MAX_POOL_SIZE" envDefault:"10" json:"max_pool_size"`
}

// JournalConfig configures the optional Redis Streams run journal
type JournalConfig struct {
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" json:"redis_db"`
	Stream        string `env:"JOURNAL_STREAM" envDefault:"schema-migrator:runs" json:"stream"`
	MaxLen        int64  `env:"JOURNAL_MAX_LEN" envDefault:"10000" json:"max_len"`
}

// Enabled reports whether a Redis address was configured
func (j JournalConfig) Enabled() bool {
	return j.RedisAddr != ""
}

// Config is the resolved configuration of one invocation
type Config struct {
	SchemaPath       string `env:"SCHEMA_PATH" envDefault:"./config/db" json:"schema_path"`
	LedgerCollection string `env:"LEDGER_COLLECTION" envDefault:"MigratorLedger" json:"ledger_collection"`
	// IdempotentCreate makes create operations skip objects that already exist.
	IdempotentCreate bool `env:"IDEMPOTENT_CREATE" envDefault:"false" json:"idempotent_create"`

	Database DatabaseConfig `json:"database"`
	Journal  JournalConfig  `json:"journal"`
	Log      logger.Config  `json:"-"`
}

// Overrides carries command-line values. Empty fields leave the configuration untouched.
type Overrides struct {
	SchemaPath       string
	LedgerCollection string
	Driver           string
	Host             string
	Name             string
	User             string
	Password         string
	LogLevel         string
}

// LoadConfig reads the environment and applies defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.NewValidationError("failed to load configuration from environment").
			WithCause(err).
			WithComponent("config")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overlays non-empty overrides and re-validates
func (c *Config) Apply(o Overrides) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.SchemaPath, o.SchemaPath)
	set(&c.LedgerCollection, o.LedgerCollection)
	set(&c.Database.Driver, o.Driver)
	set(&c.Database.Host, o.Host)
	set(&c.Database.Name, o.Name)
	set(&c.Database.User, o.User)
	set(&c.Database.Password, o.Password)
	set(&c.Log.Level, o.LogLevel)

	c.normalize()
	return c.Validate()
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMongoDB
	}
	if c.LedgerCollection == "" {
		c.LedgerCollection = "MigratorLedger"
	}
	if c.SchemaPath == "" {
		c.SchemaPath = "./config/db"
	}
}

// Validate checks settings every command needs
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMongoDB, DriverArangoDB:
	default:
		return errors.NewValidationError(fmt.Sprintf("unsupported DB_DRIVER %q (want %s or %s)",
			c.Database.Driver, DriverMongoDB, DriverArangoDB)).
			WithComponent("config").
			WithDetail("driver", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return errors.NewValidationError("DB_TIMEOUT must be positive").WithComponent("config")
	}
	return nil
}

// ValidateDatabase checks the settings needed to connect. check and
// create_migration never call it.
func (c *Config) ValidateDatabase() error {
	var missing []string
	if c.Database.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Database.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("missing database settings: "+strings.Join(missing, ", ")).
			WithComponent("config").
			WithDetail("missing", missing)
	}
	return nil
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	password := ""
	if c.Database.Password != "" {
		password = "****"
	}
	return fmt.Sprintf("driver=%s host=%s db=%s user=%s password=%s schema=%s ledger=%s journal=%t",
		c.Database.Driver, c.Database.Host, c.Database.Name, c.Database.User, password,
		c.SchemaPath, c.LedgerCollection, c.Journal.Enabled())
}
