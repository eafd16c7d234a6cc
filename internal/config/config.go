// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverRedis  = "redis"
	DriverPebble = "pebble"
	DriverSQL    = "sql"
)

// Propagation modes.
const (
	PropagationSync  = "sync"
	PropagationAsync = "async"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	StoreDriver    string `mapstructure:"STORE_DRIVER"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	PebblePath     string `mapstructure:"PEBBLE_PATH"`
	DBDialect      string `mapstructure:"DB_DIALECT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	MaxTxAttempts  int    `mapstructure:"STORE_MAX_TX_ATTEMPTS"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	PropagationMode            string        `mapstructure:"PROPAGATION_MODE"`
	PropagationCheckpointEvery int           `mapstructure:"PROPAGATION_CHECKPOINT_EVERY"`
	PropagationRate            float64       `mapstructure:"PROPAGATION_RATE"`
	PropagationPollInterval    time.Duration `mapstructure:"PROPAGATION_POLL_INTERVAL"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverRedis)
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("PEBBLE_PATH", "data/tagapp")
	v.SetDefault("DB_DIALECT", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "tagapp")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "tagapp.db")
	v.SetDefault("STORE_MAX_TX_ATTEMPTS", 16)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PROPAGATION_MODE", PropagationSync)
	v.SetDefault("PROPAGATION_CHECKPOINT_EVERY", 50)
	v.SetDefault("PROPAGATION_RATE", 0)
	v.SetDefault("PROPAGATION_POLL_INTERVAL", "30s")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the app runs with a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch c.StoreDriver {
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store driver")
		}
	case DriverPebble:
		if c.PebblePath == "" {
			return errors.New("PEBBLE_PATH is required for the pebble store driver")
		}
	case DriverSQL:
		if c.DBDialect != "postgres" && c.DBDialect != "sqlite" {
			return fmt.Errorf("DB_DIALECT must be postgres or sqlite, got %q", c.DBDialect)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of redis, pebble, sql, got %q", c.StoreDriver)
	}

	if c.PropagationMode != PropagationSync && c.PropagationMode != PropagationAsync {
		return fmt.Errorf("PROPAGATION_MODE must be sync or async, got %q", c.PropagationMode)
	}
	if c.PropagationCheckpointEvery < 1 {
		return errors.New("PROPAGATION_CHECKPOINT_EVERY must be at least 1")
	}
	if c.PropagationRate < 0 {
		return errors.New("PROPAGATION_RATE must not be negative")
	}
	if c.PropagationPollInterval <= 0 {
		return errors.New("PROPAGATION_POLL_INTERVAL must be positive")
	}
	if c.MaxTxAttempts < 1 {
		return errors.New("STORE_MAX_TX_ATTEMPTS must be at least 1")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.StoreDriver == DriverSQL && c.DBDialect == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			return errors.New("ALLOWED_ORIGINS must not be '*' in production")
		}
		if c.StoreDriver == DriverSQL && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	}

	return nil
}

// Origins splits ALLOWED_ORIGINS into trimmed entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
