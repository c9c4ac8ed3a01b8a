// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Logs      LogsConfig      `mapstructure:"logs"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the dispatch loop.
type SchedulerConfig struct {
	Workers             int `mapstructure:"workers"`
	ExecutionTimeoutSec int `mapstructure:"execution_timeout_seconds"`
	ClaimIntervalMs     int `mapstructure:"claim_interval_ms"`
	ClaimBackoffSec     int `mapstructure:"claim_backoff_seconds"`
	GraceWindowSec      int `mapstructure:"grace_window_seconds"`
}

// RetryConfig governs the retry policy for failed runs.
type RetryConfig struct {
	MaxRetries   int `mapstructure:"max_retries"`
	BaseDelaySec int `mapstructure:"base_delay_seconds"`
	MaxDelaySec  int `mapstructure:"max_delay_seconds"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// LogsConfig selects where execution logs are persisted.
type LogsConfig struct {
	Provider  string `mapstructure:"provider"` // memory | local | gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"` // noop | memory | pubsub
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HeadlessConfig configures the browser executor.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	ChromeVisible bool `mapstructure:"chrome_visible"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOMATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.execution_timeout_seconds", 600)
	v.SetDefault("scheduler.claim_interval_ms", 1000)
	v.SetDefault("scheduler.claim_backoff_seconds", 5)
	v.SetDefault("scheduler.grace_window_seconds", 60)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_seconds", 30)
	v.SetDefault("retry.max_delay_seconds", 600)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("logs.provider", "memory")
	v.SetDefault("pubsub.provider", "noop")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.ExecutionTimeoutSec <= 0 {
		return fmt.Errorf("scheduler.execution_timeout_seconds must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Logs.Provider {
	case "memory":
	case "local":
		if c.Logs.BaseDir == "" {
			return fmt.Errorf("logs.base_dir must be set when logs.provider is local")
		}
	case "gcs":
		if c.Logs.GCSBucket == "" {
			return fmt.Errorf("logs.gcs_bucket must be set when logs.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown logs.provider %q", c.Logs.Provider)
	}
	switch c.PubSub.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown pubsub.provider %q", c.PubSub.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ExecutionTimeout converts the scheduler timeout knob to a duration.
func (c Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Scheduler.ExecutionTimeoutSec) * time.Second
}

// ClaimInterval converts the claim polling knob to a duration.
func (c Config) ClaimInterval() time.Duration {
	return time.Duration(c.Scheduler.ClaimIntervalMs) * time.Millisecond
}

// ClaimBackoff converts the claim-error backoff knob to a duration.
func (c Config) ClaimBackoff() time.Duration {
	return time.Duration(c.Scheduler.ClaimBackoffSec) * time.Second
}

// GraceWindow converts the past-schedule tolerance knob to a duration.
func (c Config) GraceWindow() time.Duration {
	return time.Duration(c.Scheduler.GraceWindowSec) * time.Second
}

// NavTimeout converts the headless navigation knob to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// BaseDelay converts the retry base-delay knob to a duration.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySec) * time.Second
}

// MaxDelay converts the retry delay ceiling knob to a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySec) * time.Second
}

// MaxConnLifetime converts the pool lifetime knob to a duration.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMin) * time.Minute
}
