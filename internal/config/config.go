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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// TelegramConfig points at the channel gateway.
type TelegramConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	Channel    string `mapstructure:"channel"`
}

// PipelineConfig governs queue and worker behavior.
type PipelineConfig struct {
	QueueDepth     int `mapstructure:"queue_depth"`
	Workers        int `mapstructure:"workers"`
	ParseRetries   int `mapstructure:"parse_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	TokenBudget    int `mapstructure:"token_budget"`
}

// OpenAIConfig configures the extraction service client.
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the TimescaleDB instance.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinOpenConns int    `mapstructure:"min_open_conns"`
	InitSchema   bool   `mapstructure:"init_schema"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig sets the raw-event archive location.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ShutdownConfig holds the staged teardown timeouts.
type ShutdownConfig struct {
	DrainSeconds    int `mapstructure:"drain_seconds"`
	CancelSeconds   int `mapstructure:"cancel_seconds"`
	WatchdogSeconds int `mapstructure:"watchdog_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WHALE")
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
	v.SetDefault("telegram.channel", "whale_alert")
	v.SetDefault("pipeline.queue_depth", 1000)
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.parse_retries", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 1000)
	v.SetDefault("pipeline.token_budget", 8000)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout_seconds", 60)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.min_open_conns", 1)
	v.SetDefault("db.init_schema", false)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "whale-alerts")
	v.SetDefault("storage.prefix", "events")
	v.SetDefault("shutdown.drain_seconds", 5)
	v.SetDefault("shutdown.cancel_seconds", 2)
	v.SetDefault("shutdown.watchdog_seconds", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Telegram.GatewayURL == "" {
		return fmt.Errorf("telegram.gateway_url is required")
	}
	if c.Telegram.Channel == "" {
		return fmt.Errorf("telegram.channel is required")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.ParseRetries <= 0 {
		return fmt.Errorf("pipeline.parse_retries must be > 0")
	}
	if c.Pipeline.TokenBudget <= 0 {
		return fmt.Errorf("pipeline.token_budget must be > 0")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.Shutdown.DrainSeconds <= 0 || c.Shutdown.CancelSeconds <= 0 || c.Shutdown.WatchdogSeconds <= 0 {
		return fmt.Errorf("shutdown timeouts must be > 0")
	}
	return nil
}

// RetryBackoff returns the parser retry base delay.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMs) * time.Millisecond
}

// DrainTimeout returns the drain window.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.Shutdown.DrainSeconds) * time.Second
}

// CancelTimeout returns the force-cancel window.
func (c Config) CancelTimeout() time.Duration {
	return time.Duration(c.Shutdown.CancelSeconds) * time.Second
}

// WatchdogTimeout returns the watchdog window.
func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Shutdown.WatchdogSeconds) * time.Second
}

// OpenAITimeout returns the extraction request timeout.
func (c Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}
