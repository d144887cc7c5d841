// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. Every
// value has a documented default so the pipeline degrades gracefully instead
// of failing to start.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Bus          BusConfig          `mapstructure:"bus"`
	Repository   RepositoryConfig   `mapstructure:"repository"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetcherConfig governs fetch mode, politeness and retry behavior.
type FetcherConfig struct {
	HTTPOnly          bool   `mapstructure:"http_only"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RequestDelayMs    int    `mapstructure:"request_delay_ms"`
	BackoffInitialMs  int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int    `mapstructure:"backoff_max_ms"`
	MaxParallelRender int    `mapstructure:"max_parallel_render"`
}

// OrchestratorConfig bounds job execution.
type OrchestratorConfig struct {
	ConcurrencyLimit int    `mapstructure:"concurrency_limit"`
	MaxAutoRetries   int    `mapstructure:"max_auto_retries"`
	ArchivePrefix    string `mapstructure:"archive_prefix"`
}

// CacheConfig sets TTL tiers and sweep cadence.
type CacheConfig struct {
	TTLShortSeconds      int `mapstructure:"ttl_short_seconds"`
	TTLMediumSeconds     int `mapstructure:"ttl_medium_seconds"`
	TTLLongSeconds       int `mapstructure:"ttl_long_seconds"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// BusConfig bounds subscriber queue depth.
type BusConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// RepositoryConfig selects and configures the persistence collaborator.
type RepositoryConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// ArchiveConfig selects the raw snapshot store.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for the cross-process event bridge.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("fetcher.http_only", false)
	v.SetDefault("fetcher.user_agent", "zonedesk-ingest/0.1")
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.request_delay_ms", 1500)
	v.SetDefault("fetcher.backoff_initial_ms", 250)
	v.SetDefault("fetcher.backoff_max_ms", 5000)
	v.SetDefault("fetcher.max_parallel_render", 1)
	v.SetDefault("orchestrator.concurrency_limit", 3)
	v.SetDefault("orchestrator.max_auto_retries", 1)
	v.SetDefault("orchestrator.archive_prefix", "snapshots")
	v.SetDefault("cache.ttl_short_seconds", 300)
	v.SetDefault("cache.ttl_medium_seconds", 1800)
	v.SetDefault("cache.ttl_long_seconds", 21600)
	v.SetDefault("cache.sweep_interval_seconds", 60)
	v.SetDefault("bus.subscriber_buffer", 256)
	v.SetDefault("repository.provider", "memory")
	v.SetDefault("repository.table", "records")
	v.SetDefault("archive.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Orchestrator.ConcurrencyLimit <= 0 {
		return fmt.Errorf("orchestrator.concurrency_limit must be > 0")
	}
	switch c.Repository.Provider {
	case "memory":
	case "postgres":
		if c.Repository.DSN == "" {
			return fmt.Errorf("repository.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown repository provider %q", c.Repository.Provider)
	}
	switch c.Archive.Provider {
	case "memory", "none":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local provider")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	return nil
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RequestDelay converts the politeness delay into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Fetcher.RequestDelayMs) * time.Millisecond
}

// SweepInterval converts the cache sweep cadence into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalSeconds) * time.Second
}
