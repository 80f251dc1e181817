// Package config loads and validates the acquisition service's
// configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig                `mapstructure:"server"`
	Auth        AuthConfig                  `mapstructure:"auth"`
	Sources     map[string]SourceConfig     `mapstructure:"sources"`
	RateLimit   RateLimitConfig             `mapstructure:"rate_limit"`
	HTTP        HTTPConfig                  `mapstructure:"http"`
	Headless    HeadlessConfig              `mapstructure:"headless"`
	Storage     StorageConfig               `mapstructure:"storage"`
	DB          DBConfig                    `mapstructure:"db"`
	Queue       QueueConfig                 `mapstructure:"queue"`
	Persistence PersistenceConfig           `mapstructure:"persistence"`
	Logging     LoggingConfig               `mapstructure:"logging"`
	Jobs        map[string]JobDefaultConfig `mapstructure:"jobs"`
}

// ServerConfig controls the control-surface HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the control surface.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes one acquisition source: where its adapter reaches
// and what it's called in logs/metrics. One entry per source ID (dof, scjn,
// bjv, cas) lives under the "sources" key.
type SourceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	DisplayName string `mapstructure:"display_name"`
}

// RateLimitConfig governs per-source request pacing, shared across all
// fetch workers for a job unless a job's own pipeline.Config overrides it.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	Concurrency  int     `mapstructure:"concurrency"`
	PerDomainMax int     `mapstructure:"per_domain_max"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless-rendering fallback used when a
// source's markup only materializes after client-side script execution.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig sets the document/blob store backend and its connection
// details. Backend selects between "fs", "postgres", and "gcsblob".
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Directory   string `mapstructure:"directory"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational checkpoint/document store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// QueueConfig holds metadata for the completion-notification publisher.
type QueueConfig struct {
	Backend   string `mapstructure:"backend"` // "pubsub" or "memory"
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PersistenceConfig governs checkpointing cadence independent of any single
// job's CheckpointEvery override.
type PersistenceConfig struct {
	DefaultCheckpointEvery int `mapstructure:"default_checkpoint_every"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	LogRingSize int  `mapstructure:"log_ring_size"`
}

// JobDefaultConfig seeds a pipeline.Config for a named recurring job
// (e.g. a daily dof run), analogous to the teacher's standard_jobs map but
// keyed by source rather than by crawl target.
type JobDefaultConfig struct {
	SourceID        string            `mapstructure:"source_id"`
	Mode            string            `mapstructure:"mode"`
	Category        string            `mapstructure:"category"`
	Scope           string            `mapstructure:"scope"`
	Status          string            `mapstructure:"status"`
	Filters         map[string]string `mapstructure:"filters"`
	MaxResults      int               `mapstructure:"max_results"`
	OutputDirectory string            `mapstructure:"output_directory"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
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
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.concurrency", 4)
	v.SetDefault("rate_limit.per_domain_max", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.user_agent", "lexatlas-pipeline/0.1")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.directory", "./data")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("persistence.default_checkpoint_every", 25)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.log_ring_size", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RateLimit.Concurrency <= 0 {
		return fmt.Errorf("rate_limit.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for id, src := range c.Sources {
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url must be set", id)
		}
	}
	if c.Queue.Backend == "pubsub" && (c.Queue.ProjectID == "" || c.Queue.TopicName == "") {
		return fmt.Errorf("queue.project_id and queue.topic_name must be set when queue.backend is pubsub")
	}
	if c.Storage.Backend == "gcsblob" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcsblob")
	}
	if c.Storage.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
	}
	return nil
}

// HTTPTimeout converts the configured timeout into a time.Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
