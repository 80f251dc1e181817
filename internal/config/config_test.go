package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
sources:
  dof:
    base_url: https://dof.example.gob.mx/index
    display_name: Diario Oficial
rate_limit:
  default_rps: 3
  concurrency: 6
  per_domain_max: 3
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  user_agent: real-agent
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 70
storage:
  backend: gcsblob
  gcs_bucket: bucket
  prefix: logs
  content_type: text/plain
queue:
  backend: pubsub
  project_id: proj-1
  topic_name: completions
logging:
  development: false
jobs:
  daily-dof:
    source_id: dof
    mode: today
    max_results: 100
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.RateLimit.Concurrency != 6 {
		t.Fatalf("expected rate_limit overrides to apply, got %+v", cfg.RateLimit)
	}
	src, ok := cfg.Sources["dof"]
	if !ok || src.BaseURL != "https://dof.example.gob.mx/index" {
		t.Fatalf("expected dof source to be loaded: %+v", cfg.Sources)
	}
	job, ok := cfg.Jobs["daily-dof"]
	if !ok || job.SourceID != "dof" || job.MaxResults != 100 {
		t.Fatalf("expected job default to be loaded: %+v", cfg.Jobs)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		RateLimit: RateLimitConfig{Concurrency: 1},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.RateLimit.Concurrency = 0
				return c
			}(),
			want: "rate_limit.concurrency",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "source missing base url",
			cfg: func() Config {
				c := base
				c.Sources = map[string]SourceConfig{"dof": {}}
				return c
			}(),
			want: "sources.dof.base_url",
		},
		{
			name: "pubsub queue missing project",
			cfg: func() Config {
				c := base
				c.Queue = QueueConfig{Backend: "pubsub"}
				return c
			}(),
			want: "queue.project_id",
		},
		{
			name: "gcsblob storage missing bucket",
			cfg: func() Config {
				c := base
				c.Storage = StorageConfig{Backend: "gcsblob"}
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "postgres storage missing dsn",
			cfg: func() Config {
				c := base
				c.Storage = StorageConfig{Backend: "postgres"}
				return c
			}(),
			want: "db.dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
