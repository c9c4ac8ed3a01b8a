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
scheduler:
  workers: 8
  execution_timeout_seconds: 300
  claim_interval_ms: 250
  claim_backoff_seconds: 10
  grace_window_seconds: 30
retry:
  max_retries: 5
  base_delay_seconds: 10
  max_delay_seconds: 120
store:
  provider: postgres
db:
  dsn: postgres://localhost/automation
  max_conns: 10
logs:
  provider: local
  base_dir: /var/log/automation
pubsub:
  provider: pubsub
  project_id: acme-prod
  topic_name: run-completions
headless:
  enabled: true
  nav_timeout_seconds: 30
logging:
  development: false
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
	if cfg.Scheduler.Workers != 8 || cfg.Retry.MaxRetries != 5 {
		t.Fatalf("expected scheduler and retry overrides to apply")
	}
	if cfg.Store.Provider != "postgres" || cfg.DB.DSN == "" {
		t.Fatalf("expected postgres store config: %+v", cfg.Store)
	}
	if cfg.Logs.Provider != "local" || cfg.Logs.BaseDir != "/var/log/automation" {
		t.Fatalf("expected local log store config: %+v", cfg.Logs)
	}
	if cfg.PubSub.TopicName != "run-completions" {
		t.Fatalf("expected pubsub overrides to apply: %+v", cfg.PubSub)
	}
	if got := cfg.ExecutionTimeout(); got != 300*time.Second {
		t.Fatalf("expected execution timeout 300s, got %v", got)
	}
	if got := cfg.ClaimInterval(); got != 250*time.Millisecond {
		t.Fatalf("expected claim interval 250ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Scheduler.Workers != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Store.Provider != "memory" || cfg.PubSub.Provider != "noop" {
		t.Fatalf("unexpected provider defaults: store=%s pubsub=%s", cfg.Store.Provider, cfg.PubSub.Provider)
	}
	if got := cfg.GraceWindow(); got != time.Minute {
		t.Fatalf("expected grace window 1m, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Scheduler: SchedulerConfig{Workers: 4, ExecutionTimeoutSec: 600},
		Store:     StoreConfig{Provider: "memory"},
		Logs:      LogsConfig{Provider: "memory"},
		PubSub:    PubSubConfig{Provider: "noop"},
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
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Scheduler.Workers = 0
				return c
			}(),
			want: "scheduler.workers",
		},
		{
			name: "invalid execution timeout",
			cfg: func() Config {
				c := base
				c.Scheduler.ExecutionTimeoutSec = 0
				return c
			}(),
			want: "scheduler.execution_timeout_seconds",
		},
		{
			name: "negative max retries",
			cfg: func() Config {
				c := base
				c.Retry.MaxRetries = -1
				return c
			}(),
			want: "retry.max_retries",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Store.Provider = "postgres"
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "unknown store provider",
			cfg: func() Config {
				c := base
				c.Store.Provider = "etcd"
				return c
			}(),
			want: "store.provider",
		},
		{
			name: "local logs without base dir",
			cfg: func() Config {
				c := base
				c.Logs.Provider = "local"
				return c
			}(),
			want: "logs.base_dir",
		},
		{
			name: "gcs logs without bucket",
			cfg: func() Config {
				c := base
				c.Logs.Provider = "gcs"
				return c
			}(),
			want: "logs.gcs_bucket",
		},
		{
			name: "pubsub without topic",
			cfg: func() Config {
				c := base
				c.PubSub.Provider = "pubsub"
				return c
			}(),
			want: "pubsub.project_id",
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
