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
logging:
  development: false
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  min_delay_ms: 10
  max_delay_ms: 20
  user_agent: test-agent
  verify_ssl: false
cache:
  dir: /tmp/wage-cache
  ttl_hours: 2
census:
  base_url: https://census.example.com/data
  api_key: secret
source:
  base_url: https://wages.example.com
scrape:
  workers: 3
pipeline:
  target_states: ["01", "AL", "13"]
  min_success_rate: 0.5
db:
  dsn: postgres://etl@localhost/etl
archive:
  provider: local
  base_dir: /tmp/pages
csv:
  enabled: true
  dir: /tmp/out
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if got := cfg.HTTP.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if cfg.HTTP.MaxRetries != 4 || cfg.HTTP.UserAgent != "test-agent" || cfg.HTTP.VerifySSL {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if got := cfg.Cache.CacheTTL(); got != 2*time.Hour {
		t.Fatalf("expected cache ttl 2h, got %v", got)
	}
	if cfg.Census.APIKey != "secret" || cfg.Source.BaseURL != "https://wages.example.com" {
		t.Fatalf("expected endpoints to load: %+v %+v", cfg.Census, cfg.Source)
	}
	if len(cfg.Pipeline.TargetStates) != 3 || cfg.Pipeline.TargetStates[1] != "AL" {
		t.Fatalf("expected target states, got %v", cfg.Pipeline.TargetStates)
	}
	if cfg.Pipeline.MinSuccessRate != 0.5 || cfg.Scrape.Workers != 3 {
		t.Fatalf("expected pipeline overrides: %+v", cfg.Pipeline)
	}
	if cfg.Archive.Provider != "local" || !cfg.CSV.Enabled {
		t.Fatalf("expected sinks enabled: %+v %+v", cfg.Archive, cfg.CSV)
	}
	// untouched keys keep defaults
	if cfg.HTTP.RateLimitBackoffMs != 4000 || cfg.Transform.MaxNullRatio != 0.10 {
		t.Fatalf("expected defaults to survive: %+v %+v", cfg.HTTP, cfg.Transform)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.UserAgent == "" || cfg.Source.BaseURL == "" || cfg.Census.BaseURL == "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.HTTP.MinDelayMs > cfg.HTTP.MaxDelayMs {
		t.Fatalf("default delays are inverted: %+v", cfg.HTTP)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		HTTP:      HTTPConfig{TimeoutSeconds: 10, MinDelayMs: 1, MaxDelayMs: 2},
		Census:    CensusConfig{BaseURL: "https://census.example.com"},
		Source:    SourceConfig{BaseURL: "https://wages.example.com"},
		Scrape:    ScrapeConfig{Workers: 1},
		Transform: TransformConfig{MaxNullRatio: 0.1},
		Pipeline:  PipelineConfig{MinSuccessRate: 0.9},
		Server:    ServerConfig{Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{name: "invalid timeout", mut: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative retries", mut: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "inverted delay", mut: func(c *Config) { c.HTTP.MaxDelayMs = 0 }, want: "http.max_delay_ms"},
		{name: "missing census", mut: func(c *Config) { c.Census.BaseURL = " " }, want: "census.base_url"},
		{name: "missing source", mut: func(c *Config) { c.Source.BaseURL = "" }, want: "source.base_url"},
		{name: "no workers", mut: func(c *Config) { c.Scrape.Workers = 0 }, want: "scrape.workers"},
		{name: "null ratio", mut: func(c *Config) { c.Transform.MaxNullRatio = 2 }, want: "transform.max_null_ratio"},
		{name: "success rate", mut: func(c *Config) { c.Pipeline.MinSuccessRate = 1.5 }, want: "pipeline.min_success_rate"},
		{name: "gcs without bucket", mut: func(c *Config) { c.Archive.Provider = "gcs" }, want: "archive.gcs_bucket"},
		{name: "unknown archive", mut: func(c *Config) { c.Archive.Provider = "s3" }, want: "archive.provider"},
		{name: "pubsub without topic", mut: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "invalid port", mut: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
