package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.DemoMaxPages != 5 || cfg.Crawler.MaxPagesDefault != 50 {
		t.Fatalf("unexpected page caps: %+v", cfg.Crawler)
	}
	if cfg.RateLimit.RequestsPerSecond != 2 {
		t.Fatalf("expected 2 rps, got %v", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.Progress.HeartbeatMs != 2000 || cfg.Progress.AsyncPromptThreshold != 20 {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
	if cfg.Enrichment.GlobalMaxPerWindow != 50 || cfg.Enrichment.SessionMaxPerWindow != 20 {
		t.Fatalf("unexpected bucket defaults: %+v", cfg.Enrichment)
	}
	if cfg.HeadlessEnabled() {
		t.Fatal("expected headless to be off by default")
	}
	if got := cfg.CrawlDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms crawl delay, got %v", got)
	}
	if got := cfg.FetchTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s fetch timeout, got %v", got)
	}
}

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
crawler:
  user_agent: test-agent
  delay_ms: 0
  ignore_robots: true
  max_pages_default: 100
  demo_max_pages: 10
ratelimit:
  requests_per_second: 5
headless:
  mode: auto
  max_parallel: 2
enrichment:
  model: gpt-test
  session_max_per_window: 5
storage:
  backend: local
  local_dir: /tmp/results
pubsub:
  project_id: proj
  topic_name: crawls
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
	if cfg.Crawler.DemoMaxPages != 10 || !cfg.Crawler.IgnoreRobots || cfg.CrawlDelay() != 0 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 {
		t.Fatalf("expected 5 rps, got %v", cfg.RateLimit.RequestsPerSecond)
	}
	if !cfg.HeadlessEnabled() || cfg.Headless.MaxParallel != 2 {
		t.Fatalf("expected headless auto: %+v", cfg.Headless)
	}
	if cfg.Enrichment.Model != "gpt-test" || cfg.Enrichment.SessionMaxPerWindow != 5 {
		t.Fatalf("expected enrichment overrides: %+v", cfg.Enrichment)
	}
	if cfg.Enrichment.GlobalMaxPerWindow != 50 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Enrichment.GlobalMaxPerWindow)
	}
	if cfg.Storage.Backend != StorageLocal || cfg.PubSub.TopicName != "crawls" {
		t.Fatalf("expected storage/pubsub overrides: %+v %+v", cfg.Storage, cfg.PubSub)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITEGRAPH_SERVER_PORT", "7070")
	t.Setenv("SITEGRAPH_CRAWLER_DEMO_MAX_PAGES", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.DemoMaxPages != 3 {
		t.Fatalf("expected env demo cap 3, got %d", cfg.Crawler.DemoMaxPages)
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
		Server:     ServerConfig{Port: 8080},
		HTTP:       HTTPConfig{TimeoutSeconds: 10},
		Crawler:    CrawlerConfig{MaxPagesDefault: 50, DemoMaxPages: 5},
		Progress:   ProgressConfig{CrawlCeiling: 45, CrawlOnlyCeiling: 90, EnrichmentBase: 50, EnrichmentSpan: 45},
		Enrichment: EnrichmentConfig{WindowSeconds: 60},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative depth", mutate: func(c *Config) { c.Crawler.MaxDepthDefault = -1 }, want: "crawler.max_depth_default"},
		{name: "demo above default", mutate: func(c *Config) { c.Crawler.DemoMaxPages = 51 }, want: "crawler.demo_max_pages"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Mode = HeadlessAlways
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "unknown headless mode", mutate: func(c *Config) { c.Headless.Mode = "sometimes" }, want: "headless.mode"},
		{name: "ceiling above base", mutate: func(c *Config) { c.Progress.CrawlCeiling = 60 }, want: "progress.crawl_ceiling"},
		{name: "span overflow", mutate: func(c *Config) { c.Progress.EnrichmentSpan = 60 }, want: "enrichment_span"},
		{name: "zero window", mutate: func(c *Config) { c.Enrichment.WindowSeconds = 0 }, want: "enrichment.window_seconds"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub.topic_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
