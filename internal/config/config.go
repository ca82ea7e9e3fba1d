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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Results    ResultsConfig    `mapstructure:"results"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles. Unauthenticated callers are
// demo-gated rather than rejected.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs traversal behavior.
type CrawlerConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	DelayMs         int    `mapstructure:"delay_ms"`
	IgnoreRobots    bool   `mapstructure:"ignore_robots"`
	MaxDepthDefault int    `mapstructure:"max_depth_default"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	DemoMaxPages    int    `mapstructure:"demo_max_pages"`
}

// HTTPConfig configures the page fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// RateLimitConfig sets the process-wide fetch rate.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Headless modes.
const (
	HeadlessOff    = "off"
	HeadlessAuto   = "auto"
	HeadlessAlways = "always"
)

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	// Mode is off, auto (promote pages that look script-rendered), or always.
	Mode               string `mapstructure:"mode"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	SettleMs           int    `mapstructure:"settle_ms"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
}

// ExtractConfig bounds extracted text.
type ExtractConfig struct {
	MaxContentChars     int `mapstructure:"max_content_chars"`
	MaxDescriptionChars int `mapstructure:"max_description_chars"`
}

// ProgressConfig shapes the progress stream.
type ProgressConfig struct {
	HeartbeatMs          int `mapstructure:"heartbeat_ms"`
	HeartbeatStep        int `mapstructure:"heartbeat_step"`
	CrawlCeiling         int `mapstructure:"crawl_ceiling"`
	CrawlOnlyCeiling     int `mapstructure:"crawl_only_ceiling"`
	EnrichmentBase       int `mapstructure:"enrichment_base"`
	EnrichmentSpan       int `mapstructure:"enrichment_span"`
	AsyncPromptThreshold int `mapstructure:"async_prompt_threshold"`
}

// EnrichmentConfig configures the completion client and its buckets.
type EnrichmentConfig struct {
	Endpoint            string  `mapstructure:"endpoint"`
	Model               string  `mapstructure:"model"`
	APIKey              string  `mapstructure:"api_key"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	MaxTokens           int     `mapstructure:"max_tokens"`
	Temperature         float64 `mapstructure:"temperature"`
	GlobalMaxPerWindow  int     `mapstructure:"global_max_per_window"`
	SessionMaxPerWindow int     `mapstructure:"session_max_per_window"`
	WindowSeconds       int     `mapstructure:"window_seconds"`
	MaxContentChars     int     `mapstructure:"max_content_chars"`
}

// ResultsConfig sizes the in-memory result store.
type ResultsConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// Storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// StorageConfig selects where result blobs are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables summary rows.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment. Environment variables use the
// SITEGRAPH_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGRAPH")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", "sitegraph-bot/0.1 (+https://github.com/JakeFAU/sitegraph)")
	v.SetDefault("crawler.delay_ms", 250)
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.max_pages_default", 50)
	v.SetDefault("crawler.demo_max_pages", 5)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("ratelimit.requests_per_second", 2.0)
	v.SetDefault("headless.mode", HeadlessOff)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.max_content_chars", 30000)
	v.SetDefault("extract.max_description_chars", 160)
	v.SetDefault("progress.heartbeat_ms", 2000)
	v.SetDefault("progress.heartbeat_step", 3)
	v.SetDefault("progress.crawl_ceiling", 45)
	v.SetDefault("progress.crawl_only_ceiling", 90)
	v.SetDefault("progress.enrichment_base", 50)
	v.SetDefault("progress.enrichment_span", 45)
	v.SetDefault("progress.async_prompt_threshold", 20)
	v.SetDefault("enrichment.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("enrichment.model", "gpt-4o-mini")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.timeout_seconds", 30)
	v.SetDefault("enrichment.max_tokens", 400)
	v.SetDefault("enrichment.temperature", 0.2)
	v.SetDefault("enrichment.global_max_per_window", 50)
	v.SetDefault("enrichment.session_max_per_window", 20)
	v.SetDefault("enrichment.window_seconds", 60)
	v.SetDefault("enrichment.max_content_chars", 4000)
	v.SetDefault("results.capacity", 256)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "sitegraph-results")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 0 {
		return fmt.Errorf("crawler.max_depth_default must be >= 0")
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		return fmt.Errorf("crawler.max_pages_default must be > 0")
	}
	if c.Crawler.DemoMaxPages <= 0 || c.Crawler.DemoMaxPages > c.Crawler.MaxPagesDefault {
		return fmt.Errorf("crawler.demo_max_pages must be in [1, crawler.max_pages_default]")
	}
	switch c.Headless.Mode {
	case HeadlessOff, "":
	case HeadlessAuto, HeadlessAlways:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
	default:
		return fmt.Errorf("headless.mode %q must be off, auto, or always", c.Headless.Mode)
	}
	if c.Progress.CrawlCeiling > c.Progress.EnrichmentBase {
		return fmt.Errorf("progress.crawl_ceiling must not exceed progress.enrichment_base")
	}
	if c.Progress.EnrichmentBase+c.Progress.EnrichmentSpan > 100 {
		return fmt.Errorf("progress.enrichment_base + progress.enrichment_span must be <= 100")
	}
	if c.Progress.CrawlOnlyCeiling > 100 {
		return fmt.Errorf("progress.crawl_only_ceiling must be <= 100")
	}
	if c.Enrichment.WindowSeconds <= 0 {
		return fmt.Errorf("enrichment.window_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory, "":
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be none, memory, local, or gcs", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// HeadlessEnabled reports whether a browser is needed.
func (c Config) HeadlessEnabled() bool {
	return c.Headless.Mode == HeadlessAuto || c.Headless.Mode == HeadlessAlways
}

// FetchTimeout converts http.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlDelay converts crawler.delay_ms to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// ShutdownTimeout converts server.shutdown_timeout_seconds to a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
