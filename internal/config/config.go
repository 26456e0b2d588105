// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// Render backends.
const (
	BackendService  = "service"
	BackendHeadless = "headless"
	BackendDirect   = "direct"
	BackendHybrid   = "hybrid"
)

// Storage and publisher backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Renderer   RendererConfig `mapstructure:"renderer"`
	Crawler    CrawlerConfig  `mapstructure:"crawler"`
	Classifier classify.Rules `mapstructure:"classifier"`
	Sites      []crawler.Site `mapstructure:"sites"`
	DB         DBConfig       `mapstructure:"db"`
	Storage    StorageConfig  `mapstructure:"storage"`
	PubSub     PubSubConfig   `mapstructure:"pubsub"`
	Progress   ProgressConfig `mapstructure:"progress"`
	Tracing    TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the HTTP server and the run workers behind it.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RendererConfig selects the render backend and the resilience around it.
type RendererConfig struct {
	Backend             string `mapstructure:"backend"`
	Endpoint            string `mapstructure:"endpoint"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	RenderJS            bool   `mapstructure:"render_js"`
	Stealth             bool   `mapstructure:"stealth"`
	ProxyURL            string `mapstructure:"proxy_url"`
	UserAgent           string `mapstructure:"user_agent"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
	PromotionMinText    int    `mapstructure:"promotion_min_text"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BackoffInitialMs    int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	BreakerThreshold    int    `mapstructure:"breaker_failure_threshold"`
	BreakerCooldownSec  int    `mapstructure:"breaker_cooldown_seconds"`
}

// CrawlerConfig holds the crawl defaults that runs may override.
type CrawlerConfig struct {
	MaxPagesPerSite      int     `mapstructure:"max_pages_per_site"`
	MinDelayMs           int     `mapstructure:"min_delay_ms"`
	MaxDelayMs           int     `mapstructure:"max_delay_ms"`
	DomainRPS            float64 `mapstructure:"domain_rps"`
	DomainBurst          int     `mapstructure:"domain_burst"`
	Sequential           bool    `mapstructure:"sequential"`
	SiteCooldownSeconds  int     `mapstructure:"site_cooldown_seconds"`
	BatchSize            int     `mapstructure:"batch_size"`
	BatchIntervalSeconds int     `mapstructure:"batch_interval_seconds"`
	StrictTrackedLoad    bool    `mapstructure:"strict_tracked_load"`
}

// DBConfig controls access to the catalog database. An empty DSN selects the
// in-memory catalog.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// StorageConfig selects where HTML snapshots of discoveries are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds where detection reports are published.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	BatchMaxEvents int `mapstructure:"batch_max_events"`
	BatchMaxWaitMs int `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// TracingConfig toggles OpenTelemetry span recording.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUPPLIER")
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
	rules := classify.DefaultRules()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("renderer.backend", BackendService)
	v.SetDefault("renderer.endpoint", "http://localhost:8000")
	v.SetDefault("renderer.timeout_seconds", 60)
	v.SetDefault("renderer.render_js", true)
	v.SetDefault("renderer.stealth", true)
	v.SetDefault("renderer.user_agent", "supplierwatch/0.1")
	v.SetDefault("renderer.respect_robots", false)
	v.SetDefault("renderer.headless_max_parallel", 2)
	v.SetDefault("renderer.promotion_min_text", 512)
	v.SetDefault("renderer.max_attempts", 3)
	v.SetDefault("renderer.backoff_initial_ms", 1000)
	v.SetDefault("renderer.backoff_max_ms", 10000)
	v.SetDefault("renderer.breaker_failure_threshold", 5)
	v.SetDefault("renderer.breaker_cooldown_seconds", 60)
	v.SetDefault("crawler.max_pages_per_site", 200)
	v.SetDefault("crawler.min_delay_ms", 2000)
	v.SetDefault("crawler.max_delay_ms", 5000)
	v.SetDefault("crawler.domain_rps", 1.0)
	v.SetDefault("crawler.domain_burst", 1)
	v.SetDefault("crawler.sequential", false)
	v.SetDefault("crawler.site_cooldown_seconds", 30)
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.batch_interval_seconds", 30)
	v.SetDefault("crawler.strict_tracked_load", false)
	v.SetDefault("classifier.excluded_keywords", rules.ExcludedKeywords)
	v.SetDefault("classifier.offer_keywords", rules.OfferKeywords)
	v.SetDefault("classifier.model_prefixes", rules.ModelPrefixes)
	v.SetDefault("classifier.purchase_phrases", rules.PurchasePhrases)
	v.SetDefault("classifier.static_extensions", rules.StaticExtensions)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local_dir", "snapshots")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("pubsub.backend", BackendMemory)
	v.SetDefault("pubsub.topic_name", "supplier-detections")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_max_events", 200)
	v.SetDefault("progress.batch_max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "supplier-discovery")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return errors.New("server.workers must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Renderer.Backend {
	case BackendService:
		if c.Renderer.Endpoint == "" {
			return errors.New("renderer.endpoint is required for the service backend")
		}
	case BackendHeadless, BackendDirect, BackendHybrid:
	default:
		return fmt.Errorf("renderer.backend %q is not one of service, headless, direct, hybrid", c.Renderer.Backend)
	}
	if c.Renderer.TimeoutSeconds <= 0 {
		return errors.New("renderer.timeout_seconds must be > 0")
	}
	if c.Renderer.MaxAttempts <= 0 {
		return errors.New("renderer.max_attempts must be > 0")
	}
	if c.Renderer.BreakerThreshold <= 0 {
		return errors.New("renderer.breaker_failure_threshold must be > 0")
	}
	if c.Crawler.MaxPagesPerSite <= 0 {
		return errors.New("crawler.max_pages_per_site must be > 0")
	}
	if c.Crawler.MinDelayMs < 0 || c.Crawler.MaxDelayMs < c.Crawler.MinDelayMs {
		return errors.New("crawler delay window must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}
	if c.Crawler.BatchSize <= 0 {
		return errors.New("crawler.batch_size must be > 0")
	}
	if c.Crawler.BatchIntervalSeconds <= 0 {
		return errors.New("crawler.batch_interval_seconds must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		if site.Name == "" || site.Domain == "" {
			return fmt.Errorf("sites[%d] requires name and domain", i)
		}
		if site.RPS < 0 {
			return fmt.Errorf("sites[%d]: rps must be >= 0", i)
		}
		if _, dup := seen[site.Name]; dup {
			return fmt.Errorf("sites[%d]: duplicate site name %q", i, site.Name)
		}
		seen[site.Name] = struct{}{}
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	switch c.PubSub.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return errors.New("pubsub.project_id and pubsub.topic_name are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("pubsub.backend %q is not one of none, memory, pubsub", c.PubSub.Backend)
	}
	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return errors.New("tracing.service_name is required when tracing is enabled")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return errors.New("tracing.sample_ratio must be within 0..1")
		}
	}
	return nil
}

// SelectSites returns the configured sites named in names, in configuration
// order. An empty names list selects every site.
func (c Config) SelectSites(names []string) ([]crawler.Site, error) {
	if len(names) == 0 {
		return append([]crawler.Site(nil), c.Sites...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = false
	}
	var out []crawler.Site
	for _, site := range c.Sites {
		key := strings.ToLower(site.Name)
		if _, ok := want[key]; ok {
			out = append(out, site)
			want[key] = true
		}
	}
	for name, found := range want {
		if !found {
			return nil, fmt.Errorf("unknown site %q", name)
		}
	}
	return out, nil
}

// FetchTimeout is the per-attempt render timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Renderer.TimeoutSeconds) * time.Second
}
