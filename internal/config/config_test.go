package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  workers: 2
auth:
  enabled: true
  api_key: secret
renderer:
  backend: direct
  timeout_seconds: 20
  max_attempts: 4
crawler:
  max_pages_per_site: 50
  min_delay_ms: 100
  max_delay_ms: 300
  sequential: true
  batch_size: 5
classifier:
  offer_keywords: [angebot, aktion]
sites:
  - name: hondashop
    domain: shop.example.com
    start_urls: ["https://shop.example.com/motorcycles"]
  - name: parts
    domain: parts.example.com
storage:
  backend: local
  local_dir: /tmp/snapshots
pubsub:
  backend: none
logging:
  development: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Server.Workers)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, BackendDirect, cfg.Renderer.Backend)
	require.Equal(t, 20*time.Second, cfg.FetchTimeout())
	require.Equal(t, 50, cfg.Crawler.MaxPagesPerSite)
	require.True(t, cfg.Crawler.Sequential)
	require.Equal(t, 5, cfg.Crawler.BatchSize)
	require.Equal(t, 30, cfg.Crawler.BatchIntervalSeconds, "unset keys keep defaults")
	require.Equal(t, []string{"angebot", "aktion"}, cfg.Classifier.OfferKeywords)
	require.Equal(t, classify.DefaultRules().ExcludedKeywords, cfg.Classifier.ExcludedKeywords)
	require.Len(t, cfg.Sites, 2)
	require.Equal(t, []string{"https://shop.example.com/motorcycles"}, cfg.Sites[0].StartURLs)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.False(t, cfg.Logging.Development)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, BackendService, cfg.Renderer.Backend)
	require.Equal(t, 3, cfg.Renderer.MaxAttempts)
	require.Equal(t, 5, cfg.Renderer.BreakerThreshold)
	require.Equal(t, 2000, cfg.Crawler.MinDelayMs)
	require.Equal(t, 5000, cfg.Crawler.MaxDelayMs)
	require.Equal(t, 10, cfg.Crawler.BatchSize)
	require.False(t, cfg.Crawler.StrictTrackedLoad)
	require.Equal(t, BackendNone, cfg.Storage.Backend)
	require.Equal(t, BackendMemory, cfg.PubSub.Backend)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SUPPLIER_CRAWLER_BATCH_SIZE", "25")
	t.Setenv("SUPPLIER_RENDERER_ENDPOINT", "http://render:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Crawler.BatchSize)
	require.Equal(t, "http://render:9000", cfg.Renderer.Endpoint)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Port", func(c *Config) { c.Server.Port = 0 }},
		{"AuthKey", func(c *Config) { c.Auth.Enabled = true }},
		{"Backend", func(c *Config) { c.Renderer.Backend = "lynx" }},
		{"Endpoint", func(c *Config) { c.Renderer.Endpoint = "" }},
		{"DelayWindow", func(c *Config) { c.Crawler.MinDelayMs = 10; c.Crawler.MaxDelayMs = 5 }},
		{"BatchSize", func(c *Config) { c.Crawler.BatchSize = 0 }},
		{"SiteDomain", func(c *Config) { c.Sites = append(c.Sites, testSite("a", "")) }},
		{"DuplicateSite", func(c *Config) {
			c.Sites = append(c.Sites, testSite("a", "a.example.com"), testSite("a", "b.example.com"))
		}},
		{"SiteRPS", func(c *Config) {
			site := testSite("a", "a.example.com")
			site.RPS = -1
			c.Sites = append(c.Sites, site)
		}},
		{"GCSBucket", func(c *Config) { c.Storage.Backend = BackendGCS }},
		{"PubSubProject", func(c *Config) { c.PubSub.Backend = BackendPubSub }},
		{"TraceRatio", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Sites = nil
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSelectSites(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.Sites = append(cfg.Sites, testSite("alpha", "a.example.com"), testSite("beta", "b.example.com"))

	all, err := cfg.SelectSites(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	some, err := cfg.SelectSites([]string{"Beta"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.Equal(t, "beta", some[0].Name)

	_, err = cfg.SelectSites([]string{"gamma"})
	require.ErrorContains(t, err, "gamma")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testSite(name, domain string) crawler.Site {
	return crawler.Site{Name: name, Domain: domain}
}
