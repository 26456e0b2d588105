// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Site is one supplier website monitored by the engine.
type Site struct {
	Name      string   `json:"name" mapstructure:"name"`
	Domain    string   `json:"domain" mapstructure:"domain"`
	StartURLs []string `json:"start_urls" mapstructure:"start_urls"`
	// RPS overrides the crawler-wide per-domain request ceiling when > 0.
	RPS float64 `json:"rps,omitempty" mapstructure:"rps"`
}

// DiscoveredURL is a page classified as a product or offer during a crawl.
// Values are not mutated after the orchestrator appends them.
type DiscoveredURL struct {
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonical_url"`
	Domain       string     `json:"domain"`
	Title        string     `json:"title,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	IsOffer      bool       `json:"is_offer"`
	OfferTitle   string     `json:"offer_title,omitempty"`
	OfferSummary string     `json:"offer_summary,omitempty"`
	OfferStart   *time.Time `json:"offer_start,omitempty"`
	OfferEnd     *time.Time `json:"offer_end,omitempty"`
	Depth        int        `json:"depth"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	SnapshotURI  string     `json:"snapshot_uri,omitempty"`
}

// QueueItem is one pending entry in a site traversal. Offer links are
// enqueued at depth 0.
type QueueItem struct {
	URL   string
	Depth int
}

// RenderOptions tunes a single render request.
type RenderOptions struct {
	RenderJS bool
	Timeout  time.Duration
	ProxyURL string
	Stealth  bool
}

// RenderResult is the rendered page as returned by a Renderer. StatusCode is
// the target site's status, not the render service's.
type RenderResult struct {
	URL        string
	HTML       string
	StatusCode int
	Headers    http.Header
	Duration   time.Duration
}

// URLError records a page that could not be processed.
type URLError struct {
	URL     string    `json:"url"`
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
}

// SiteError records a site crawl that failed as a whole.
type SiteError struct {
	Site    string    `json:"site"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CrawlStats are the running counters of one site crawl.
type CrawlStats struct {
	Site           string `json:"site"`
	Visited        int    `json:"visited"`
	Fetched        int    `json:"fetched"`
	Skipped        int    `json:"skipped"`
	Discoveries    int    `json:"discoveries"`
	Products       int    `json:"products"`
	Offers         int    `json:"offers"`
	AlreadyTracked int    `json:"already_tracked"`
	Errors         int    `json:"errors"`
	Flushed        int    `json:"flushed"`
	FlushFailures  int    `json:"flush_failures"`
}

// SiteResult is the outcome of one site crawl.
type SiteResult struct {
	Site        string          `json:"site"`
	Stats       CrawlStats      `json:"stats"`
	Discoveries []DiscoveredURL `json:"discoveries"`
	Visited     []string        `json:"visited"`
	Errors      []URLError      `json:"errors"`
	Duration    time.Duration   `json:"duration"`
}

// RunSummary aggregates every site crawl of one run.
type RunSummary struct {
	TotalVisited   int             `json:"total_visited"`
	Discoveries    []DiscoveredURL `json:"discoveries"`
	ProductCount   int             `json:"product_count"`
	OfferCount     int             `json:"offer_count"`
	SitesProcessed int             `json:"sites_processed"`
	Duration       time.Duration   `json:"duration"`
	Errors         []URLError      `json:"errors"`
	SiteErrors     []SiteError     `json:"site_errors"`
	Sites          []SiteResult    `json:"sites"`
}

// RunParameters are per-run overrides of the configured crawl defaults.
// Nil fields fall back to configuration.
type RunParameters struct {
	Sites                []string `json:"sites,omitempty"`
	MaxPagesPerSite      *int     `json:"max_pages_per_site,omitempty"`
	MinDelayMs           *int     `json:"min_delay_ms,omitempty"`
	MaxDelayMs           *int     `json:"max_delay_ms,omitempty"`
	Sequential           *bool    `json:"sequential,omitempty"`
	BatchSize            *int     `json:"batch_size,omitempty"`
	BatchIntervalSeconds *int     `json:"batch_interval_seconds,omitempty"`
	SkipCooldown         *bool    `json:"skip_cooldown,omitempty"`
}

// RunRequest is a queued crawl run.
type RunRequest struct {
	RunID     string
	Params    RunParameters
	Submitted time.Time
}
