package store

import (
	"context"
	"time"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// CatalogReader is the read side of the catalog used to build dedup
// snapshots.
type CatalogReader interface {
	// ListSourceCanonicalURLs returns the canonical URLs of catalog products
	// that carry a non-null source URL.
	ListSourceCanonicalURLs(ctx context.Context) ([]string, error)
	// ListKnownSKUs returns every SKU in the catalog.
	ListKnownSKUs(ctx context.Context) ([]string, error)
	// ListPendingProductIDs returns product identifiers of earlier
	// discoveries still pending or under review.
	ListPendingProductIDs(ctx context.Context) ([]string, error)
	// ListOfferURLs returns the URLs of offers already recorded.
	ListOfferURLs(ctx context.Context) ([]string, error)
}

// CatalogWriter is the write side. Every method is idempotent under retry.
type CatalogWriter interface {
	// UpsertDiscoveries stores raw crawl discoveries keyed by run and
	// canonical URL.
	UpsertDiscoveries(ctx context.Context, runID string, items []crawler.DiscoveredURL) error
	// UpsertNewProducts records matcher-approved new products as pending,
	// keyed by canonical URL.
	UpsertNewProducts(ctx context.Context, runID string, items []crawler.DiscoveredURL) error
	// UpsertOffer records one offer keyed by URL.
	UpsertOffer(ctx context.Context, offer Offer) error
}

// Catalog combines both sides.
type Catalog interface {
	CatalogReader
	CatalogWriter
}

// Offer is a promotion page persisted by the offer matcher.
type Offer struct {
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonical_url"`
	Domain       string     `json:"domain"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	RunID        string     `json:"run_id"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}
