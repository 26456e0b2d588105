package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

// Catalog is an in-memory store.Catalog for development and tests.
type Catalog struct {
	mu          sync.RWMutex
	sourceURLs  []string
	skus        []string
	discoveries map[string]crawler.DiscoveredURL
	products    map[string]crawler.DiscoveredURL
	offers      map[string]store.Offer
}

// NewCatalog seeds a Catalog with known product URLs and SKUs.
func NewCatalog(sourceURLs, skus []string) *Catalog {
	return &Catalog{
		sourceURLs:  append([]string(nil), sourceURLs...),
		skus:        append([]string(nil), skus...),
		discoveries: make(map[string]crawler.DiscoveredURL),
		products:    make(map[string]crawler.DiscoveredURL),
		offers:      make(map[string]store.Offer),
	}
}

// ListSourceCanonicalURLs implements store.CatalogReader.
func (c *Catalog) ListSourceCanonicalURLs(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.sourceURLs...), nil
}

// ListKnownSKUs implements store.CatalogReader.
func (c *Catalog) ListKnownSKUs(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.skus...), nil
}

// ListPendingProductIDs returns the product IDs of stored new products.
func (c *Catalog) ListPendingProductIDs(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.products))
	for canonical := range c.products {
		if id := crawler.ProductID(canonical); id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListOfferURLs implements store.CatalogReader.
func (c *Catalog) ListOfferURLs(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.offers))
	for url := range c.offers {
		out = append(out, url)
	}
	sort.Strings(out)
	return out, nil
}

// UpsertDiscoveries implements store.CatalogWriter.
func (c *Catalog) UpsertDiscoveries(_ context.Context, runID string, items []crawler.DiscoveredURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range items {
		c.discoveries[runID+"|"+d.CanonicalURL] = d
	}
	return nil
}

// UpsertNewProducts implements store.CatalogWriter.
func (c *Catalog) UpsertNewProducts(_ context.Context, _ string, items []crawler.DiscoveredURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range items {
		c.products[d.CanonicalURL] = d
	}
	return nil
}

// UpsertOffer implements store.CatalogWriter.
func (c *Catalog) UpsertOffer(_ context.Context, o store.Offer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[o.URL] = o
	return nil
}

// Discoveries returns how many distinct (run, canonical URL) rows exist.
func (c *Catalog) Discoveries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.discoveries)
}

// Products returns the stored new products ordered by canonical URL.
func (c *Catalog) Products() []crawler.DiscoveredURL {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]crawler.DiscoveredURL, 0, len(c.products))
	for _, d := range c.products {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalURL < out[j].CanonicalURL })
	return out
}

// Offers returns the stored offers ordered by URL.
func (c *Catalog) Offers() []store.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Offer, 0, len(c.offers))
	for _, o := range c.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
