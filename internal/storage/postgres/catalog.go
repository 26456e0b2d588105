package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

const (
	listSourceURLsSQL = `SELECT COALESCE(canonical_url, source_url) FROM products WHERE source_url IS NOT NULL`
	listSKUsSQL       = `SELECT sku FROM products WHERE sku IS NOT NULL AND sku <> ''`
	listPendingSQL    = `SELECT product_id FROM discovered_products WHERE product_id IS NOT NULL AND status IN ('pending', 'review')`
	listOfferURLsSQL  = `SELECT url FROM offers`

	upsertDiscoverySQL = `
INSERT INTO crawl_discoveries (
	run_id, canonical_url, url, domain, is_offer, title, price, depth, snapshot_uri, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, canonical_url) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	snapshot_uri = COALESCE(EXCLUDED.snapshot_uri, crawl_discoveries.snapshot_uri)`

	upsertNewProductSQL = `
INSERT INTO discovered_products (
	canonical_url, url, domain, product_id, title, price, snapshot_uri, first_run_id, last_run_id, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8,$9)
ON CONFLICT (canonical_url) DO UPDATE SET
	last_run_id = EXCLUDED.last_run_id,
	title = COALESCE(EXCLUDED.title, discovered_products.title),
	price = COALESCE(EXCLUDED.price, discovered_products.price),
	updated_at = now()`

	upsertOfferSQL = `
INSERT INTO offers (
	url, canonical_url, domain, title, summary, start_date, end_date, run_id, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	updated_at = now()`
)

// ListSourceCanonicalURLs implements store.CatalogReader.
func (s *Store) ListSourceCanonicalURLs(ctx context.Context) ([]string, error) {
	out, err := s.queryStrings(ctx, listSourceURLsSQL)
	if err != nil {
		return nil, fmt.Errorf("list source urls: %w", err)
	}
	return out, nil
}

// ListKnownSKUs implements store.CatalogReader.
func (s *Store) ListKnownSKUs(ctx context.Context) ([]string, error) {
	out, err := s.queryStrings(ctx, listSKUsSQL)
	if err != nil {
		return nil, fmt.Errorf("list skus: %w", err)
	}
	return out, nil
}

// ListPendingProductIDs implements store.CatalogReader.
func (s *Store) ListPendingProductIDs(ctx context.Context) ([]string, error) {
	out, err := s.queryStrings(ctx, listPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("list pending ids: %w", err)
	}
	return out, nil
}

// ListOfferURLs implements store.CatalogReader.
func (s *Store) ListOfferURLs(ctx context.Context) ([]string, error) {
	out, err := s.queryStrings(ctx, listOfferURLsSQL)
	if err != nil {
		return nil, fmt.Errorf("list offer urls: %w", err)
	}
	return out, nil
}

// UpsertDiscoveries writes one batch in a single transaction.
func (s *Store) UpsertDiscoveries(ctx context.Context, runID string, items []crawler.DiscoveredURL) error {
	if len(items) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, d := range items {
			if _, err := tx.Exec(ctx, upsertDiscoverySQL,
				runID,
				d.CanonicalURL,
				d.URL,
				d.Domain,
				d.IsOffer,
				nullable(d.Title),
				d.Price,
				d.Depth,
				nullable(d.SnapshotURI),
				d.DiscoveredAt,
			); err != nil {
				return fmt.Errorf("upsert discovery %s: %w", d.CanonicalURL, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert discoveries: %w", err)
	}
	return nil
}

// UpsertNewProducts records matcher-approved products as pending.
func (s *Store) UpsertNewProducts(ctx context.Context, runID string, items []crawler.DiscoveredURL) error {
	if len(items) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, d := range items {
			if _, err := tx.Exec(ctx, upsertNewProductSQL,
				d.CanonicalURL,
				d.URL,
				d.Domain,
				nullable(crawler.ProductID(d.CanonicalURL)),
				nullable(d.Title),
				d.Price,
				nullable(d.SnapshotURI),
				runID,
				d.DiscoveredAt,
			); err != nil {
				return fmt.Errorf("upsert product %s: %w", d.CanonicalURL, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert new products: %w", err)
	}
	return nil
}

// UpsertOffer writes one offer keyed by URL.
func (s *Store) UpsertOffer(ctx context.Context, o store.Offer) error {
	if _, err := s.pool.Exec(ctx, upsertOfferSQL,
		o.URL,
		o.CanonicalURL,
		o.Domain,
		o.Title,
		nullable(o.Summary),
		o.StartDate,
		o.EndDate,
		o.RunID,
		o.DiscoveredAt,
	); err != nil {
		return fmt.Errorf("upsert offer %s: %w", o.URL, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
