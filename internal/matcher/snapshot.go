// Package matcher decides which crawl discoveries are new to the catalog.
package matcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

// Snapshot is a point-in-time view of the catalog. It is read-only once
// built and may be shared by concurrent Detect calls.
type Snapshot struct {
	// CanonicalURLs of catalog products with a source URL.
	CanonicalURLs map[string]struct{}
	// SKUs folded with crawler.NormalizeID.
	SKUs map[string]struct{}
	// ProductIDs extracted from CanonicalURLs.
	ProductIDs map[string]struct{}
	// PendingIDs of discoveries awaiting review.
	PendingIDs map[string]struct{}
}

// NewSnapshot builds a Snapshot from raw catalog values. URLs are
// canonicalized and identifiers normalized; unusable entries are ignored.
func NewSnapshot(urls, skus, pendingIDs []string) Snapshot {
	s := Snapshot{
		CanonicalURLs: make(map[string]struct{}, len(urls)),
		SKUs:          make(map[string]struct{}, len(skus)),
		ProductIDs:    make(map[string]struct{}, len(urls)),
		PendingIDs:    make(map[string]struct{}, len(pendingIDs)),
	}
	for _, raw := range urls {
		canonical, err := crawler.Canonicalize(raw)
		if err != nil {
			continue
		}
		s.CanonicalURLs[canonical] = struct{}{}
		if id := crawler.ProductID(canonical); id != "" {
			s.ProductIDs[id] = struct{}{}
		}
	}
	addIDs(s.SKUs, skus)
	addIDs(s.PendingIDs, pendingIDs)
	return s
}

func addIDs(dst map[string]struct{}, values []string) {
	for _, v := range values {
		if id := crawler.NormalizeID(v); id != "" {
			dst[id] = struct{}{}
		}
	}
}

// hasURL reports a tier 1 match.
func (s Snapshot) hasURL(canonical string) bool {
	_, ok := s.CanonicalURLs[canonical]
	return ok
}

// hasID reports a tier 2 match against SKUs, known product IDs and pending
// IDs.
func (s Snapshot) hasID(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.SKUs[id]; ok {
		return true
	}
	if _, ok := s.ProductIDs[id]; ok {
		return true
	}
	_, ok := s.PendingIDs[id]
	return ok
}

// LoadSnapshot reads the catalog. Any read failure is a
// DetectionLoadFailure: callers must not fall back to an empty snapshot.
func LoadSnapshot(ctx context.Context, reader store.CatalogReader) (Snapshot, error) {
	const op = "load snapshot"
	urls, err := reader.ListSourceCanonicalURLs(ctx)
	if err != nil {
		return Snapshot{}, crawler.NewError(crawler.KindDetectionLoadFailure, op, "", fmt.Errorf("list source urls: %w", err))
	}
	skus, err := reader.ListKnownSKUs(ctx)
	if err != nil {
		return Snapshot{}, crawler.NewError(crawler.KindDetectionLoadFailure, op, "", fmt.Errorf("list skus: %w", err))
	}
	pending, err := reader.ListPendingProductIDs(ctx)
	if err != nil {
		return Snapshot{}, crawler.NewError(crawler.KindDetectionLoadFailure, op, "", fmt.Errorf("list pending ids: %w", err))
	}
	return NewSnapshot(urls, skus, pending), nil
}
