package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

// OfferStore is the slice of the catalog the offer matcher needs.
type OfferStore interface {
	ListOfferURLs(ctx context.Context) ([]string, error)
	UpsertOffer(ctx context.Context, offer store.Offer) error
}

// OfferResult reports one Process call.
type OfferResult struct {
	Candidates int
	Attempted  int
	Saved      int
	Failed     int
	// Offers are the records that were saved.
	Offers []store.Offer
}

// OfferMatcher records offer pages the catalog does not know yet.
type OfferMatcher struct {
	store  OfferStore
	clock  crawler.Clock
	logger *zap.Logger
}

// NewOfferMatcher wires an OfferMatcher.
func NewOfferMatcher(s OfferStore, clock crawler.Clock, logger *zap.Logger) (*OfferMatcher, error) {
	if s == nil {
		return nil, errors.New("offer store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferMatcher{store: s, clock: clock, logger: logger.Named("offers")}, nil
}

// Process loads the known offer URLs and upserts every offer discovery that
// matches none of them in raw or canonical form. Upserts happen one at a
// time; a failed upsert is logged and counted and the rest continue.
func (m *OfferMatcher) Process(ctx context.Context, runID string, offers []crawler.DiscoveredURL) (OfferResult, error) {
	known, err := m.store.ListOfferURLs(ctx)
	if err != nil {
		return OfferResult{}, crawler.NewError(crawler.KindDetectionLoadFailure, "load offers", "", fmt.Errorf("list offer urls: %w", err))
	}
	seen := make(map[string]struct{}, len(known)*2)
	for _, raw := range known {
		seen[raw] = struct{}{}
		if canonical, err := crawler.Canonicalize(raw); err == nil {
			seen[canonical] = struct{}{}
		}
	}

	var candidates []crawler.DiscoveredURL
	for _, d := range offers {
		if !d.IsOffer {
			continue
		}
		canonical := canonicalOf(d)
		_, rawKnown := seen[d.URL]
		_, canonicalKnown := seen[canonical]
		if rawKnown || canonicalKnown {
			continue
		}
		seen[d.URL] = struct{}{}
		seen[canonical] = struct{}{}
		d.CanonicalURL = canonical
		candidates = append(candidates, d)
	}

	res := OfferResult{Candidates: len(candidates)}
	for _, d := range candidates {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("process offers: %w", err)
		}
		offer := toOffer(runID, d, m.now())
		res.Attempted++
		if err := m.store.UpsertOffer(ctx, offer); err != nil {
			res.Failed++
			m.logger.Warn("offer upsert failed", zap.String("url", d.URL), zap.Error(err))
			continue
		}
		res.Saved++
		res.Offers = append(res.Offers, offer)
	}
	metrics.ObserveDetection("offer_saved", res.Saved)
	metrics.ObserveDetection("offer_failed", res.Failed)
	m.logger.Info("offers processed",
		zap.String("run_id", runID),
		zap.Int("candidates", res.Candidates),
		zap.Int("attempted", res.Attempted),
		zap.Int("saved", res.Saved),
	)
	return res, nil
}

func (m *OfferMatcher) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock.Now()
}

func toOffer(runID string, d crawler.DiscoveredURL, now time.Time) store.Offer {
	title := d.OfferTitle
	if title == "" {
		title = d.Title
	}
	discovered := d.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}
	domain := d.Domain
	if domain == "" {
		domain = crawler.SiteDomain(d.URL)
	}
	return store.Offer{
		URL:          d.URL,
		CanonicalURL: d.CanonicalURL,
		Domain:       domain,
		Title:        title,
		Summary:      d.OfferSummary,
		StartDate:    d.OfferStart,
		EndDate:      d.OfferEnd,
		RunID:        runID,
		DiscoveredAt: discovered,
	}
}
