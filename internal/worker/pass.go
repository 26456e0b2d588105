package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/matcher"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

// pass is the detection state of one run. Its persist method is the batch
// callback shared by every site of the run; calls are serialized so that a
// product ID accepted by one site's batch is pending for the next.
type pass struct {
	w      *Worker
	runID  string
	logger *zap.Logger

	mu        sync.Mutex
	session   *matcher.Session
	snap      *matcher.Snapshot
	sites     map[string]crawler.CrawlStats
	products  []crawler.DiscoveredURL
	recorded  map[string]struct{}
	offers    []store.Offer
	offerFail int
}

func newPass(w *Worker, runID string, logger *zap.Logger) *pass {
	return &pass{
		w:        w,
		runID:    runID,
		logger:   logger,
		session:  matcher.NewSession(),
		sites:    make(map[string]crawler.CrawlStats),
		recorded: make(map[string]struct{}),
	}
}

// persist stores a batch of raw discoveries, then detects and records the new
// products and offers among them. Every write is idempotent, so a batch the
// orchestrator retries after a failure is safe to replay. The session and the
// run's product list only change once the whole batch has been stored.
func (p *pass) persist(ctx context.Context, items []crawler.DiscoveredURL, stats crawler.CrawlStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.w.catalog.UpsertDiscoveries(ctx, p.runID, items); err != nil {
		return crawler.NewError(crawler.KindPersistenceFailure, "upsert discoveries", "", err)
	}
	snap, err := p.snapshot(ctx)
	if err != nil {
		return err
	}

	det := p.session.Detect(items, snap)
	if len(det.New) > 0 {
		if err := p.w.catalog.UpsertNewProducts(ctx, p.runID, det.New); err != nil {
			return crawler.NewError(crawler.KindPersistenceFailure, "upsert new products", "", err)
		}
	}

	if len(det.Offers) > 0 {
		res, err := p.w.offers.Process(ctx, p.runID, det.Offers)
		if err != nil {
			return err
		}
		p.offers = append(p.offers, res.Offers...)
		p.offerFail += res.Failed
	}

	p.session.Record(det)
	for _, d := range det.New {
		if _, ok := p.recorded[d.CanonicalURL]; ok {
			continue
		}
		p.recorded[d.CanonicalURL] = struct{}{}
		p.products = append(p.products, d)
	}

	p.sites[stats.Site] = stats
	p.logger.Info("batch detected",
		zap.String("site", stats.Site),
		zap.Int("analyzed", det.TotalAnalyzed),
		zap.Int("new", len(det.New)),
		zap.Int("existing", len(det.Existing)),
		zap.Int("dropped", len(det.Dropped)),
		zap.Int("offers", len(det.Offers)),
	)
	if err := p.w.updateRun(ctx, p.runID, store.RunRunning, "", p.runningCounters()); err != nil {
		p.logger.Warn("update run counters failed", zap.Error(err))
	}
	return nil
}

// snapshot loads the catalog snapshot once per run. A failed load is not
// cached, so the retried batch tries again.
func (p *pass) snapshot(ctx context.Context) (matcher.Snapshot, error) {
	if p.snap != nil {
		return *p.snap, nil
	}
	snap, err := matcher.LoadSnapshot(ctx, p.w.catalog)
	if err != nil {
		return matcher.Snapshot{}, err
	}
	p.snap = &snap
	return snap, nil
}

// runningCounters sums the latest stats reported by each site. Callers hold
// p.mu.
func (p *pass) runningCounters() store.RunCounters {
	var c store.RunCounters
	for _, s := range p.sites {
		c.Visited += s.Visited
		c.Discoveries += s.Discoveries
		c.Products += s.Products
		c.Offers += s.Offers
		c.Errors += s.Errors
	}
	c.NewProducts = len(p.products)
	c.NewOffers = len(p.offers)
	c.Errors += p.offerFail
	return c
}

func (p *pass) finalCounters(summary crawler.RunSummary) store.RunCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return store.RunCounters{
		Visited:     summary.TotalVisited,
		Discoveries: len(summary.Discoveries),
		Products:    summary.ProductCount,
		Offers:      summary.OfferCount,
		NewProducts: len(p.products),
		NewOffers:   len(p.offers),
		Errors:      len(summary.Errors) + len(summary.SiteErrors) + p.offerFail,
	}
}

func (p *pass) newProducts() []crawler.DiscoveredURL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]crawler.DiscoveredURL(nil), p.products...)
}

func (p *pass) newOffers() []store.Offer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.Offer(nil), p.offers...)
}
