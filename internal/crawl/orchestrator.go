// Package crawl runs breadth-first site traversals. One Orchestrator owns
// the visited set, frontier and discoveries of one site; a Runner drives
// several orchestrators concurrently or one after another.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/extract"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
)

const (
	defaultBatchSize         = 10
	defaultBatchInterval     = 30 * time.Second
	defaultFinalFlushTimeout = 30 * time.Second
)

// BatchFunc durably stores newly discovered pages. stats is a snapshot of the
// crawl's counters at flush time. An error leaves the batch pending; the same
// items (plus any newer ones) are offered again on the next trigger.
type BatchFunc func(ctx context.Context, items []crawler.DiscoveredURL, stats crawler.CrawlStats) error

// Fetcher renders one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error)
}

// Pacer delays before each fetch.
type Pacer interface {
	Pause(ctx context.Context, url string) (time.Duration, error)
}

// Archiver stores the rendered HTML of a discovery and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, runID string, d crawler.DiscoveredURL, html string) (string, error)
}

// Config scopes one site crawl.
type Config struct {
	RunID             string
	Site              crawler.Site
	MaxPages          int
	BatchSize         int
	BatchInterval     time.Duration
	FinalFlushTimeout time.Duration
	Render            crawler.RenderOptions
}

// Deps are the collaborators of an Orchestrator. Fetcher and Classifier are
// required.
type Deps struct {
	Fetcher    Fetcher
	Classifier *classify.Classifier
	Pacer      Pacer
	Clock      crawler.Clock
	Archiver   Archiver
	Emitter    progress.Emitter
	Logger     *zap.Logger
}

// Orchestrator crawls one site. Crawl is not re-entrant: a second call while
// one is in flight fails with AlreadyRunning.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	domain  string
	runID   [16]byte
	logger  *zap.Logger
	running atomic.Bool
}

// New validates cfg and deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if len(cfg.Site.StartURLs) == 0 && cfg.Site.Domain != "" {
		cfg.Site.StartURLs = []string{"https://" + cfg.Site.Domain}
	}
	if len(cfg.Site.StartURLs) == 0 {
		return nil, fmt.Errorf("site %q has no start urls", cfg.Site.Name)
	}
	domain := crawler.SiteDomain(cfg.Site.Domain)
	if domain == "" {
		domain = crawler.SiteDomain(cfg.Site.StartURLs[0])
	}
	if domain == "" {
		return nil, fmt.Errorf("site %q has no usable domain", cfg.Site.Name)
	}
	if cfg.Site.Name == "" {
		cfg.Site.Name = domain
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = defaultBatchInterval
	}
	if cfg.FinalFlushTimeout <= 0 {
		cfg.FinalFlushTimeout = defaultFinalFlushTimeout
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		domain: domain,
		runID:  progress.RunIDBytes(cfg.RunID),
		logger: logger.Named("crawl").With(zap.String("site", cfg.Site.Name), zap.String("run_id", cfg.RunID)),
	}, nil
}

// Site returns the site this orchestrator crawls.
func (o *Orchestrator) Site() crawler.Site {
	return o.cfg.Site
}

// Crawl traverses the site once. tracked holds canonical URLs that are
// already known and must not be reported again; it is only read. persist may
// be nil. The returned result is complete even when err is non-nil: a failed
// final flush yields a PersistenceFailure error alongside the discoveries,
// and a cancelled ctx stops the traversal early.
func (o *Orchestrator) Crawl(ctx context.Context, tracked map[string]struct{}, persist BatchFunc) (crawler.SiteResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return crawler.SiteResult{Site: o.cfg.Site.Name}, crawler.NewError(
			crawler.KindAlreadyRunning, "crawl", "", fmt.Errorf("site %s", o.cfg.Site.Name))
	}
	defer o.running.Store(false)

	t := newTraversal(o, tracked, persist)
	o.emit(progress.Event{Stage: progress.StageSiteStart})
	o.logger.Info("site crawl started",
		zap.Strings("start_urls", o.cfg.Site.StartURLs),
		zap.Int("max_pages", o.cfg.MaxPages),
	)

	t.seed()
	for {
		if ctx.Err() != nil {
			break
		}
		if o.cfg.MaxPages > 0 && t.stats.Fetched >= o.cfg.MaxPages {
			o.logger.Info("page ceiling reached", zap.Int("fetched", t.stats.Fetched), zap.Int("queued", t.frontier.len()))
			break
		}
		item, ok := t.frontier.pop()
		if !ok {
			break
		}
		t.process(ctx, item)
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalFlushTimeout)
	flushErr := t.flush(flushCtx, true)
	cancel()

	result := t.result()
	o.emit(progress.Event{Stage: progress.StageSiteDone, Dur: result.Duration})
	o.logger.Info("site crawl finished",
		zap.Int("visited", result.Stats.Visited),
		zap.Int("fetched", result.Stats.Fetched),
		zap.Int("discoveries", result.Stats.Discoveries),
		zap.Int("errors", result.Stats.Errors),
		zap.Duration("duration", result.Duration),
	)
	if flushErr != nil {
		return result, flushErr
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("crawl %s interrupted: %w", o.cfg.Site.Name, err)
	}
	return result, nil
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Emitter == nil {
		return
	}
	evt.RunID = o.runID
	evt.TS = o.deps.Clock.Now()
	evt.Site = o.cfg.Site.Name
	o.deps.Emitter.Emit(evt)
}

// traversal is the state of one Crawl call. It is never shared between
// goroutines.
type traversal struct {
	o        *Orchestrator
	tracked  map[string]struct{}
	persist  BatchFunc
	frontier *frontier
	visited  map[string]struct{}
	order    []string

	discoveries []crawler.DiscoveredURL
	errors      []crawler.URLError
	stats       crawler.CrawlStats
	batch       batchState
	started     time.Time
}

// batchState tracks the persisted prefix of discoveries. It only advances
// after a successful flush.
type batchState struct {
	flushedUpTo int
	lastFlush   time.Time
}

func newTraversal(o *Orchestrator, tracked map[string]struct{}, persist BatchFunc) *traversal {
	now := o.deps.Clock.Now()
	return &traversal{
		o:        o,
		tracked:  tracked,
		persist:  persist,
		frontier: newFrontier(),
		visited:  make(map[string]struct{}),
		stats:    crawler.CrawlStats{Site: o.cfg.Site.Name},
		batch:    batchState{lastFlush: now},
		started:  now,
	}
}

func (t *traversal) seed() {
	for _, raw := range t.o.cfg.Site.StartURLs {
		canonical, err := crawler.Canonicalize(raw)
		if err != nil {
			t.recordError(raw, err)
			continue
		}
		t.frontier.push(crawler.QueueItem{URL: raw, Depth: 0}, canonical)
	}
}

func (t *traversal) process(ctx context.Context, item crawler.QueueItem) {
	o := t.o
	canonical, err := crawler.Canonicalize(item.URL)
	if err != nil {
		t.recordError(item.URL, err)
		return
	}
	if _, seen := t.visited[canonical]; seen {
		t.skip(item.URL, "visited")
		return
	}
	t.visited[canonical] = struct{}{}
	t.order = append(t.order, canonical)

	if o.deps.Classifier.IsStaticAsset(item.URL) {
		t.skip(item.URL, "static_asset")
		return
	}
	if o.deps.Classifier.IsExcluded(item.URL) {
		t.skip(item.URL, "excluded")
		return
	}

	if o.deps.Pacer != nil {
		if _, err := o.deps.Pacer.Pause(ctx, item.URL); err != nil {
			o.logger.Debug("pacing interrupted", zap.String("url", item.URL), zap.Error(err))
			return
		}
	}

	start := time.Now()
	res, err := o.deps.Fetcher.Fetch(ctx, item.URL, o.cfg.Render)
	t.stats.Fetched++
	if err != nil {
		t.recordError(item.URL, err)
		return
	}
	if res.StatusCode >= 400 {
		kind := crawler.KindFetchNonRetryable
		if res.StatusCode >= 500 {
			kind = crawler.KindFetchRetryable
		}
		cerr := crawler.NewError(kind, "fetch", item.URL, fmt.Errorf("target answered %d", res.StatusCode))
		cerr.Status = res.StatusCode
		t.recordError(item.URL, cerr)
		return
	}
	o.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		URL:         item.URL,
		Visits:      1,
		Bytes:       int64(len(res.HTML)),
		StatusClass: progress.ClassifyStatus(res.StatusCode),
		Dur:         time.Since(start),
	})

	doc, err := extract.Parse(res.HTML)
	if err != nil {
		t.recordError(item.URL, crawler.NewError(crawler.KindInternal, "parse", item.URL, err))
		return
	}

	pageURL := item.URL
	if res.URL != "" && crawler.SiteDomain(res.URL) == o.domain {
		pageURL = res.URL
	}
	t.enqueueLinks(item, extract.LinksFromDocument(pageURL, doc))

	kind := o.deps.Classifier.ClassifyDocument(item.URL, doc)
	if kind != classify.KindProduct && kind != classify.KindOffer {
		return
	}
	if _, known := t.tracked[canonical]; known {
		t.stats.AlreadyTracked++
		return
	}
	t.discover(ctx, item, canonical, kind, doc, res.HTML)
}

func (t *traversal) enqueueLinks(from crawler.QueueItem, links []string) {
	for _, link := range links {
		if crawler.SiteDomain(link) != t.o.domain {
			continue
		}
		canonical, err := crawler.Canonicalize(link)
		if err != nil {
			continue
		}
		if _, seen := t.visited[canonical]; seen || t.frontier.has(canonical) {
			continue
		}
		depth := from.Depth + 1
		if t.o.deps.Classifier.IsOfferPage(link) {
			depth = 0
		}
		t.frontier.push(crawler.QueueItem{URL: link, Depth: depth}, canonical)
	}
}

func (t *traversal) recordError(url string, err error) {
	kind := crawler.KindOf(err)
	if kind == "" {
		kind = crawler.KindInternal
	}
	entry := crawler.URLError{URL: url, Kind: kind, Message: err.Error()}
	var cerr *crawler.Error
	if errors.As(err, &cerr) {
		entry.Status = cerr.Status
	}
	t.errors = append(t.errors, entry)
	t.stats.Errors++
	t.o.logger.Warn("url failed",
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Int("status", entry.Status),
		zap.Error(err),
	)
	t.o.emit(progress.Event{
		Stage:  progress.StageFetchError,
		URL:    url,
		Errors: 1,
		Kind:   string(kind),
		Note:   err.Error(),
	})
}

func (t *traversal) skip(url, reason string) {
	t.stats.Skipped++
	metrics.ObserveSkip(url, reason)
	t.o.logger.Debug("url skipped", zap.String("url", url), zap.String("reason", reason))
}

func (t *traversal) result() crawler.SiteResult {
	t.stats.Visited = len(t.order)
	return crawler.SiteResult{
		Site:        t.o.cfg.Site.Name,
		Stats:       t.stats,
		Discoveries: append([]crawler.DiscoveredURL(nil), t.discoveries...),
		Visited:     append([]string(nil), t.order...),
		Errors:      append([]crawler.URLError(nil), t.errors...),
		Duration:    t.o.deps.Clock.Now().Sub(t.started),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
