package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawl"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
	pubmemory "github.com/JakeFAU/supplier-discovery/internal/publisher/memory"
	queuememory "github.com/JakeFAU/supplier-discovery/internal/queue/memory"
	"github.com/JakeFAU/supplier-discovery/internal/storage/memory"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

const testRunID = "0190c9a4-1c2b-7d3e-8f40-5a6b7c8d9e0f"

func TestWorker_Execute_DetectsNewProductsAndOffers(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog([]string{"https://shop.example.com/known-tool-x1"}, []string{"CB-125F"})
	runs := newRuns(t)
	pub := pubmemory.New()
	emitter := &recordingEmitter{}
	runner := &scriptedRunner{
		batches: [][]crawler.DiscoveredURL{{
			product("https://shop.example.com/known-tool-x1"),
			product("https://shop.example.com/motorcycles/cb125f"),
			product("https://shop.example.com/generators/eu22i"),
			offer("https://shop.example.com/offers/spring-sale"),
		}},
		summary: crawler.RunSummary{TotalVisited: 12, ProductCount: 3, OfferCount: 1, SitesProcessed: 1},
	}
	w := newWorker(t, catalog, runs, pub, runner, Config{Topic: "detections"}, emitter)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.NoError(t, err)
	require.Equal(t, store.RunSucceeded, report.Status)
	require.Len(t, report.NewProducts, 1)
	require.Equal(t, "https://shop.example.com/generators/eu22i", report.NewProducts[0].CanonicalURL)
	require.Len(t, report.NewOffers, 1)
	require.Equal(t, 1, report.Counters.NewProducts)
	require.Equal(t, 1, report.Counters.NewOffers)
	require.Equal(t, 12, report.Counters.Visited)

	require.Equal(t, 4, catalog.Discoveries())
	require.Len(t, catalog.Products(), 1)
	require.Len(t, catalog.Offers(), 1)

	_, tracked := runner.tracked["https://shop.example.com/known-tool-x1"]
	require.True(t, tracked)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "detections", msgs[0].Topic)

	run, err := runs.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)

	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, emitter.stages())
}

func TestWorker_Execute_LaterBatchSeesEarlierNewProducts(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog(nil, nil)
	runner := &scriptedRunner{
		batches: [][]crawler.DiscoveredURL{
			{product("https://shop.example.com/08l78mkse00")},
			{product("https://shop.example.com/genuine-parts/08l78mkse00")},
		},
	}
	w := newWorker(t, catalog, newRuns(t), nil, runner, Config{}, nil)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.NoError(t, err)
	require.Len(t, report.NewProducts, 1)
	require.Len(t, catalog.Products(), 1)
	require.NoError(t, runner.errs[1])
}

func TestWorker_Execute_RetriedBatchCountsOnce(t *testing.T) {
	t.Parallel()

	catalog := &flakyCatalog{Catalog: memory.NewCatalog(nil, nil), failNewProducts: 1}
	batch := []crawler.DiscoveredURL{product("https://shop.example.com/generators/eu22i")}
	runner := &scriptedRunner{batches: [][]crawler.DiscoveredURL{batch, batch}}
	w := newWorker(t, catalog, newRuns(t), nil, runner, Config{}, nil)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.NoError(t, err)
	require.ErrorIs(t, runner.errs[0], crawler.ErrPersistenceFailure)
	require.NoError(t, runner.errs[1])
	require.Len(t, report.NewProducts, 1)
	require.Len(t, catalog.Products(), 1)
}

func TestWorker_Execute_RetryAfterOfferLoadFailureCountsProductsOnce(t *testing.T) {
	t.Parallel()

	// The first offer load builds the tracked set; the second belongs to the
	// first batch.
	catalog := &flakyCatalog{Catalog: memory.NewCatalog(nil, nil), failOfferLoadAt: 2}
	batch := []crawler.DiscoveredURL{
		product("https://shop.example.com/cars/civic-type-r"),
		offer("https://shop.example.com/offers/spring-sale"),
	}
	runner := &scriptedRunner{batches: [][]crawler.DiscoveredURL{batch, batch}}
	w := newWorker(t, catalog, newRuns(t), nil, runner, Config{}, nil)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.NoError(t, err)
	require.ErrorIs(t, runner.errs[0], crawler.ErrDetectionLoadFailure)
	require.NoError(t, runner.errs[1])
	require.Len(t, report.NewProducts, 1)
	require.Equal(t, 1, report.Counters.NewProducts)
	require.Len(t, report.NewOffers, 1)
	require.Len(t, catalog.Products(), 1)
}

func TestWorker_Execute_SnapshotFailureNeverMarksEverythingNew(t *testing.T) {
	t.Parallel()

	catalog := &flakyCatalog{Catalog: memory.NewCatalog(nil, nil), failSKUs: true}
	runner := &scriptedRunner{batches: [][]crawler.DiscoveredURL{{product("https://shop.example.com/generators/eu22i")}}}
	w := newWorker(t, catalog, newRuns(t), nil, runner, Config{}, nil)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.NoError(t, err, "a failed batch is retried by the orchestrator, not fatal here")
	require.ErrorIs(t, runner.errs[0], crawler.ErrDetectionLoadFailure)
	require.Empty(t, report.NewProducts)
	require.Empty(t, catalog.Products())
	require.Equal(t, 1, catalog.Discoveries(), "raw discoveries are kept")
}

func TestWorker_Execute_TrackedLoadFailure(t *testing.T) {
	t.Parallel()

	t.Run("FailOpen", func(t *testing.T) {
		t.Parallel()
		catalog := &flakyCatalog{Catalog: memory.NewCatalog([]string{"https://shop.example.com/a1"}, nil), failSourceURLs: true}
		runner := &scriptedRunner{}
		w := newWorker(t, catalog, newRuns(t), nil, runner, Config{}, nil)

		_, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
		require.NoError(t, err)
		require.True(t, runner.called)
		require.Empty(t, runner.tracked)
	})

	t.Run("Strict", func(t *testing.T) {
		t.Parallel()
		catalog := &flakyCatalog{Catalog: memory.NewCatalog(nil, nil), failSourceURLs: true}
		runs := newRuns(t)
		runner := &scriptedRunner{}
		w := newWorker(t, catalog, runs, nil, runner, Config{StrictTrackedLoad: true}, nil)

		report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
		require.ErrorIs(t, err, crawler.ErrDetectionLoadFailure)
		require.Equal(t, store.RunFailed, report.Status)
		require.False(t, runner.called)

		run, err := runs.GetRun(context.Background(), testRunID)
		require.NoError(t, err)
		require.Equal(t, store.RunFailed, run.Status)
		require.NotEmpty(t, run.Error)
	})
}

func TestWorker_Execute_PublishFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.Fail(errors.New("topic not found"))
	runs := newRuns(t)
	emitter := &recordingEmitter{}
	w := newWorker(t, memory.NewCatalog(nil, nil), runs, pub, &scriptedRunner{}, Config{Topic: "detections"}, emitter)

	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.ErrorContains(t, err, "publish report")
	require.Equal(t, store.RunFailed, report.Status)
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunError}, emitter.stages())

	run, err := runs.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status)
}

func TestWorker_Execute_SiteOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		siteErrors []crawler.SiteError
		wantErr    error
	}{
		{
			name:       "OneOfTwoSitesFailedToFetch",
			siteErrors: []crawler.SiteError{{Site: "a", Kind: crawler.KindInternal, Message: "panic"}},
		},
		{
			name: "EverySiteFailed",
			siteErrors: []crawler.SiteError{
				{Site: "a", Kind: crawler.KindInternal},
				{Site: "b", Kind: crawler.KindFetchRetryable},
			},
			wantErr: errors.New("all 2 sites failed"),
		},
		{
			name:       "FinalFlushFailed",
			siteErrors: []crawler.SiteError{{Site: "a", Kind: crawler.KindPersistenceFailure, Message: "db down"}},
			wantErr:    crawler.ErrPersistenceFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &scriptedRunner{summary: crawler.RunSummary{SiteErrors: tt.siteErrors}}
			w := newWorker(t, memory.NewCatalog(nil, nil), newRuns(t), nil, runner, Config{}, nil)
			w.planner = planFunc(func(string, crawler.RunParameters) (Plan, error) {
				return Plan{Sites: []crawler.Site{{Name: "a"}, {Name: "b"}}, Runner: runner}, nil
			})

			report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
			switch want := tt.wantErr; {
			case want == nil:
				require.NoError(t, err)
				require.Equal(t, store.RunSucceeded, report.Status)
			case errors.Is(want, crawler.ErrPersistenceFailure):
				require.ErrorIs(t, err, want)
			default:
				require.EqualError(t, err, want.Error())
			}
			require.Len(t, report.SiteErrors, len(tt.siteErrors))
		})
	}
}

func TestWorker_Execute_PlanFailure(t *testing.T) {
	t.Parallel()

	w := newWorker(t, memory.NewCatalog(nil, nil), newRuns(t), nil, &scriptedRunner{}, Config{}, nil)
	w.planner = planFunc(func(string, crawler.RunParameters) (Plan, error) {
		return Plan{}, errors.New(`unknown site "nope"`)
	})
	report, err := w.Execute(context.Background(), crawler.RunRequest{RunID: testRunID})
	require.ErrorContains(t, err, "unknown site")
	require.Equal(t, store.RunFailed, report.Status)
}

func TestWorker_RunConsumesQueue(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	runs := newRuns(t)
	runner := &scriptedRunner{}
	w, err := New(Deps{
		Queue:   queue,
		Runs:    runs,
		Catalog: memory.NewCatalog(nil, nil),
		Planner: planFunc(func(string, crawler.RunParameters) (Plan, error) { return Plan{Runner: runner}, nil }),
		Logger:  zap.NewNop(),
	}, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, queue.Enqueue(ctx, crawler.RunRequest{RunID: testRunID}))
	require.Eventually(t, func() bool {
		run, err := runs.GetRun(context.Background(), testRunID)
		return err == nil && run.Status == store.RunSucceeded
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
	_, err = New(Deps{Catalog: memory.NewCatalog(nil, nil)}, Config{})
	require.Error(t, err)
}

func newWorker(t *testing.T, catalog store.Catalog, runs store.RunRepository, pub crawler.Publisher, runner SiteRunner, cfg Config, emitter progress.Emitter) *Worker {
	t.Helper()
	deps := Deps{
		Runs:    runs,
		Catalog: catalog,
		Planner: planFunc(func(string, crawler.RunParameters) (Plan, error) {
			return Plan{Sites: []crawler.Site{{Name: "shop", Domain: "shop.example.com"}}, Runner: runner}, nil
		}),
		Publisher: pub,
		Emitter:   emitter,
		Clock:     fixedClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		Logger:    zap.NewNop(),
	}
	w, err := New(deps, cfg)
	require.NoError(t, err)
	return w
}

func newRuns(t *testing.T) *memory.RunStore {
	t.Helper()
	runs := memory.NewRunStore()
	require.NoError(t, runs.CreateRun(context.Background(), store.CrawlRun{ID: testRunID, Status: store.RunQueued}))
	return runs
}

func product(raw string) crawler.DiscoveredURL {
	canonical, _ := crawler.Canonicalize(raw)
	return crawler.DiscoveredURL{URL: raw, CanonicalURL: canonical, Domain: "shop.example.com", Title: "Product"}
}

func offer(raw string) crawler.DiscoveredURL {
	d := product(raw)
	d.IsOffer = true
	d.OfferTitle = "Spring sale"
	return d
}

type planFunc func(runID string, params crawler.RunParameters) (Plan, error)

func (f planFunc) Plan(runID string, params crawler.RunParameters) (Plan, error) {
	return f(runID, params)
}

// scriptedRunner replays fixed batches through the persist callback.
type scriptedRunner struct {
	batches [][]crawler.DiscoveredURL
	summary crawler.RunSummary

	called  bool
	tracked map[string]struct{}
	errs    []error
}

func (r *scriptedRunner) Run(ctx context.Context, _ []crawler.Site, tracked map[string]struct{}, persist crawl.BatchFunc) crawler.RunSummary {
	r.called = true
	r.tracked = tracked
	for _, batch := range r.batches {
		r.errs = append(r.errs, persist(ctx, batch, crawler.CrawlStats{Site: "shop", Discoveries: len(batch)}))
	}
	return r.summary
}

type flakyCatalog struct {
	*memory.Catalog

	mu              sync.Mutex
	failNewProducts int
	failSKUs        bool
	failSourceURLs  bool
	failOfferLoadAt int
	offerLoads      int
}

func (c *flakyCatalog) UpsertNewProducts(ctx context.Context, runID string, items []crawler.DiscoveredURL) error {
	c.mu.Lock()
	if c.failNewProducts > 0 {
		c.failNewProducts--
		c.mu.Unlock()
		return errors.New("deadlock detected")
	}
	c.mu.Unlock()
	return c.Catalog.UpsertNewProducts(ctx, runID, items)
}

func (c *flakyCatalog) ListKnownSKUs(ctx context.Context) ([]string, error) {
	if c.failSKUs {
		return nil, errors.New("connection refused")
	}
	return c.Catalog.ListKnownSKUs(ctx)
}

func (c *flakyCatalog) ListOfferURLs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	c.offerLoads++
	fail := c.offerLoads == c.failOfferLoadAt
	c.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return c.Catalog.ListOfferURLs(ctx)
}

func (c *flakyCatalog) ListSourceCanonicalURLs(ctx context.Context) ([]string, error) {
	if c.failSourceURLs {
		return nil, errors.New("connection refused")
	}
	return c.Catalog.ListSourceCanonicalURLs(ctx)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}
