// Package worker executes queued crawl runs: it crawls the run's sites,
// persists and deduplicates discoveries batch by batch, and publishes the
// run's detection report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawl"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/matcher"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

const finalizeTimeout = 30 * time.Second

// SiteRunner crawls a set of sites. *crawl.Runner satisfies it.
type SiteRunner interface {
	Run(ctx context.Context, sites []crawler.Site, tracked map[string]struct{}, persist crawl.BatchFunc) crawler.RunSummary
}

// Plan is a run's parameters resolved against configuration.
type Plan struct {
	Sites  []crawler.Site
	Runner SiteRunner
}

// Planner resolves run parameters into the sites and runner to use.
type Planner interface {
	Plan(runID string, params crawler.RunParameters) (Plan, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic is the publish topic for detection reports.
	Topic string
	// StrictTrackedLoad fails a run whose tracked URLs cannot be loaded
	// instead of crawling with an empty tracked set.
	StrictTrackedLoad bool
}

// Deps are the collaborators of a Worker. Runs, Publisher and Emitter are
// optional.
type Deps struct {
	Queue     crawler.RunQueue
	Runs      store.RunRepository
	Catalog   store.Catalog
	Publisher crawler.Publisher
	Planner   Planner
	Clock     crawler.Clock
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Worker consumes queued runs and executes them.
type Worker struct {
	queue     crawler.RunQueue
	runs      store.RunRepository
	catalog   store.Catalog
	publisher crawler.Publisher
	planner   Planner
	offers    *matcher.OfferMatcher
	clock     crawler.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// Report is the outcome of one run, published for downstream consumers.
type Report struct {
	RunID       string                  `json:"run_id"`
	Status      store.RunStatus         `json:"status"`
	Error       string                  `json:"error,omitempty"`
	Counters    store.RunCounters       `json:"counters"`
	NewProducts []crawler.DiscoveredURL `json:"new_products"`
	NewOffers   []store.Offer           `json:"new_offers"`
	SiteErrors  []crawler.SiteError     `json:"site_errors,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Summary     crawler.RunSummary      `json:"-"`
}

// PublishAttributes tags published reports for subscriber filtering.
func (r Report) PublishAttributes() map[string]string {
	return map[string]string{"run_id": r.RunID, "status": string(r.Status)}
}

// New constructs a Worker.
func New(deps Deps, cfg Config) (*Worker, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if deps.Planner == nil {
		return nil, errors.New("planner is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	logger := deps.Logger.Named("worker")
	offers, err := matcher.NewOfferMatcher(deps.Catalog, deps.Clock, logger)
	if err != nil {
		return nil, fmt.Errorf("offer matcher: %w", err)
	}
	return &Worker{
		queue:     deps.Queue,
		runs:      deps.Runs,
		catalog:   deps.Catalog,
		publisher: deps.Publisher,
		planner:   deps.Planner,
		offers:    offers,
		clock:     deps.Clock,
		emitter:   deps.Emitter,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run blocks, consuming queued runs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	if w.queue == nil {
		w.logger.Error("worker started without a queue")
		return
	}
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID))
		if _, err := w.Execute(ctx, req); err != nil {
			w.logger.Warn("run failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}
}

// Execute runs one crawl to completion. The returned report is populated
// even when the run fails.
func (w *Worker) Execute(ctx context.Context, req crawler.RunRequest) (Report, error) {
	ctx, span := otel.Tracer("supplier-discovery/worker").Start(ctx, "run.execute",
		trace.WithAttributes(attribute.String("run.id", req.RunID)))
	defer span.End()

	report, err := w.execute(ctx, req)
	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Int("run.new_products", len(report.NewProducts)),
		attribute.Int("run.new_offers", len(report.NewOffers)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (w *Worker) execute(ctx context.Context, req crawler.RunRequest) (Report, error) {
	logger := w.logger.With(zap.String("run_id", req.RunID))
	report := Report{RunID: req.RunID, Status: store.RunRunning, StartedAt: w.clock.Now()}

	if err := w.updateRun(ctx, req.RunID, store.RunRunning, "", store.RunCounters{}); err != nil {
		return w.finish(ctx, logger, report, fmt.Errorf("mark run running: %w", err))
	}
	w.emit(progress.Event{RunID: progress.RunIDBytes(req.RunID), Stage: progress.StageRunStart})

	plan, err := w.planner.Plan(req.RunID, req.Params)
	if err != nil {
		return w.finish(ctx, logger, report, fmt.Errorf("plan run: %w", err))
	}
	tracked, err := w.loadTracked(ctx, logger)
	if err != nil {
		return w.finish(ctx, logger, report, err)
	}
	logger.Info("run started", zap.Int("sites", len(plan.Sites)), zap.Int("tracked", len(tracked)))

	p := newPass(w, req.RunID, logger)
	summary := plan.Runner.Run(ctx, plan.Sites, tracked, p.persist)

	report.Summary = summary
	report.Counters = p.finalCounters(summary)
	report.NewProducts = p.newProducts()
	report.NewOffers = p.newOffers()
	report.SiteErrors = summary.SiteErrors

	return w.finish(ctx, logger, report, runError(ctx, plan, summary))
}

// runError decides whether a completed crawl counts as failed: when it was
// interrupted, when every site failed, or when a site's discoveries could not
// be persisted and deduplicated.
func runError(ctx context.Context, plan Plan, summary crawler.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if n := len(plan.Sites); n > 0 && len(summary.SiteErrors) >= n {
		return fmt.Errorf("all %d sites failed", n)
	}
	for _, se := range summary.SiteErrors {
		if se.Kind == crawler.KindPersistenceFailure || se.Kind == crawler.KindDetectionLoadFailure {
			return crawler.NewError(se.Kind, "site "+se.Site, "", errors.New(se.Message))
		}
	}
	return nil
}

// finish publishes the report, stores the terminal status and emits the
// closing event. It runs on a context detached from cancellation so an
// interrupted run is still recorded.
func (w *Worker) finish(ctx context.Context, logger *zap.Logger, report Report, runErr error) (Report, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	report.Status = store.RunSucceeded
	if runErr == nil && w.publisher != nil {
		if _, err := w.publisher.Publish(fctx, w.cfg.Topic, report); err != nil {
			runErr = fmt.Errorf("publish report: %w", err)
		}
	}
	if runErr != nil {
		report.Status = store.RunFailed
		report.Error = runErr.Error()
	}
	report.FinishedAt = w.clock.Now()

	if err := w.updateRun(fctx, report.RunID, report.Status, report.Error, report.Counters); err != nil {
		logger.Error("update run status failed", zap.Error(err))
	}
	metrics.ObserveRun(string(report.Status))

	evt := progress.Event{
		RunID:       progress.RunIDBytes(report.RunID),
		Stage:       progress.StageRunDone,
		Visits:      int64(report.Counters.Visited),
		Discoveries: int64(report.Counters.Discoveries),
		Errors:      int64(report.Counters.Errors),
		Dur:         report.FinishedAt.Sub(report.StartedAt),
	}
	if runErr != nil {
		evt.Stage = progress.StageRunError
		evt.Kind = string(crawler.KindOf(runErr))
		evt.Note = runErr.Error()
		logger.Warn("run failed", zap.Error(runErr))
	} else {
		logger.Info("run completed",
			zap.Int("visited", report.Counters.Visited),
			zap.Int("discoveries", report.Counters.Discoveries),
			zap.Int("new_products", report.Counters.NewProducts),
			zap.Int("new_offers", report.Counters.NewOffers),
		)
	}
	w.emit(evt)
	return report, runErr
}

// loadTracked reads the catalog's known product and offer URLs in canonical
// form. A read failure degrades to an empty set unless the worker is strict.
func (w *Worker) loadTracked(ctx context.Context, logger *zap.Logger) (map[string]struct{}, error) {
	products, err := w.catalog.ListSourceCanonicalURLs(ctx)
	var offers []string
	if err == nil {
		offers, err = w.catalog.ListOfferURLs(ctx)
	}
	if err != nil {
		if w.cfg.StrictTrackedLoad {
			return nil, crawler.NewError(crawler.KindDetectionLoadFailure, "load tracked urls", "", err)
		}
		logger.Warn("tracked url load failed, crawling with an empty tracked set", zap.Error(err))
		return map[string]struct{}{}, nil
	}
	tracked := make(map[string]struct{}, len(products)+len(offers))
	for _, raw := range append(products, offers...) {
		canonical, err := crawler.Canonicalize(raw)
		if err != nil {
			continue
		}
		tracked[canonical] = struct{}{}
	}
	return tracked, nil
}

func (w *Worker) updateRun(ctx context.Context, runID string, status store.RunStatus, errText string, counters store.RunCounters) error {
	if w.runs == nil {
		return nil
	}
	if err := w.runs.UpdateRun(ctx, runID, status, errText, counters); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return nil
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = w.clock.Now()
	}
	w.emitter.Emit(evt)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
