// Package app builds the long-lived services of the process from
// configuration and hands them to the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/clock/system"
	"github.com/JakeFAU/supplier-discovery/internal/config"
	"github.com/JakeFAU/supplier-discovery/internal/crawl"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/supplier-discovery/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/supplier-discovery/internal/fetcher/headless"
	"github.com/JakeFAU/supplier-discovery/internal/fetcher/hybrid"
	"github.com/JakeFAU/supplier-discovery/internal/fetcher/render"
	"github.com/JakeFAU/supplier-discovery/internal/fetcher/resilient"
	"github.com/JakeFAU/supplier-discovery/internal/hash/sha256"
	"github.com/JakeFAU/supplier-discovery/internal/headless/detector"
	"github.com/JakeFAU/supplier-discovery/internal/id/uuid"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
	"github.com/JakeFAU/supplier-discovery/internal/policy/ratelimit"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
	progresssinks "github.com/JakeFAU/supplier-discovery/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/supplier-discovery/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/supplier-discovery/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/supplier-discovery/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/supplier-discovery/internal/storage/gcs"
	localstorage "github.com/JakeFAU/supplier-discovery/internal/storage/local"
	memoryStorage "github.com/JakeFAU/supplier-discovery/internal/storage/memory"
	pgstore "github.com/JakeFAU/supplier-discovery/internal/storage/postgres"
	"github.com/JakeFAU/supplier-discovery/internal/store"
	"github.com/JakeFAU/supplier-discovery/internal/telemetry"
	"github.com/JakeFAU/supplier-discovery/internal/worker"
)

// App holds the shared services of the process. It is built once at startup
// and closed on shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock     crawler.Clock
	ids       crawler.IDGenerator
	catalog   store.Catalog
	runs      store.RunRepository
	queue     *queueMemory.Queue
	publisher crawler.Publisher
	hub       *progress.Hub
	planner   *Planner

	renderClient *render.Client
	headless     *headlessfetcher.Renderer
	pgStore      *pgstore.Store
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	tracer       *sdktrace.TracerProvider
}

// Options override infrastructure for tests.
type Options struct {
	// Renderer replaces the configured render backend.
	Renderer crawler.Renderer
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// New builds every service named by cfg. The returned App must be closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),
		queue:  queueMemory.NewQueue(cfg.Server.QueueDepth),
	}
	a.logger.Info("building application dependencies")

	if err := a.setupTracing(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.setupDatabase(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.setupProgress(ctx, opts.Registerer)

	renderer := opts.Renderer
	if renderer == nil {
		renderer, err = a.setupRenderer()
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	fetcher, err := a.setupFetcher(renderer)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.planner = &Planner{
		cfg:        cfg,
		fetcher:    fetcher,
		classifier: classify.New(cfg.Classifier),
		limiter:    newLimiter(cfg),
		clock:      a.clock,
		emitter:    a.emitter(),
		logger:     logger,
	}
	if blobs != nil {
		archiver, err := crawl.NewSnapshotArchiver(blobs, sha256.New(), cfg.Storage.Prefix)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("snapshot archiver init failed: %w", err)
		}
		a.planner.archiver = archiver
	}
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runs returns the run repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// Queue returns the run queue.
func (a *App) Queue() *queueMemory.Queue { return a.queue }

// Planner returns the run planner.
func (a *App) Planner() *Planner { return a.planner }

// Clock returns the process clock.
func (a *App) Clock() crawler.Clock { return a.clock }

// IDs returns the run ID generator.
func (a *App) IDs() crawler.IDGenerator { return a.ids }

// Ready reports whether the render backend and the database answer.
func (a *App) Ready(ctx context.Context) error {
	if a.renderClient != nil {
		if err := a.renderClient.Health(ctx); err != nil {
			return fmt.Errorf("render service: %w", err)
		}
	}
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// NewWorker builds a run worker over the shared services.
func (a *App) NewWorker(index int) (*worker.Worker, error) {
	w, err := worker.New(worker.Deps{
		Queue:     a.queue,
		Runs:      a.runs,
		Catalog:   a.catalog,
		Publisher: a.publisher,
		Planner:   a.planner,
		Clock:     a.clock,
		Emitter:   a.emitter(),
		Logger:    a.logger.With(zap.Int("worker", index)),
	}, worker.Config{
		Topic:             a.cfg.PubSub.TopicName,
		StrictTrackedLoad: a.cfg.Crawler.StrictTrackedLoad,
	})
	if err != nil {
		return nil, fmt.Errorf("worker %d init failed: %w", index, err)
	}
	return w, nil
}

// Dispatcher builds the worker pool configured by server.workers.
func (a *App) Dispatcher() (*dispatcher.Dispatcher, error) {
	runners := make([]dispatcher.Runner, 0, a.cfg.Server.Workers)
	for i := 0; i < a.cfg.Server.Workers; i++ {
		w, err := a.NewWorker(i)
		if err != nil {
			return nil, err
		}
		runners = append(runners, w)
	}
	a.logger.Info("worker pool ready", zap.Int("workers", len(runners)))
	return dispatcher.New(a.queue, runners), nil
}

// Validate checks params against the configured sites and defaults.
func (a *App) Validate(params crawler.RunParameters) error {
	_, err := a.planner.Resolve(params)
	return err
}

// Submit records a queued run. Callers enqueue the returned request.
func (a *App) Submit(ctx context.Context, params crawler.RunParameters) (crawler.RunRequest, error) {
	if err := a.Validate(params); err != nil {
		return crawler.RunRequest{}, err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.RunRequest{}, fmt.Errorf("generate run id: %w", err)
	}
	now := a.clock.Now()
	if err := a.runs.CreateRun(ctx, store.CrawlRun{
		ID:        runID,
		Status:    store.RunQueued,
		Params:    params,
		CreatedAt: now,
	}); err != nil {
		return crawler.RunRequest{}, fmt.Errorf("create run: %w", err)
	}
	return crawler.RunRequest{RunID: runID, Params: params, Submitted: now}, nil
}

// RunOnce executes one run in the calling goroutine.
func (a *App) RunOnce(ctx context.Context, params crawler.RunParameters) (worker.Report, error) {
	req, err := a.Submit(ctx, params)
	if err != nil {
		return worker.Report{}, err
	}
	w, err := a.NewWorker(0)
	if err != nil {
		return worker.Report{}, err
	}
	return w.Execute(ctx, req)
}

// Close releases every service. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		stats := a.hub.Stats()
		a.logger.Info("progress hub closed",
			zap.Int64("events", stats.Emitted),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("batches", stats.Batches),
		)
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func newLimiter(cfg config.Config) *ratelimit.Limiter {
	overrides := make(map[string]float64)
	for _, site := range cfg.Sites {
		if site.RPS > 0 {
			overrides[site.Domain] = site.RPS
		}
	}
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.DomainRPS,
		DefaultBurst: cfg.Crawler.DomainBurst,
		DomainRPS:    overrides,
	})
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		telemetry.SetPropagators()
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio))
	return nil
}

func (a *App) emitter() progress.Emitter {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using the in-memory catalog")
		a.catalog = memoryStorage.NewCatalog(nil, nil)
		a.runs = memoryStorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pgStore = pg
	if a.cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("database migrate failed: %w", err)
		}
	}
	a.catalog = pg
	a.runs = pg
	a.logger.Info("postgres catalog initialized")
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory snapshot storage")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("snapshot storage disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.PubSub.Backend {
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.gcpPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
		a.publisher = a.gcpPublisher
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	case config.BackendMemory:
		a.publisher = memorypublisher.New()
	default:
		a.logger.Info("report publishing disabled")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) {
	sinks := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		a.logger.Warn("progress prometheus sink disabled", zap.Error(err))
	} else {
		sinks = append(sinks, promSink)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchMaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.BatchMaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinks...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinks)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
}

func (a *App) setupRenderer() (crawler.Renderer, error) {
	rc := a.cfg.Renderer
	switch rc.Backend {
	case config.BackendHeadless:
		return a.headlessRenderer()
	case config.BackendDirect:
		a.logger.Info("using direct colly renderer", zap.String("user_agent", rc.UserAgent))
		return a.directRenderer(), nil
	case config.BackendHybrid:
		browser, err := a.headlessRenderer()
		if err != nil {
			return nil, err
		}
		r, err := hybrid.New(a.directRenderer(), browser, detector.NewHeuristic(rc.PromotionMinText), a.logger.Named("hybrid"))
		if err != nil {
			return nil, fmt.Errorf("hybrid renderer init failed: %w", err)
		}
		a.logger.Info("using hybrid renderer", zap.Int("promotion_min_text", rc.PromotionMinText))
		return r, nil
	case config.BackendService:
		c, err := render.New(render.Config{
			Endpoint: rc.Endpoint,
			Timeout:  a.cfg.FetchTimeout(),
		}, a.logger.Named("render"))
		if err != nil {
			return nil, fmt.Errorf("render client init failed: %w", err)
		}
		a.renderClient = c
		a.logger.Info("using render service", zap.String("endpoint", rc.Endpoint))
		return c, nil
	default:
		return nil, errors.New("unknown renderer backend " + rc.Backend)
	}
}

func (a *App) directRenderer() *collyfetcher.Fetcher {
	rc := a.cfg.Renderer
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     rc.UserAgent,
		RespectRobots: rc.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})
}

func (a *App) headlessRenderer() (*headlessfetcher.Renderer, error) {
	rc := a.cfg.Renderer
	r, err := headlessfetcher.New(headlessfetcher.Config{
		MaxParallel:       rc.HeadlessMaxParallel,
		UserAgent:         rc.UserAgent,
		NavigationTimeout: a.cfg.FetchTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	a.headless = r
	a.logger.Info("using headless renderer", zap.Int("max_parallel", rc.HeadlessMaxParallel))
	return r, nil
}

func (a *App) setupFetcher(renderer crawler.Renderer) (*resilient.Fetcher, error) {
	rc := a.cfg.Renderer
	breaker := resilient.NewBreaker(resilient.BreakerConfig{
		Name:             "render",
		FailureThreshold: rc.BreakerThreshold,
		Cooldown:         time.Duration(rc.BreakerCooldownSec) * time.Second,
		Logger:           a.logger.Named("breaker"),
	})
	f, err := resilient.New(renderer, breaker, resilient.Config{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   time.Duration(rc.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(rc.BackoffMaxMs) * time.Millisecond,
		Timeout:     a.cfg.FetchTimeout(),
	}, a.logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	return f, nil
}
