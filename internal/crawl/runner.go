package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

const defaultCooldown = 30 * time.Second

// Factory builds the orchestrator for one site.
type Factory func(site crawler.Site) (*Orchestrator, error)

// RunnerConfig selects how a run's sites are scheduled.
type RunnerConfig struct {
	// Sequential crawls one site at a time with Cooldown between sites.
	Sequential   bool
	Cooldown     time.Duration
	SkipCooldown bool
}

// Runner crawls a set of sites and aggregates their results. A failing or
// panicking site never aborts the others.
type Runner struct {
	cfg     RunnerConfig
	factory Factory
	logger  *zap.Logger
	wait    func(context.Context, time.Duration) error
}

// NewRunner wires a Runner.
func NewRunner(cfg RunnerConfig, factory Factory, logger *zap.Logger) *Runner {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		factory: factory,
		logger:  logger.Named("runner"),
		wait:    waitContext,
	}
}

type siteOutcome struct {
	result crawler.SiteResult
	err    error
}

// Run crawls every site and returns the aggregated summary. The summary is
// assembled in input order whichever mode is used.
func (r *Runner) Run(ctx context.Context, sites []crawler.Site, tracked map[string]struct{}, persist BatchFunc) crawler.RunSummary {
	start := time.Now()
	outcomes := make([]siteOutcome, len(sites))

	if r.cfg.Sequential {
		r.runSequential(ctx, sites, tracked, persist, outcomes)
	} else {
		r.runConcurrent(ctx, sites, tracked, persist, outcomes)
	}

	summary := aggregate(sites, outcomes)
	summary.Duration = time.Since(start)
	r.logger.Info("run crawl finished",
		zap.Int("sites", summary.SitesProcessed),
		zap.Int("visited", summary.TotalVisited),
		zap.Int("discoveries", len(summary.Discoveries)),
		zap.Int("site_errors", len(summary.SiteErrors)),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

func (r *Runner) runConcurrent(ctx context.Context, sites []crawler.Site, tracked map[string]struct{}, persist BatchFunc, outcomes []siteOutcome) {
	var g errgroup.Group
	if len(sites) > 0 {
		g.SetLimit(len(sites))
	}
	for i, site := range sites {
		g.Go(func() error {
			outcomes[i] = r.crawlSite(ctx, site, tracked, persist)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) runSequential(ctx context.Context, sites []crawler.Site, tracked map[string]struct{}, persist BatchFunc, outcomes []siteOutcome) {
	for i, site := range sites {
		if i > 0 && !r.cfg.SkipCooldown {
			r.logger.Info("cooling down between sites", zap.Duration("cooldown", r.cfg.Cooldown), zap.String("next", site.Name))
			if err := r.wait(ctx, r.cfg.Cooldown); err != nil {
				r.logger.Warn("cooldown interrupted", zap.Error(err))
			}
		}
		outcomes[i] = r.crawlSite(ctx, site, tracked, persist)
	}
}

func (r *Runner) crawlSite(ctx context.Context, site crawler.Site, tracked map[string]struct{}, persist BatchFunc) (out siteOutcome) {
	out.result = crawler.SiteResult{Site: site.Name}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("site crawl panicked", zap.String("site", site.Name), zap.Any("panic", rec))
			out.err = crawler.NewError(crawler.KindInternal, "crawl", "", fmt.Errorf("panic: %v", rec))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	orch, err := r.factory(site)
	if err != nil {
		out.err = crawler.NewError(crawler.KindInternal, "crawl", "", fmt.Errorf("build orchestrator: %w", err))
		return out
	}
	res, err := orch.Crawl(ctx, tracked, persist)
	out.result = res
	out.err = err
	if err != nil {
		r.logger.Warn("site crawl ended with error", zap.String("site", site.Name), zap.Error(err))
	}
	return out
}

func aggregate(sites []crawler.Site, outcomes []siteOutcome) crawler.RunSummary {
	var summary crawler.RunSummary
	for i, out := range outcomes {
		res := out.result
		if res.Site == "" {
			res.Site = sites[i].Name
		}
		summary.Sites = append(summary.Sites, res)
		summary.TotalVisited += len(res.Visited)
		summary.Errors = append(summary.Errors, res.Errors...)
		for _, d := range res.Discoveries {
			summary.Discoveries = append(summary.Discoveries, d)
			if d.IsOffer {
				summary.OfferCount++
			} else {
				summary.ProductCount++
			}
		}
		if out.err != nil {
			kind := crawler.KindOf(out.err)
			if kind == "" {
				kind = crawler.KindInternal
			}
			summary.SiteErrors = append(summary.SiteErrors, crawler.SiteError{
				Site:    res.Site,
				Kind:    kind,
				Message: out.err.Error(),
			})
		}
		summary.SitesProcessed++
	}
	return summary
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
