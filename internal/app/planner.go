package app

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/config"
	"github.com/JakeFAU/supplier-discovery/internal/crawl"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/policy/ratelimit"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
	"github.com/JakeFAU/supplier-discovery/internal/worker"
)

// Planner resolves run parameters against the configured defaults and
// builds the runner for one run. It implements worker.Planner.
type Planner struct {
	cfg        config.Config
	fetcher    crawl.Fetcher
	classifier *classify.Classifier
	limiter    *ratelimit.Limiter
	archiver   crawl.Archiver
	clock      crawler.Clock
	emitter    progress.Emitter
	logger     *zap.Logger
}

// Settings are the effective crawl settings of one run.
type Settings struct {
	Sites         []crawler.Site
	MaxPages      int
	MinDelay      time.Duration
	MaxDelay      time.Duration
	Sequential    bool
	SkipCooldown  bool
	Cooldown      time.Duration
	BatchSize     int
	BatchInterval time.Duration
}

// Resolve merges params over the configured crawl defaults.
func (p *Planner) Resolve(params crawler.RunParameters) (Settings, error) {
	sites, err := p.cfg.SelectSites(params.Sites)
	if err != nil {
		return Settings{}, err
	}
	if len(sites) == 0 {
		return Settings{}, errors.New("no sites configured")
	}
	c := p.cfg.Crawler
	s := Settings{
		Sites:         sites,
		MaxPages:      intOr(params.MaxPagesPerSite, c.MaxPagesPerSite),
		MinDelay:      millis(intOr(params.MinDelayMs, c.MinDelayMs)),
		MaxDelay:      millis(intOr(params.MaxDelayMs, c.MaxDelayMs)),
		Sequential:    boolOr(params.Sequential, c.Sequential),
		SkipCooldown:  boolOr(params.SkipCooldown, false),
		Cooldown:      time.Duration(c.SiteCooldownSeconds) * time.Second,
		BatchSize:     intOr(params.BatchSize, c.BatchSize),
		BatchInterval: time.Duration(intOr(params.BatchIntervalSeconds, c.BatchIntervalSeconds)) * time.Second,
	}
	switch {
	case s.MaxPages <= 0:
		return Settings{}, fmt.Errorf("max_pages_per_site must be > 0, got %d", s.MaxPages)
	case s.MinDelay < 0 || s.MaxDelay < s.MinDelay:
		return Settings{}, fmt.Errorf("delay window %s..%s is invalid", s.MinDelay, s.MaxDelay)
	case s.BatchSize <= 0:
		return Settings{}, fmt.Errorf("batch_size must be > 0, got %d", s.BatchSize)
	case s.BatchInterval <= 0:
		return Settings{}, errors.New("batch_interval_seconds must be > 0")
	}
	return s, nil
}

// Plan implements worker.Planner.
func (p *Planner) Plan(runID string, params crawler.RunParameters) (worker.Plan, error) {
	s, err := p.Resolve(params)
	if err != nil {
		return worker.Plan{}, err
	}
	pacer := ratelimit.NewPacer(p.limiter, s.MinDelay, s.MaxDelay)
	render := crawler.RenderOptions{
		RenderJS: p.cfg.Renderer.RenderJS,
		Timeout:  p.cfg.FetchTimeout(),
		ProxyURL: p.cfg.Renderer.ProxyURL,
		Stealth:  p.cfg.Renderer.Stealth,
	}
	factory := func(site crawler.Site) (*crawl.Orchestrator, error) {
		return crawl.New(crawl.Config{
			RunID:         runID,
			Site:          site,
			MaxPages:      s.MaxPages,
			BatchSize:     s.BatchSize,
			BatchInterval: s.BatchInterval,
			Render:        render,
		}, crawl.Deps{
			Fetcher:    p.fetcher,
			Classifier: p.classifier,
			Pacer:      pacer,
			Clock:      p.clock,
			Archiver:   p.archiver,
			Emitter:    p.emitter,
			Logger:     p.logger,
		})
	}
	runner := crawl.NewRunner(crawl.RunnerConfig{
		Sequential:   s.Sequential,
		Cooldown:     s.Cooldown,
		SkipCooldown: s.SkipCooldown,
	}, factory, p.logger)

	p.logger.Debug("run planned",
		zap.String("run_id", runID),
		zap.Int("sites", len(s.Sites)),
		zap.Int("max_pages", s.MaxPages),
		zap.Duration("min_delay", s.MinDelay),
		zap.Duration("max_delay", s.MaxDelay),
		zap.Bool("sequential", s.Sequential),
	)
	return worker.Plan{Sites: s.Sites, Runner: runner}, nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
