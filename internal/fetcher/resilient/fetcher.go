package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

const opFetch = "fetch"

// Config tunes retries and per-attempt deadlines.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// Fetcher is the resilient fetch client. It is safe for concurrent use; the
// only shared state is the injected Breaker.
type Fetcher struct {
	renderer crawler.Renderer
	breaker  *Breaker
	retry    *RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// New wires a Fetcher. breaker may be shared across fetchers.
func New(renderer crawler.Renderer, breaker *Breaker, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if breaker == nil {
		return nil, errors.New("breaker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Fetcher{
		renderer: renderer,
		breaker:  breaker,
		retry:    NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay),
		timeout:  cfg.Timeout,
		logger:   logger.Named("fetch"),
		sleep:    sleepContext,
	}, nil
}

// Fetch renders url through the breaker and retry loop. Failures are
// *crawler.Error values; the kind tells callers whether the page may succeed
// later.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	start := time.Now()
	res, err := f.breaker.Execute(url, func() (crawler.RenderResult, error) {
		return f.fetchWithRetry(ctx, url, opts)
	})
	outcome := "ok"
	if err != nil {
		outcome = string(crawler.KindOf(err))
		f.logger.Debug("fetch failed",
			zap.String("url", url),
			zap.String("kind", outcome),
			zap.Error(err),
		)
	}
	metrics.ObserveFetch(url, outcome, len(res.HTML), time.Since(start))
	return res, err
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := f.attempt(ctx, url, opts)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opFetch, url, ctxErr)
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return crawler.RenderResult{}, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opFetch, url, err)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := f.renderer.Render(attemptCtx, url, opts)
	if err != nil {
		if crawler.KindOf(err) != "" {
			return crawler.RenderResult{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("render timed out after %s: %w", timeout, err)
		}
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opFetch, url, err)
	}
	if res.URL == "" {
		res.URL = url
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
