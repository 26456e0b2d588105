// Package resilient wraps a crawler.Renderer with retries and a circuit
// breaker shared by every crawl worker in the process.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *zap.Logger
}

// Breaker opens after FailureThreshold consecutive failed calls, rejects
// calls for Cooldown, then admits a single probe. Construct one per process
// and hand it to every Fetcher.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[crawler.RenderResult]
}

// NewBreaker builds a Breaker. Defaults: 5 failures, 60s cooldown.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "render"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := uint32(cfg.FailureThreshold)
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, stateValue(to))
			metrics.ObserveBreakerTransition(name, to.String())
		},
		IsSuccessful: countsAsSuccess,
	}
	metrics.SetBreakerState(cfg.Name, metrics.BreakerClosed)
	return &Breaker{
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker[crawler.RenderResult](settings),
	}
}

// Execute runs fn through the breaker. Rejected calls return a CircuitOpen
// error without invoking fn.
func (b *Breaker) Execute(url string, fn func() (crawler.RenderResult, error)) (crawler.RenderResult, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindCircuitOpen, "fetch", url, err)
	}
	return res, err
}

// State reports "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name identifies the breaker in logs and metrics.
func (b *Breaker) Name() string {
	return b.name
}

// countsAsSuccess keeps answers from a healthy backend (4xx rejections) and
// caller cancellations out of the failure count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return crawler.KindOf(err) == crawler.KindFetchNonRetryable
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}
