package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

// Pacer waits a random delay in [min, max] before each fetch, then takes a
// token from the shared Limiter. A nil Limiter skips the QPS ceiling.
type Pacer struct {
	limiter *Limiter
	min     time.Duration
	max     time.Duration
	jitter  func(n int64) int64
}

// NewPacer builds a Pacer. min and max are swapped when given in reverse and
// negative values are treated as zero.
func NewPacer(limiter *Limiter, minDelay, maxDelay time.Duration) *Pacer {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	return &Pacer{
		limiter: limiter,
		min:     minDelay,
		max:     maxDelay,
		jitter:  rand.Int64N,
	}
}

// Bounds returns the configured delay window.
func (p *Pacer) Bounds() (time.Duration, time.Duration) {
	return p.min, p.max
}

// Pause sleeps before fetching rawURL and returns the random delay that was
// applied. It returns early with the context error when ctx is done.
func (p *Pacer) Pause(ctx context.Context, rawURL string) (time.Duration, error) {
	delay := p.next()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("pacing delay: %w", ctx.Err())
		case <-timer.C:
		}
		metrics.ObservePacingDelay(domainOf(rawURL), delay)
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return delay, err
		}
	}
	return delay, nil
}

func (p *Pacer) next() time.Duration {
	span := int64(p.max - p.min)
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.jitter(span+1))
}
