// Package ratelimit paces requests per domain: a token bucket sets the QPS
// ceiling and a Pacer adds human-like random delays on top.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

// Config sets the token buckets. Domains are matched without a leading
// "www.".
type Config struct {
	// DefaultRPS applies to every domain without an override. Zero or less
	// disables the ceiling.
	DefaultRPS   float64
	DefaultBurst int
	// DomainRPS overrides DefaultRPS for individual domains.
	DomainRPS map[string]float64
}

// Limiter holds one token bucket per domain, created on first use.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	overrides := make(map[string]float64, len(cfg.DomainRPS))
	for d, rps := range cfg.DomainRPS {
		overrides[normalizeDomain(d)] = rps
	}
	cfg.DomainRPS = overrides
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// Wait blocks until rawURL's domain has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	bucket := l.bucket(domain)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(domain, waited)
	}
	return nil
}

// Limit reports the QPS ceiling applied to domain.
func (l *Limiter) Limit(domain string) rate.Limit {
	return l.bucket(normalizeDomain(domain)).Limit()
}

func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[domain]; ok {
		return b
	}
	rps, ok := l.cfg.DomainRPS[domain]
	if !ok {
		rps = l.cfg.DefaultRPS
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	b := rate.NewLimiter(limit, l.cfg.DefaultBurst)
	l.buckets[domain] = b
	return b
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
}
