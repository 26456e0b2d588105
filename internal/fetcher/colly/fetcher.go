// Package collyfetcher implements crawler.Renderer with plain HTTP GETs via
// gocolly. It does not execute JavaScript and serves as the "direct" backend.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

const opDirect = "direct fetch"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Fetcher implements crawler.Renderer using a Colly collector per request.
// Transports are pooled per proxy so keep-alive connections survive.
type Fetcher struct {
	cfg Config

	mu         sync.Mutex
	transports map[string]*http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{cfg: cfg, transports: make(map[string]*http.Transport)}
}

// Render fetches target and returns the raw HTML. RenderJS and Stealth are
// ignored. Non-2xx responses are returned with their status, not as errors.
func (f *Fetcher) Render(ctx context.Context, target string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindInvalidURL, opDirect, target, crawler.ErrInvalidURL)
	}
	var (
		result   crawler.RenderResult
		fetchErr error
	)
	collector, err := f.buildCollector(opts)
	if err != nil {
		return crawler.RenderResult{}, err
	}
	f.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawler.RenderResult{}, categorize(target, err)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(opts crawler.RenderOptions) (*colly.Collector, error) {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.ParseHTTPErrorResponse = true
	timeout := f.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	collector.SetRequestTimeout(timeout)

	transport, err := f.transportFor(opts.ProxyURL)
	if err != nil {
		return nil, crawler.NewError(crawler.KindFetchNonRetryable, opDirect, "", err)
	}
	collector.WithTransport(transport)
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.RenderResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.RenderResult{
			URL:        r.Request.URL.String(),
			HTML:       string(r.Body),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) transportFor(proxyURL string) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[proxyURL]; ok {
		return t, nil
	}
	t := newHTTPTransport()
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", proxyURL)
		}
		t.Proxy = http.ProxyURL(parsed)
	}
	f.transports[proxyURL] = t
	return t, nil
}

// categorize maps collector failures onto the crawl error taxonomy. Policy
// refusals are permanent; transport failures are worth retrying.
func categorize(target string, err error) error {
	switch {
	case errors.Is(err, colly.ErrMissingURL), errors.Is(err, colly.ErrNoURLFiltersMatch):
		return crawler.NewError(crawler.KindInvalidURL, opDirect, target, err)
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrMaxDepth):
		return crawler.NewError(crawler.KindFetchNonRetryable, opDirect, target, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return crawler.NewError(crawler.KindInvalidURL, opDirect, target, err)
	}
	return crawler.NewError(crawler.KindFetchRetryable, opDirect, target, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
