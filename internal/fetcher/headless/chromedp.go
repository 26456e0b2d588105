// Package headless renders pages in a local headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// stealthScript hides the most common automation fingerprints.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-GB', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});`

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is the pause after the body is ready, for late scripts.
	SettleDelay time.Duration
}

// Renderer implements crawler.Renderer with headless Chrome. One browser
// allocator is kept per proxy URL.
type Renderer struct {
	cfg     Config
	limiter chan struct{}

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a headless renderer. Browsers start lazily on first use.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{
		cfg:        cfg,
		limiter:    limiter,
		allocators: make(map[string]allocator),
	}, nil
}

// Close shuts down every browser.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.allocators {
		a.cancel()
		delete(r.allocators, key)
	}
}

// Render navigates to url and returns the rendered DOM. Browser failures are
// retryable; the target's own status code is passed through untouched.
func (r *Renderer) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, "headless render", url, err)
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocatorFor(opts.ProxyURL))
	defer tabCancel()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.NavigationTimeout
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(tabCtx, url, opts)
	if err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, "headless render", url, err)
	}
	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return crawler.RenderResult{
		URL:        responseURL,
		HTML:       html,
		StatusCode: status,
		Headers:    headers,
		Duration:   time.Since(start),
	}, nil
}

func (r *Renderer) run(ctx context.Context, url string, opts crawler.RenderOptions) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{r.setupAction(opts.Stealth), chromedp.Navigate(url)}
	if opts.RenderJS {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
		if r.cfg.SettleDelay > 0 {
			actions = append(actions, chromedp.Sleep(r.cfg.SettleDelay))
		}
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) setupAction(stealth bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if stealth {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) allocatorFor(proxyURL string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.allocators[proxyURL]; ok {
		return a.ctx
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	r.allocators[proxyURL] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// capture keeps the first document response: redirects and later frames do
// not overwrite the status of the page that was asked for.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	headers := m.headers.Clone()
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
