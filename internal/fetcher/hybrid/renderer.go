// Package hybrid fetches pages directly and promotes script shells to a
// browser render.
package hybrid

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// Detector decides whether a probe result needs a browser render.
type Detector interface {
	ShouldPromote(res crawler.RenderResult) bool
}

// Renderer probes with a cheap renderer and re-renders with the browser
// renderer when the probe looks unrendered and the caller asked for
// JavaScript.
type Renderer struct {
	probe    crawler.Renderer
	browser  crawler.Renderer
	detector Detector
	logger   *zap.Logger
}

// New wires a hybrid renderer.
func New(probe, browser crawler.Renderer, detector Detector, logger *zap.Logger) (*Renderer, error) {
	if probe == nil || browser == nil {
		return nil, errors.New("probe and browser renderers are required")
	}
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{probe: probe, browser: browser, detector: detector, logger: logger}, nil
}

// Render implements crawler.Renderer. Probe failures are returned as is; the
// resilient fetcher above decides whether to retry the whole render.
func (r *Renderer) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	res, err := r.probe.Render(ctx, url, opts)
	if err != nil {
		return res, err
	}
	if !opts.RenderJS || !r.detector.ShouldPromote(res) {
		return res, nil
	}
	r.logger.Debug("promoting to browser render", zap.String("url", url), zap.Int("probe_bytes", len(res.HTML)))
	rendered, err := r.browser.Render(ctx, url, opts)
	if err != nil {
		return crawler.RenderResult{}, err
	}
	rendered.Duration += res.Duration
	return rendered, nil
}
