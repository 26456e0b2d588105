// Package render implements crawler.Renderer against the external
// page-rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

const (
	scrapePath   = "/scrape"
	healthPath   = "/health"
	maxBodyBytes = 32 << 20
	opRender     = "render"
)

// Config controls the service client.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the render service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

type scrapeRequest struct {
	URL      string `json:"url"`
	RenderJS bool   `json:"render_js"`
	ProxyURL string `json:"proxy_url,omitempty"`
	Stealth  bool   `json:"stealth"`
}

type scrapeResponse struct {
	Success bool            `json:"success"`
	Data    *scrapeData     `json:"data"`
	Detail  json.RawMessage `json:"detail"`
}

type scrapeData struct {
	HTML    string         `json:"html"`
	Status  int            `json:"status"`
	Headers map[string]any `json:"headers"`
}

type errorDetail struct {
	Message   string `json:"message"`
	URL       string `json:"url"`
	ErrorType string `json:"error_type"`
}

// New builds a Client. A zero Timeout leaves deadlines to the caller's
// context.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("render endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint: endpoint,
		http:     client,
		logger:   logger.Named("render"),
	}, nil
}

// Render asks the service to fetch url. Service 5xx replies, transport
// failures, timeouts and unreadable replies are retryable; other 4xx replies
// and request-building failures are not.
func (c *Client) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RenderResult, error) {
	payload, err := json.Marshal(scrapeRequest{
		URL:      url,
		RenderJS: opts.RenderJS,
		ProxyURL: opts.ProxyURL,
		Stealth:  opts.Stealth,
	})
	if err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchNonRetryable, opRender, url, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+scrapePath, bytes.NewReader(payload))
	if err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchNonRetryable, opRender, url, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opRender, url, fmt.Errorf("call render service: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opRender, url, fmt.Errorf("read render reply: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return crawler.RenderResult{}, c.serviceError(url, resp.StatusCode, body)
	}

	var decoded scrapeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return crawler.RenderResult{}, crawler.NewError(crawler.KindFetchRetryable, opRender, url, fmt.Errorf("decode render reply: %w", err))
	}
	if !decoded.Success || decoded.Data == nil {
		cerr := crawler.NewError(crawler.KindFetchRetryable, opRender, url, errors.New(detailMessage(decoded.Detail, "render service reported failure")))
		return crawler.RenderResult{}, cerr
	}

	status := decoded.Data.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Int("bytes", len(decoded.Data.HTML)),
	)
	return crawler.RenderResult{
		URL:        url,
		HTML:       decoded.Data.HTML,
		StatusCode: status,
		Headers:    toHeader(decoded.Data.Headers),
		Duration:   time.Since(start),
	}, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+healthPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("render health: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render health: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) serviceError(url string, status int, body []byte) error {
	kind := crawler.KindFetchNonRetryable
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		kind = crawler.KindFetchRetryable
	}
	var decoded scrapeResponse
	msg := fmt.Sprintf("render service status %d", status)
	if err := json.Unmarshal(body, &decoded); err == nil {
		msg = detailMessage(decoded.Detail, msg)
	}
	c.logger.Warn("render service error",
		zap.String("url", url),
		zap.Int("status", status),
		zap.String("kind", string(kind)),
		zap.String("detail", msg),
	)
	cerr := crawler.NewError(kind, opRender, url, errors.New(msg))
	cerr.Status = status
	return cerr
}

// detailMessage reads "detail" as either a structured object or a plain
// string.
func detailMessage(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var detail errorDetail
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		if detail.ErrorType != "" {
			return detail.ErrorType + ": " + detail.Message
		}
		return detail.Message
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text
	}
	return fallback
}

func toHeader(src map[string]any) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		case nil:
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
