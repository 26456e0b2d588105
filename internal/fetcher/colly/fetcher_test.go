package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "supplierwatch-test", RespectRobots: false, Timeout: time.Second})
	collector, err := f.buildCollector(crawler.RenderOptions{})
	require.NoError(t, err)
	require.Equal(t, "supplierwatch-test", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.ParseHTTPErrorResponse)

	_, err = f.buildCollector(crawler.RenderOptions{ProxyURL: "::not a url"})
	require.ErrorIs(t, err, crawler.ErrFetchNonRetryable)
}

func TestTransportPooledPerProxy(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	direct, err := f.transportFor("")
	require.NoError(t, err)
	again, err := f.transportFor("")
	require.NoError(t, err)
	require.Same(t, direct, again)

	proxied, err := f.transportFor("http://proxy.internal:3128")
	require.NoError(t, err)
	require.NotSame(t, direct, proxied)

	req, err := http.NewRequest(http.MethodGet, "https://shop.example.com/", nil)
	require.NoError(t, err)
	proxy, err := proxied.Proxy(req)
	require.NoError(t, err)
	require.Equal(t, "proxy.internal:3128", proxy.Host)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result crawler.RenderResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("<html>gone</html>"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.example.com/old")},
	})
	require.Equal(t, http.StatusNotFound, result.StatusCode)
	require.Equal(t, "<html>gone</html>", result.HTML)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))
	require.Equal(t, "https://shop.example.com/old", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestRenderPassesStatusThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><title>Home</title></html>")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 2 * time.Second})
	res, err := f.Render(context.Background(), srv.URL+"/", crawler.RenderOptions{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.HTML, "<title>Home</title>")

	res, err = f.Render(context.Background(), srv.URL+"/missing", crawler.RenderOptions{})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRenderCategorizesFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Render(context.Background(), addr+"/", crawler.RenderOptions{})
	require.ErrorIs(t, err, crawler.ErrFetchRetryable)

	_, err = f.Render(context.Background(), "", crawler.RenderOptions{})
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, categorize("u", colly.ErrRobotsTxtBlocked), crawler.ErrFetchNonRetryable)
	require.ErrorIs(t, categorize("u", colly.ErrMissingURL), crawler.ErrInvalidURL)
	require.ErrorIs(t, categorize("u", errors.New("connection reset")), crawler.ErrFetchRetryable)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
