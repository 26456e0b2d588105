package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/config"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	queueMemory "github.com/JakeFAU/supplier-discovery/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/supplier-discovery/internal/storage/memory"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

const (
	runA = "0190c9a4-1c2b-7d3e-8f40-5a6b7c8d9e01"
	runB = "0190c9a4-1c2b-7d3e-8f40-5a6b7c8d9e02"
)

func TestServer_SubmitRun_Queues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	rec := h.do(http.MethodPost, "/v1/runs", `{"sites":["shop"],"max_pages_per_site":25}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runA, body["run_id"])
	require.Equal(t, "queued", body["status"])

	req, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, runA, req.RunID)
	require.Equal(t, []string{"shop"}, req.Params.Sites)
	require.Equal(t, 25, *req.Params.MaxPagesPerSite)

	run, err := h.runs.GetRun(context.Background(), runA)
	require.NoError(t, err)
	require.Equal(t, store.RunQueued, run.Status)
}

func TestServer_SubmitRun_EmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	rec := h.do(http.MethodPost, "/v1/runs", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, h.queue.Len())
}

func TestServer_SubmitRun_InvalidJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	rec := h.do(http.MethodPost, "/v1/runs", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/runs", `{"depth":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitRun_RejectedParams(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	rec := h.do(http.MethodPost, "/v1/runs", `{"sites":["nowhere"]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "nowhere")
	require.Equal(t, 0, h.queue.Len())
}

func TestServer_SubmitRun_QueueFullFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, runA, runB)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/runs", "").Code)

	rec := h.do(http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	run, err := h.runs.GetRun(context.Background(), runB)
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status)
	require.Contains(t, run.Error, "not queued")
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/runs", "").Code)

	rec := h.do(http.MethodGet, "/v1/runs/"+runA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"queued"`)

	rec = h.do(http.MethodGet, "/v1/runs/"+runB, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/runs/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRunSites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, runA)
	require.NoError(t, h.runs.UpsertSiteStats(context.Background(), runA, "shop", 4, 1, 0, time.Unix(100, 0)))

	rec := h.do(http.MethodGet, "/v1/runs/"+runA+"/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []store.SiteStats `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 1)
	require.Equal(t, int64(4), body.Sites[0].Visits)

	rec = h.do(http.MethodGet, "/v1/runs/"+runB+"/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sites":[]}`, rec.Body.String())
}

func TestServer_ListSites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	rec := h.do(http.MethodGet, "/v1/sites", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "shop.example.com")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "").Code)

	h.ready = errors.New("render service down")
	rec := h.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "render service down")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	h.rebuild()

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "").Code, "probes stay open")
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/sites", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sites", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	rec := h.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type harness struct {
	t      *testing.T
	cfg    config.Config
	runs   *memoryStorage.RunStore
	queue  *queueMemory.Queue
	sub    *fakeSubmitter
	ready  error
	server *Server
}

func newHarness(t *testing.T, depth int, ids ...string) *harness {
	t.Helper()
	runs := memoryStorage.NewRunStore()
	h := &harness{
		t: t,
		cfg: config.Config{
			Sites: []crawler.Site{{Name: "shop", Domain: "shop.example.com"}},
		},
		runs:  runs,
		queue: queueMemory.NewQueue(depth),
		sub:   &fakeSubmitter{runs: runs, ids: ids, sites: map[string]bool{"shop": true}},
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	h.server = NewServer(Deps{
		Runs:      h.runs,
		Submitter: h.sub,
		Queue:     h.queue,
		Ready:     func(context.Context) error { return h.ready },
		Logger:    zap.NewNop(),
	}, h.cfg)
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeSubmitter struct {
	mu    sync.Mutex
	runs  store.RunRepository
	ids   []string
	sites map[string]bool
}

func (f *fakeSubmitter) Validate(params crawler.RunParameters) error {
	for _, s := range params.Sites {
		if !f.sites[s] {
			return fmt.Errorf("unknown site %q", s)
		}
	}
	return nil
}

func (f *fakeSubmitter) Submit(ctx context.Context, params crawler.RunParameters) (crawler.RunRequest, error) {
	f.mu.Lock()
	if len(f.ids) == 0 {
		f.mu.Unlock()
		return crawler.RunRequest{}, errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	f.mu.Unlock()

	now := time.Unix(100, 0).UTC()
	if err := f.runs.CreateRun(ctx, store.CrawlRun{ID: id, Status: store.RunQueued, Params: params, CreatedAt: now}); err != nil {
		return crawler.RunRequest{}, err
	}
	return crawler.RunRequest{RunID: id, Params: params, Submitted: now}, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
