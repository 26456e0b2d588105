package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/v1/sites", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {})

	notFound := httpRequestsTotal.WithLabelValues(http.MethodGet, "404")
	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	beforeNotFound := testutil.ToFloat64(notFound)
	beforeOK := testutil.ToFloat64(ok)

	for _, path := range []string{"/v1/runs/a", "/v1/runs/b", "/v1/sites", "/metrics"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, beforeNotFound+2, testutil.ToFloat64(notFound), 0)
	require.InDelta(t, beforeOK+1, testutil.ToFloat64(ok), 0, "implicit 200 counted, /metrics skipped")
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
