package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(serverRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	for _, path := range []string{"/ok", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(serverRequestsTotal.WithLabelValues(http.MethodGet, "404")); got != before+1 {
		t.Fatalf("expected one 404 to be recorded, got %f", got-before)
	}
	if got := testutil.CollectAndCount(serverRequestDurationsSecs); got < 2 {
		t.Fatalf("expected latency series for both routes, got %d", got)
	}
}
