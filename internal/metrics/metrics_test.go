package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/auth/{provider}/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})

	for _, provider := range []string{"kakao", "naver"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/"+provider+"/login", nil))
	}

	got := testutil.ToFloat64(m.RequestCount.WithLabelValues(http.MethodGet, "/api/v1/auth/{provider}/login", "302"))
	if got != 2 {
		t.Fatalf("request count = %v, want 2", got)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	registry := NewProcessRegistry()
	m := New(registry)
	m.ReaperDeleted.Add(3)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "medihan_reaper_deleted_accounts_total 3") {
		t.Fatalf("body missing reaper counter:\n%s", rec.Body.String())
	}
}
