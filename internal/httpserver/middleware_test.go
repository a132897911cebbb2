package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_requests_total", Help: "test"},
		[]string{"endpoint", "status"},
	)

	s := New()
	s.Mux.Use(Metrics(counter))
	s.Mux.HandleFunc("/v1/leads/{id}/conversation", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	rr := httptest.NewRecorder()
	s.Mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads/l1/conversation", nil))

	got := testutil.ToFloat64(counter.WithLabelValues("/v1/leads/{id}/conversation", "200"))
	if got != 1 {
		t.Fatalf("template-labelled count = %v, want 1", got)
	}
	if raw := testutil.ToFloat64(counter.WithLabelValues("/v1/leads/l1/conversation", "200")); raw != 0 {
		t.Fatalf("raw path must not be used as a label, got %v", raw)
	}
}

func TestStatusWriterRecordsCode(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	sw.WriteHeader(http.StatusConflict)
	if sw.status != http.StatusConflict || rr.Code != http.StatusConflict {
		t.Fatalf("status = %d/%d", sw.status, rr.Code)
	}
}
