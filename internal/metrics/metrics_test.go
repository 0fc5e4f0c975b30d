package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("approved")
	m.TokenRotated("approval")
	m.ConfigEvent(EventEnqueued, 1)
	m.AuthFailure("agent")
}

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("approved")
	m.Transition("approved")
	m.ConfigEvent(EventEvicted, 3)
	m.ConfigEvent(EventCleared, 0)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("approved")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.configPackages.WithLabelValues(EventEvicted)); got != 3 {
		t.Errorf("evicted = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.configPackages); got != 1 {
		t.Errorf("config series = %d, want 1 (zero adds skipped)", got)
	}
}

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Instrument)
	r.HandleFunc("/api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/devices/abc", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/devices/{id}", "404")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestHandlerToggle(t *testing.T) {
	m := New()
	on := false
	h := m.Handler(func(context.Context) (bool, error) { return on, nil })

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("disabled: code = %d, want 404", rr.Code)
	}

	on = true
	m.TokenRotated("operator")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if rr.Code != http.StatusOK || !strings.Contains(string(body), `wiretide_token_rotations_total{reason="operator"} 1`) {
		t.Errorf("enabled: code = %d body lacks rotation counter", rr.Code)
	}
}
