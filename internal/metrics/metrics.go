package metrics

import (
	"context"
	"net/http"
	"strconv"

	"wiretide/internal/logs"
	"wiretide/internal/middleware"
	"wiretide/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config-package events.
const (
	EventEnqueued  = "enqueued"
	EventEvicted   = "evicted"
	EventDelivered = "delivered"
	EventCleared   = "cleared"
)

// Metrics: счётчики контроллера на собственном реестре.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	tokenRotations *prometheus.CounterVec
	configPackages *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiretide_http_requests_total",
			Help: "HTTP requests by method, route template and status code.",
		}, []string{"method", "route", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiretide_device_transitions_total",
			Help: "Device approval state transitions by target state.",
		}, []string{"to"}),
		tokenRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiretide_token_rotations_total",
			Help: "Shared agent token rotations by reason.",
		}, []string{"reason"}),
		configPackages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiretide_config_packages_total",
			Help: "Config queue events.",
		}, []string{"event"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiretide_auth_failures_total",
			Help: "Rejected credentials by surface (agent|admin).",
		}, []string{"surface"}),
	}
	m.Registry.MustRegister(
		m.httpRequests, m.transitions, m.tokenRotations, m.configPackages, m.authFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Методы безопасны для nil-получателя: тесты собирают компоненты без метрик.

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) TokenRotated(reason string) {
	if m != nil {
		m.tokenRotations.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ConfigEvent(event string, n int) {
	if m != nil && n > 0 {
		m.configPackages.WithLabelValues(event).Add(float64(n))
	}
}

func (m *Metrics) AuthFailure(surface string) {
	if m != nil {
		m.authFailures.WithLabelValues(surface).Inc()
	}
}

// Instrument: mux-middleware, считает запросы по шаблону маршрута.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &middleware.StatusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.Code())).Inc()
	})
}

// Handler отдаёт /metrics, только пока enabled() == true; иначе 404.
func (m *Metrics) Handler(enabled func(ctx context.Context) (bool, error)) http.Handler {
	inner := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		on, err := enabled(r.Context())
		if err != nil {
			logs.Logger.Errorf("metrics toggle: %v", err)
			models.WriteError(w, err)
			return
		}
		if !on {
			models.WriteProblem(w, http.StatusNotFound, "Not found", "monitoring api is disabled", nil)
			return
		}
		inner.ServeHTTP(w, r)
	})
}
