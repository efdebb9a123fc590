// Package metrics aggregates every component's Prometheus collectors
// behind one registry and serves them over the daemon's auxiliary HTTP
// endpoint, the way the teacher wires pkg/metrics/prometheus collectors
// into one registerer at startup.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tangramfs/tangramfs/pkg/lock"
)

// Registry owns the process's Prometheus registerer and the collectors
// registered against it.
type Registry struct {
	reg  *prometheus.Registry
	Lock *lock.Metrics
}

// New creates a Registry, registering Go/process collectors plus a
// lock.Metrics instance every pkg/lock.Server in this process should
// share.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		reg:  reg,
		Lock: lock.NewMetrics(reg),
	}
}

// Ready reports whether the daemon considers itself ready to serve
// traffic. Set by the caller once startup (listener bind, server
// registration) has completed.
type Ready struct {
	ready bool
}

// Set marks readiness.
func (r *Ready) Set(v bool) { r.ready = v }

// NewRouter builds the chi router serving /healthz (liveness) and
// /readyz (readiness gated on ready) plus /metrics for this registry,
// following the teacher's health-route-plus-middleware-stack shape
// (pkg/api/router.go) scaled down to what a headless daemon needs.
func NewRouter(reg *Registry, ready *Ready) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && ready.ready {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))

	return r
}
