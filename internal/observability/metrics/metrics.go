// Package metrics exposes scheduler and session telemetry in the Prometheus
// exposition format.
package metrics

import (
	"context"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests and multiple runners never
// collide on global state.
type Collector struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	passes          prometheus.Counter
	inFlight        prometheus.Gauge
	accounts        prometheus.Gauge
	lastPass        prometheus.Gauge
}

// NewCollector registers every metric under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "xos"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "total",
		Help:      "Finished sessions by outcome (completed, aborted, timeout, panic).",
	}, []string{"outcome"})
	c.sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "duration_seconds",
		Help:      "Wall time of one session.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
	c.passes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "passes_total",
		Help:      "Completed passes over all accounts.",
	})
	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "sessions_in_flight",
		Help:      "Sessions of the current batch still running.",
	})
	c.accounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "accounts",
		Help:      "Accounts loaded for scheduling.",
	})
	c.lastPass = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix time the last pass finished.",
	})

	c.registry.MustRegister(c.sessions, c.sessionDuration, c.passes, c.inFlight, c.accounts, c.lastPass)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordSession counts one finished session.
func (c *Collector) RecordSession(outcome string, duration time.Duration) {
	c.sessions.WithLabelValues(outcome).Inc()
	if duration > 0 {
		c.sessionDuration.Observe(duration.Seconds())
	}
}

// RecordPass marks the end of a pass.
func (c *Collector) RecordPass(finished time.Time) {
	c.passes.Inc()
	c.lastPass.Set(float64(finished.Unix()))
}

// SetInFlight sets the number of running sessions.
func (c *Collector) SetInFlight(n int) {
	c.inFlight.Set(float64(n))
}

// SetAccounts sets the number of scheduled accounts.
func (c *Collector) SetAccounts(n int) {
	c.accounts.Set(float64(n))
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if stdErrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
