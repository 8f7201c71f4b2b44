// Package metrics exposes transaction counters and latency histograms for
// Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels a finished transaction.
type Outcome string

const (
	OutcomeResponse     Outcome = "response"
	OutcomeNoResponse   Outcome = "no_response"
	OutcomeConnectError Outcome = "connect_error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeError        Outcome = "error"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transactionsTotal *prometheus.CounterVec
	durationSeconds   *prometheus.HistogramVec
	responseBytes     prometheus.Histogram
	inFlight          prometheus.Gauge
	batchQueued       prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		// Custom registry (don't pollute default)
		registry: prometheus.NewRegistry(),

		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desync_transactions_total",
				Help: "Raw transactions finished, by outcome",
			},
			[]string{"outcome"},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "desync_transaction_duration_seconds",
				Help:    "Wall time from send to result",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"outcome"},
		),
		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "desync_response_bytes",
			Help:    "Size of collected responses",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "desync_transactions_in_flight",
			Help: "Transactions currently running",
		}),
		batchQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "desync_batch_queued",
			Help: "Batch jobs waiting for a worker",
		}),
	}

	m.registry.MustRegister(
		m.transactionsTotal,
		m.durationSeconds,
		m.responseBytes,
		m.inFlight,
		m.batchQueued,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Started records a transaction entering flight.
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// Finished records a transaction leaving flight.
func (m *Metrics) Finished(outcome Outcome, elapsed time.Duration, responseBytes int) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.transactionsTotal.WithLabelValues(string(outcome)).Inc()
	m.durationSeconds.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if responseBytes > 0 {
		m.responseBytes.Observe(float64(responseBytes))
	}
}

// SetQueued reports how many batch jobs are waiting.
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.batchQueued.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
