package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics contains Prometheus collectors for the coordinator
type Metrics struct {
	registry *prometheus.Registry

	// IPC traffic
	messages       *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec

	// Console events
	requests *prometheus.CounterVec
	errors   prometheus.Counter

	// Worker pool
	restarts prometheus.Counter
	workers  prometheus.Gauge

	// Shared state
	cacheEntries prometheus.Gauge
	blockedHosts prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fwdproxy_ipc_messages_total",
				Help: "Total number of messages received from workers",
			},
			[]string{"kind"},
		),

		dispatchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fwdproxy_ipc_dispatch_errors_total",
				Help: "Total number of messages answered with an error",
			},
			[]string{"kind"},
		),

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fwdproxy_requests_total",
				Help: "Total number of proxied requests by outcome",
			},
			[]string{"status"},
		),

		errors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fwdproxy_errors_total",
				Help: "Total number of error events reported",
			},
		),

		restarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fwdproxy_worker_restarts_total",
				Help: "Total number of workers respawned after exiting",
			},
		),

		workers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fwdproxy_workers",
				Help: "Current number of live worker processes",
			},
		),

		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fwdproxy_cache_entries",
				Help: "Number of entries held by the response cache",
			},
		),

		blockedHosts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fwdproxy_blocked_hosts",
				Help: "Number of hosts on the blocklist",
			},
		),
	}
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMessage records a message received from a worker
func (m *Metrics) RecordMessage(kind string) {
	m.messages.WithLabelValues(kind).Inc()
}

// RecordDispatchError records a message answered with an error
func (m *Metrics) RecordDispatchError(kind string) {
	m.dispatchErrors.WithLabelValues(kind).Inc()
}

// RecordRequest records a request event by its status
func (m *Metrics) RecordRequest(status string) {
	m.requests.WithLabelValues(status).Inc()
}

// RecordError records an error event
func (m *Metrics) RecordError() {
	m.errors.Inc()
}

// RecordRestart records a respawned worker
func (m *Metrics) RecordRestart() {
	m.restarts.Inc()
}

// SetWorkers sets the live worker gauge
func (m *Metrics) SetWorkers(n int) {
	m.workers.Set(float64(n))
}

// SetCacheEntries sets the cache size gauge
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// SetBlockedHosts sets the blocklist size gauge
func (m *Metrics) SetBlockedHosts(n int) {
	m.blockedHosts.Set(float64(n))
}

// MetricsServer exposes the registry over HTTP at /metrics
type MetricsServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewMetricsServer creates a server for addr
func NewMetricsServer(addr string, m *Metrics, logger zerolog.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background
func (s *MetricsServer) Start() {
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("starting metrics server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop shuts the server down
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
