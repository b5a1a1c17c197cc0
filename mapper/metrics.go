package mapper

// Prometheus metrics of the synchronizer. They are registered in a
// dedicated registry exposed by the metrics server.

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const metricsNamespace = "dhcpmapper"

// Sync cycle outcomes used as the metric label.
const (
	syncResultSuccess = "success"
	syncResultFailure = "failure"
)

// Set of the synchronizer metrics.
type Metrics struct {
	Registry *prometheus.Registry

	SyncCycles        *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	LastSyncTimestamp prometheus.Gauge
	PromotedLeases    prometheus.Counter
	LeaseCandidates   prometheus.Gauge
	StaticMappings    prometheus.Gauge
	Diagnostics       *prometheus.CounterVec
	PublishFailures   prometheus.Counter
}

// Constructs the metrics and registers them in a new registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		SyncCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by result",
		}, []string{"result"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync cycle duration",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSyncTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Time of the last successful sync cycle",
		}),
		PromotedLeases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lease",
			Name:      "promoted_total",
			Help:      "Dynamic leases promoted to static mappings",
		}),
		LeaseCandidates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "lease",
			Name:      "candidates",
			Help:      "Promotion candidates found in the last sync cycle",
		}),
		StaticMappings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "static_mapping",
			Name:      "entries",
			Help:      "Static mappings listed on the interface page",
		}),
		Diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lease",
			Name:      "reconcile_diagnostics_total",
			Help:      "Lease reconciliation diagnostics by kind",
		}, []string{"kind"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "publish",
			Name:      "failures_total",
			Help:      "Failed attempts to publish the static mapping table",
		}),
	}
}

// Records the sync cycle outcome.
func (m *Metrics) observeSync(started time.Time, err error) {
	m.SyncDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.SyncCycles.WithLabelValues(syncResultFailure).Inc()
		return
	}
	m.SyncCycles.WithLabelValues(syncResultSuccess).Inc()
	m.LastSyncTimestamp.SetToCurrentTime()
}

// HTTP server exposing the metrics to Prometheus.
type MetricsServer struct {
	httpServer *http.Server
}

// Creates the metrics server listening on the given address.
func NewMetricsServer(address string, metrics *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return &MetricsServer{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Starts serving the metrics in the background.
func (s *MetricsServer) Start() {
	log.Infof("Prometheus metrics listening on %s", s.httpServer.Addr)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Problem serving the Prometheus metrics")
		}
	}()
}

// Stops the metrics server.
func (s *MetricsServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Could not stop the Prometheus metrics server")
	}
}
