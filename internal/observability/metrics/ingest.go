package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

// IngestMetrics instruments the folder watcher.
type IngestMetrics struct {
	registry *prometheus.Registry
	service  string

	filesTotal          *prometheus.CounterVec
	fileDuration        *prometheus.HistogramVec
	filesInFlight       prometheus.Gauge
	reconciledTotal     prometheus.Counter
	activityWriteErrors prometheus.Counter
	breakerState        *prometheus.GaugeVec
}

func NewIngestMetrics(service string) *IngestMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nfe",
			Subsystem: "watcher",
			Name:      "files_total",
			Help:      "Total XML files handled by outcome.",
		},
		[]string{"service", "outcome"},
	)
	fileDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nfe",
			Subsystem: "watcher",
			Name:      "file_duration_seconds",
			Help:      "Time from detection to the final outcome of a file.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)
	filesInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "nfe",
			Subsystem:   "watcher",
			Name:        "files_in_flight",
			Help:        "Number of files currently being processed.",
			ConstLabels: constLabels,
		},
	)
	reconciledTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "nfe",
			Subsystem:   "watcher",
			Name:        "reconciled_files_total",
			Help:        "Files found waiting in the watched directory at startup.",
			ConstLabels: constLabels,
		},
	)
	activityWriteErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "nfe",
			Subsystem:   "activity_log",
			Name:        "write_errors_total",
			Help:        "Activity log entries that could not be written.",
			ConstLabels: constLabels,
		},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "nfe",
			Subsystem:   "resilience",
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(filesTotal, fileDuration, filesInFlight, reconciledTotal, activityWriteErrors, breakerState)

	return &IngestMetrics{
		registry:            registry,
		service:             service,
		filesTotal:          filesTotal,
		fileDuration:        fileDuration,
		filesInFlight:       filesInFlight,
		reconciledTotal:     reconciledTotal,
		activityWriteErrors: activityWriteErrors,
		breakerState:        breakerState,
	}
}

func (m *IngestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestMetrics) StartFile() {
	m.filesInFlight.Inc()
}

func (m *IngestMetrics) FinishFile(outcome domain.IngestOutcome, duration time.Duration) {
	m.filesInFlight.Dec()
	m.filesTotal.WithLabelValues(m.service, string(outcome)).Inc()
	m.fileDuration.WithLabelValues(m.service, string(outcome)).Observe(duration.Seconds())
}

func (m *IngestMetrics) RecordReconciled(count int) {
	if count > 0 {
		m.reconciledTotal.Add(float64(count))
	}
}

func (m *IngestMetrics) ActivityLogWriteFailed(error) {
	m.activityWriteErrors.Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *IngestMetrics) BreakerStateChanged(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(operation).Set(float64(to))
}
