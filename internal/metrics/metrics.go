// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsReceivedTotal   prometheus.Counter
	eventsDroppedTotal    *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	parseAttemptsTotal    *prometheus.CounterVec
	alertsPersistedTotal  prometheus.Counter
	alertsDuplicateTotal  prometheus.Counter
	alertsFailedTotal     *prometheus.CounterVec
	fingerprintCollisions prometheus.Counter
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		eventsReceivedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whale_events_received_total",
				Help: "Total channel events received from the transport.",
			},
		)

		eventsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whale_events_dropped_total",
				Help: "Total events dropped at intake, labeled by reason.",
			},
			[]string{"reason"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "whale_queue_depth",
				Help: "Items currently buffered in the work queue.",
			},
		)

		parseAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whale_parse_attempts_total",
				Help: "Extraction attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		alertsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whale_alerts_persisted_total",
				Help: "Alerts committed to the store.",
			},
		)

		alertsDuplicateTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whale_alerts_duplicate_total",
				Help: "Inserts rejected as logical duplicates.",
			},
		)

		alertsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whale_alerts_failed_total",
				Help: "Events permanently dropped after intake, labeled by stage.",
			},
			[]string{"stage"},
		)

		fingerprintCollisions = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "whale_fingerprint_collisions_total",
				Help: "Fingerprint collisions encountered during resolution.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "whale_active_workers",
				Help: "Workers currently processing an item.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEventReceived counts one inbound transport event.
func ObserveEventReceived() {
	eventsReceivedTotal.Inc()
}

// ObserveEventDropped counts an intake drop for the given reason
// ("empty_payload" or "queue_full").
func ObserveEventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// ObserveParseAttempt counts one extraction attempt by outcome
// ("ok", "retryable", "permanent").
func ObserveParseAttempt(outcome string) {
	parseAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAlertPersisted counts one committed alert.
func ObserveAlertPersisted() {
	alertsPersistedTotal.Inc()
}

// ObserveAlertDuplicate counts one insert resolved as a logical duplicate.
func ObserveAlertDuplicate() {
	alertsDuplicateTotal.Inc()
}

// ObserveAlertFailed counts one permanent post-intake failure by stage
// ("parse", "fingerprint", "storage").
func ObserveAlertFailed(stage string) {
	alertsFailedTotal.WithLabelValues(stage).Inc()
}

// ObserveFingerprintCollision counts one collision during resolution.
func ObserveFingerprintCollision() {
	fingerprintCollisions.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
