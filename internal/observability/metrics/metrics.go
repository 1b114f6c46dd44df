// Package metrics registers prometheus instrumentation for the polling service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "glowsync_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	pollCycles  *prometheus.CounterVec
	pollLatency *prometheus.HistogramVec

	fetchLatency *prometheus.HistogramVec

	reconcilePoints *prometheus.CounterVec
	seriesPasses    *prometheus.CounterVec

	storeWriteFailures prometheus.Counter
	catchupRequests    prometheus.Counter

	alertNotifications *prometheus.CounterVec

	lastSuccessfulPoll prometheus.Gauge
)

// Init registers the service metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_latency_seconds",
				Help:    "Poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fetch_latency_seconds",
				Help:    "Upstream fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		reconcilePoints = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_points_total",
				Help: "Reconciled points by series and outcome",
			},
			[]string{"series", "outcome"},
		)
		seriesPasses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "series_passes_total",
				Help: "Reconciliation passes by series and result",
			},
			[]string{"series", "result"},
		)
		storeWriteFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_write_failures_total",
				Help: "Failed series store upserts",
			},
		)
		catchupRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "catchup_requests_total",
				Help: "Catch-up refresh batches sent upstream",
			},
		)
		alertNotifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_notifications_total",
				Help: "Usage alert notifications by result",
			},
			[]string{"result"},
		)
		lastSuccessfulPoll = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_successful_poll_timestamp_seconds",
				Help: "Unix time of the last fully successful poll cycle",
			},
		)

		prometheus.MustRegister(
			pollCycles,
			pollLatency,
			fetchLatency,
			reconcilePoints,
			seriesPasses,
			storeWriteFailures,
			catchupRequests,
			alertNotifications,
			lastSuccessfulPoll,
		)
	})
}

// ObservePollCycle records one poll cycle.
func ObservePollCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollLatency != nil {
		pollLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result == resultSuccess && lastSuccessfulPoll != nil {
		lastSuccessfulPoll.SetToCurrentTime()
	}
}

// ObserveFetch records one upstream fetch.
func ObserveFetch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddReconcileOutcome counts reconciled points for one series.
func AddReconcileOutcome(series, outcome string, count int) {
	if count <= 0 {
		return
	}
	if reconcilePoints != nil {
		reconcilePoints.WithLabelValues(series, outcome).Add(float64(count))
	}
}

// IncSeriesPass counts one reconciliation pass for a series.
func IncSeriesPass(series, result string) {
	if result == "" {
		result = resultSuccess
	}
	if seriesPasses != nil {
		seriesPasses.WithLabelValues(series, result).Inc()
	}
}

// IncStoreWriteFailure counts a failed store upsert.
func IncStoreWriteFailure() {
	if storeWriteFailures != nil {
		storeWriteFailures.Inc()
	}
}

// IncCatchup counts one catch-up batch.
func IncCatchup() {
	if catchupRequests != nil {
		catchupRequests.Inc()
	}
}

// IncAlertNotification counts one alert delivery attempt.
func IncAlertNotification(result string) {
	if result == "" {
		result = resultSuccess
	}
	if alertNotifications != nil {
		alertNotifications.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
