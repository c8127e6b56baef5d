package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleetpulse_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestPoints   *prometheus.CounterVec

	alertTransitions *prometheus.CounterVec
	notifyDecisions  *prometheus.CounterVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec

	sweepDuration *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestPoints = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_points_total",
				Help: "Total ingested points by disposition",
			},
			[]string{"class"},
		)

		alertTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_transitions_total",
				Help: "Total alert transitions by kind",
			},
			[]string{"transition"},
		)
		notifyDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_decisions_total",
				Help: "Total notification routing decisions by outcome",
			},
			[]string{"outcome"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total enqueued commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command outcomes by status",
			},
			[]string{"status"},
		)

		sweepDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_duration_seconds",
				Help:    "Background sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sweep"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestPoints,
			alertTransitions,
			notifyDecisions,
			commandRequests,
			commandResults,
			sweepDuration,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddIngestPoints adds to the per-disposition point counter.
func AddIngestPoints(class string, count int) {
	if count <= 0 {
		return
	}
	if class == "" {
		class = "unknown"
	}
	if ingestPoints != nil {
		ingestPoints.WithLabelValues(class).Add(float64(count))
	}
}

// IncAlertTransition increments the alert transition counter.
func IncAlertTransition(transition string) {
	if transition == "" {
		transition = "unknown"
	}
	if alertTransitions != nil {
		alertTransitions.WithLabelValues(transition).Inc()
	}
}

// IncNotifyDecision increments the notification decision counter.
func IncNotifyDecision(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if notifyDecisions != nil {
		notifyDecisions.WithLabelValues(outcome).Inc()
	}
}

// IncCommandIssued increments the enqueued command counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult increments the command outcome counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// AddCommandExpired adds to the expired command counter.
func AddCommandExpired(count int64) {
	if count <= 0 {
		return
	}
	if commandResults != nil {
		commandResults.WithLabelValues("expired").Add(float64(count))
	}
}

// ObserveSweep records a background sweep duration.
func ObserveSweep(sweep string, duration time.Duration) {
	if sweep == "" {
		sweep = "unknown"
	}
	if sweepDuration != nil {
		sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
