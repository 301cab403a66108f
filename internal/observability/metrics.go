package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	gradingRequestsTotal  *prometheus.CounterVec
	gradingLatencySeconds *prometheus.HistogramVec
	gradingErrorsTotal    *prometheus.CounterVec

	operationDuration     *prometheus.HistogramVec
	sessionsTotal         *prometheus.CounterVec
	autoScoresTotal       *prometheus.CounterVec
	overridesTotal        *prometheus.CounterVec
	regradeConflictsTotal prometheus.Counter
	gradingEventsTotal    *prometheus.CounterVec
	eventStreamClients    prometheus.Gauge
	scoringJobsTotal      *prometheus.CounterVec
	ingestedScoresTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gradingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		gradingLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		gradingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_operation_duration_seconds",
			Help:    "Duration of grading session operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation", "outcome"})

		sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_sessions_total",
			Help: "Grading session lifecycle transitions.",
		}, []string{"transition", "mode"})

		autoScoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_auto_scores_total",
			Help: "Automatic scores received, by outcome.",
		}, []string{"outcome"})

		overridesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_manual_overrides_total",
			Help: "Manual overrides applied, by owning session status.",
		}, []string{"session_status"})

		regradeConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_regrade_conflicts_total",
			Help: "Regrade attempts that lost a race on version assignment.",
		})

		gradingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_events_total",
			Help: "Grading events delivered to local subscribers.",
		}, []string{"type", "transport"})

		eventStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_event_stream_clients",
			Help: "Websocket clients following grading events.",
		})

		scoringJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_scoring_jobs_total",
			Help: "Per-question automatic scoring jobs, by outcome.",
		}, []string{"outcome"})

		ingestedScoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_ingested_scores_total",
			Help: "Scoring results consumed from brokers, by transport and outcome.",
		}, []string{"transport", "outcome"})

		prometheus.MustRegister(
			gradingRequestsTotal,
			gradingLatencySeconds,
			gradingErrorsTotal,
			operationDuration,
			sessionsTotal,
			autoScoresTotal,
			overridesTotal,
			regradeConflictsTotal,
			gradingEventsTotal,
			eventStreamClients,
			scoringJobsTotal,
			ingestedScoresTotal,
		)
	})
}

// GradingRequests exposes the counter for grading API requests.
func GradingRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRequestsTotal
}

// GradingLatency exposes the latency histogram for grading API requests.
func GradingLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingLatencySeconds
}

// GradingErrors exposes the counter for grading error responses.
func GradingErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingErrorsTotal
}

// SessionsTotal counts session lifecycle transitions.
func SessionsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionsTotal
}

// AutoScoresTotal counts automatic scores by outcome.
func AutoScoresTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return autoScoresTotal
}

// OverridesTotal counts manual overrides.
func OverridesTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return overridesTotal
}

// RegradeConflictsTotal counts lost regrade races.
func RegradeConflictsTotal() prometheus.Counter {
	RegisterMetrics()
	return regradeConflictsTotal
}

// GradingEventsTotal counts delivered grading events.
func GradingEventsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingEventsTotal
}

// EventStreamClientsActive tracks connected websocket followers.
func EventStreamClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return eventStreamClients
}

// ScoringJobsTotal counts automatic scoring jobs.
func ScoringJobsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringJobsTotal
}

// IngestedScoresTotal counts broker delivered scoring results.
func IngestedScoresTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return ingestedScoresTotal
}

// OperationTimer measures a single grading operation.
type OperationTimer struct {
	operation string
	start     time.Time
}

// StartOperation begins timing the named operation.
func StartOperation(operation string) OperationTimer {
	RegisterMetrics()
	return OperationTimer{operation: operation, start: time.Now()}
}

// Done records the elapsed time labelled with the outcome of err.
func (t OperationTimer) Done(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	operationDuration.WithLabelValues(t.operation, outcome).Observe(time.Since(t.start).Seconds())
}
