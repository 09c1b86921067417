// Package metrics holds the Prometheus collectors of the API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/divecert/core/evaluation"
	"github.com/trezcool/divecert/core/scoring"
)

var EvaluationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "divecert_evaluations_total",
	Help: "The total number of evaluations recorded, by subject, mode and outcome",
}, []string{"subject", "mode", "passing"})

var CriticalFailCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "divecert_evaluations_critical_fail_total",
	Help: "The total number of evaluations failed on a critical criterion, by subject",
}, []string{"subject"})

var VerdictDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "divecert_verdict_duration_seconds",
	Help:    "Duration of evaluation validation and scoring",
	Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
})

var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "divecert_http_request_duration_seconds",
	Help: "Duration of the API requests, by method, route and status code",
}, []string{"method", "route", "status_code"})

// EvaluationObserver records the outcome of the evaluations.
type EvaluationObserver struct{}

var _ evaluation.Observer = EvaluationObserver{}

func (EvaluationObserver) ObserveEvaluation(subjectCode, mode string, verdict scoring.Verdict, took time.Duration) {
	EvaluationsCounter.WithLabelValues(subjectCode, mode, strconv.FormatBool(verdict.IsPassing)).Inc()
	if verdict.HasCriticalFail {
		CriticalFailCounter.WithLabelValues(subjectCode).Inc()
	}
	VerdictDuration.Observe(took.Seconds())
}

// ObserveRequest records the duration of an API request.
func ObserveRequest(method, route string, status int, took time.Duration) {
	RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}
