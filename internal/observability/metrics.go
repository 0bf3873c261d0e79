package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lungtriage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lungtriage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	classifierOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lungtriage",
			Subsystem: "classifier",
			Name:      "outcomes_total",
			Help:      "Classifier outcomes by disease and label.",
		},
		[]string{"disease", "label"},
	)
	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lungtriage",
			Subsystem: "classifier",
			Name:      "inference_duration_seconds",
			Help:      "Per-classifier inference duration in seconds.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"disease"},
	)
	analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lungtriage",
			Subsystem: "analysis",
			Name:      "total",
			Help:      "Completed analyses by diagnosis and urgency.",
		},
		[]string{"diagnosis", "urgency"},
	)
	analysisFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lungtriage",
			Subsystem: "analysis",
			Name:      "failures_total",
			Help:      "Analyses that could not produce a report.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, classifierOutcomes, inferenceDuration, analyses, analysisFailures)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordInference(disease, label string, duration time.Duration) {
	RegisterMetrics()
	classifierOutcomes.WithLabelValues(disease, label).Inc()
	inferenceDuration.WithLabelValues(disease).Observe(duration.Seconds())
}

func RecordAnalysis(diagnosis, urgency string) {
	RegisterMetrics()
	analyses.WithLabelValues(diagnosis, urgency).Inc()
}

func RecordAnalysisFailure(reason string) {
	RegisterMetrics()
	analysisFailures.WithLabelValues(reason).Inc()
}
