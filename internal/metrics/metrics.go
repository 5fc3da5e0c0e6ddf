// Package metrics exposes the prometheus collectors of the lecture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	lectureSubsystem = "lecture"

	slidesTotal           = "slides_total"
	faceRetriesTotal      = "face_generation_retries_total"
	jobsTotal             = "jobs_total"
	encoderFallbacksTotal = "encoder_fallbacks_total"

	// Labels
	outcomeLabel   = "outcome"
	stateLabel     = "state"
	operationLabel = "operation"
)

// Label values used by the pipeline.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"

	OperationOverlay = "overlay"
	OperationConcat  = "concat"
)

var slidesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: lectureSubsystem,
		Name:      slidesTotal,
		Help:      "number of processed slides by outcome",
	},
	[]string{outcomeLabel},
)

var faceRetriesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: lectureSubsystem,
		Name:      faceRetriesTotal,
		Help:      "number of talking-head attempts retried after accelerator memory exhaustion",
	},
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: lectureSubsystem,
		Name:      jobsTotal,
		Help:      "number of finished jobs by terminal state",
	},
	[]string{stateLabel},
)

var encoderFallbacksTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: lectureSubsystem,
		Name:      encoderFallbacksTotal,
		Help:      "number of times a transcoder operation fell back to its slower strategy",
	},
	[]string{operationLabel},
)

// IncreaseSlidesMetric counts one slide with the given outcome.
func IncreaseSlidesMetric(outcome string) {
	slidesTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// IncreaseFaceRetriesMetric counts one resource-exhausted retry.
func IncreaseFaceRetriesMetric() {
	faceRetriesTotalMetric.Inc()
}

// IncreaseJobsMetric counts one job reaching a terminal state.
func IncreaseJobsMetric(state string) {
	jobsTotalMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

// IncreaseEncoderFallbacksMetric counts one fallback for the given operation.
func IncreaseEncoderFallbacksMetric(operation string) {
	encoderFallbacksTotalMetric.With(prometheus.Labels{operationLabel: operation}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(slidesTotalMetric)
	prometheus.MustRegister(faceRetriesTotalMetric)
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(encoderFallbacksTotalMetric)
}
