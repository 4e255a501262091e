package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Extraction metrics
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidtally_extractions_total",
			Help: "Total number of processed extraction requests",
		},
		[]string{"outcome"}, // outcome: saved, rejected, incomplete, failed, skipped
	)

	extractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidtally_extraction_duration_seconds",
			Help:    "Time to process one extraction request",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Recognizer metrics
	recognizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidtally_recognize_duration_seconds",
			Help:    "Recognizer latency per region",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"field"},
	)

	recognizeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidtally_recognize_errors_total",
			Help: "Total number of failed region recognitions",
		},
		[]string{"field"},
	)

	invalidReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidtally_invalid_readings_total",
			Help: "Recognized text that did not normalize to a number",
		},
		[]string{"field"},
	)

	// Queue metrics
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidtally_queue_depth",
			Help: "Extraction requests waiting in the queue",
		},
	)

	queueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidtally_queue_dropped_total",
			Help: "Extraction requests dropped because the queue was full or stale",
		},
	)

	// Persistence metrics
	persistenceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidtally_persistence_failures_total",
			Help: "Accepted readings that could not be written to the ledger",
		},
	)

	workerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidtally_worker_panics_total",
			Help: "Recovered panics in the extraction loop",
		},
	)
)
