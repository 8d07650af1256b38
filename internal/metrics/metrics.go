// Package metrics holds the Prometheus collectors the pipeline reports
// into. The HTTP endpoint that serves them lives in cmd/ingest; nothing
// here ever touches the accumulator itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngestedTotal counts records successfully normalized and
	// offered to the accumulator.
	EventsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kinesis2_events_ingested_total",
			Help: "Total number of records normalized and accumulated",
		},
	)

	// EventsDroppedTotal counts records dropped because their payload
	// could not be normalized.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kinesis2_events_dropped_total",
			Help: "Total number of records dropped on normalization failure",
		},
	)

	// FlushesTotal counts successful batch flushes.
	FlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kinesis2_flushes_total",
			Help: "Total number of successful batch flushes",
		},
	)

	// FlushDuration tracks the latency of a persistence flush.
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kinesis2_flush_duration_seconds",
			Help:    "Duration of batch writes to storage in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	// AccumulatorDepth is the number of events currently waiting for a
	// flush.
	AccumulatorDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kinesis2_accumulator_depth",
			Help: "Number of events currently accumulated and pending flush",
		},
	)

	// InsertConflictsTotal counts rows skipped because their id was
	// already persisted (redelivery duplicates).
	InsertConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kinesis2_insert_conflicts_total",
			Help: "Total number of rows skipped on duplicate id",
		},
	)

	// PublishFailuresTotal counts fan-out publish errors (best effort,
	// not retried).
	PublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kinesis2_publish_failures_total",
			Help: "Total number of failed fan-out publishes",
		},
	)
)
