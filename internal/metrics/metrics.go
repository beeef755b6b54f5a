package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logproc_events_total",
			Help: "Inbound login events by outcome",
		},
		[]string{"outcome"}, // processed|duplicate|poison|error
	)

	TrackingCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logproc_tracking_calls_total",
			Help: "Tracking collaborator call attempts by result",
		},
		[]string{"result"}, // ok|retryable|fatal
	)

	TrackingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logproc_tracking_outcomes_total",
			Help: "Final recorded tracking outcomes",
		},
		[]string{"outcome"}, // successful|unsuccessful
	)

	OutboxPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logproc_outbox_publish_total",
			Help: "Outbox publish attempts by disposition",
		},
		[]string{"disposition"}, // sent|retried|failed
	)

	OutboxBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logproc_outbox_batch_size",
			Help:    "Number of records claimed per publisher tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		TrackingCallsTotal,
		TrackingOutcomesTotal,
		OutboxPublishTotal,
		OutboxBatchSize,
	)
}
