package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Total number of CDC messages fully processed",
		},
		[]string{"source"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_dropped_total",
			Help: "Total number of CDC messages dropped without dispatch",
		},
		[]string{"source", "reason"},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_sink_failures_total",
			Help: "Total number of per-destination delivery failures",
		},
		[]string{"sink"},
	)

	SinkDeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_sink_delivery_retries_total",
			Help: "Total number of in-place retries after an escalated broker-publish failure",
		},
	)

	EnrichmentMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_enrichment_misses_total",
			Help: "Total number of events processed with unresolved identity",
		},
		[]string{"kind"},
	)

	UnmappedEventTypes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_unmapped_event_types_total",
			Help: "Total number of events that resolved to the UNKNOWN unified type",
		},
		[]string{"tool"},
	)

	ProjectionsRepublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_projections_republished_total",
			Help: "Total number of device projections republished by the read-model sync",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "End-to-end processing duration per CDC message",
			Buckets: prometheus.DefBuckets,
		},
	)
)
