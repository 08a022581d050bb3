package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platewatch_relay_messages_received_total",
			Help: "Total number of broker messages received",
		},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platewatch_relay_parse_errors_total",
			Help: "Total number of inbound messages dropped as malformed",
		},
	)

	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platewatch_relay_duplicates_skipped_total",
			Help: "Total number of envelopes skipped as broker redeliveries",
		},
	)

	// Pipeline metrics
	EnvelopesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platewatch_relay_envelopes_in_flight",
			Help: "Number of envelopes currently mid-pipeline",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platewatch_relay_queue_depth",
			Help: "Current depth of the dispatch queue",
		},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platewatch_relay_decode_errors_total",
			Help: "Total number of envelopes dropped with undecodable images",
		},
	)

	ConvertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_relay_convert_duration_seconds",
			Help:    "Duration of image transcoding in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Detection metrics
	Detections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_relay_detections_total",
			Help: "Total number of detection attempts by outcome status",
		},
		[]string{"status"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_relay_detection_duration_seconds",
			Help:    "Duration of detection calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Forwarding metrics
	Forwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_relay_forwards_total",
			Help: "Total number of forward attempts by result",
		},
		[]string{"result"},
	)

	ForwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_relay_forward_duration_seconds",
			Help:    "Duration of forward delivery in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dead letter queue metrics
	DLQWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platewatch_relay_dlq_writes_total",
			Help: "Total number of envelopes written to the dead letter queue",
		},
	)
)
