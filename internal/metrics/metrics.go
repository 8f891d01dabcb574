// Package metrics exposes the pipeline's Prometheus instrumentation.
// Collectors are registered in init() and served by the health listener
// at /metrics in the text exposition format.
//
// Series:
//   - hdv_packets_captured_total        – TCP payloads pulled off the wire
//   - hdv_packets_dropped_total         – payloads dropped on queue-offer timeout
//   - hdv_packets_processed_total       – payloads consumed from the queue
//   - hdv_parse_failures_total{kind}    – frames the parser rejected
//   - hdv_entries_persisted_total       – price entries committed
//   - hdv_observations_skipped_total{reason} – validation / dedup drops
//   - hdv_consumer_errors_total         – storage failures seen by the consumer
//   - hdv_circuit_state                 – 0 closed, 1 half-open, 2 open
//   - hdv_queue_depth / hdv_queue_utilisation – queue pressure gauges
//   - hdv_cache_requests_total{cache,result}  – cache hits and misses
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PacketsCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hdv_packets_captured_total",
		Help: "TCP payloads extracted from the capture loop",
	})

	PacketsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hdv_packets_dropped_total",
		Help: "Payloads dropped because the queue offer timed out",
	})

	PacketsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hdv_packets_processed_total",
		Help: "Payloads consumed from the queue",
	})

	ParseFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hdv_parse_failures_total",
		Help: "Frames rejected by the protocol parser",
	}, []string{"kind"}) // truncated|malformed_varint|decompression_bomb|other

	EntriesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hdv_entries_persisted_total",
		Help: "Price entries committed to the store",
	})

	ObservationsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hdv_observations_skipped_total",
		Help: "Observations dropped before persistence",
	}, []string{"reason"}) // validation|duplicate

	ConsumerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hdv_consumer_errors_total",
		Help: "Storage failures counted toward the circuit breaker",
	})

	CircuitState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hdv_circuit_state",
		Help: "Consumer circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hdv_queue_depth",
		Help: "Buffered payloads in the packet queue",
	})

	QueueUtilisation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hdv_queue_utilisation",
		Help: "Packet queue fill level in [0,1]",
	})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hdv_cache_requests_total",
		Help: "Cache lookups by cache name and result",
	}, []string{"cache", "result"}) // result: hit|miss
)

func init() {
	prometheus.MustRegister(
		PacketsCaptured, PacketsDropped, PacketsProcessed,
		ParseFailures, EntriesPersisted, ObservationsSkipped,
		ConsumerErrors, CircuitState,
		QueueDepth, QueueUtilisation, CacheRequests,
	)
}
