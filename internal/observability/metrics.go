// Package observability is C12 (spec §4.12 / SPEC_FULL.md §4.12): the
// six Prometheus metrics every stage of the pipeline emits into, the
// freshness SLO evaluator, and the fault_once chaos hook. Grounded on
// jordigilh-kubernaut's metrics tests (manual prometheus.NewCounterVec
// / NewHistogramVec plus an explicit registry.MustRegister, rather than
// the promauto package) for the metric-construction shape, and on the
// teacher's circuit-breaker-free "continue on activity failure" style
// generalized here into an explicit gobreaker wrap.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the six named series from spec §4.12.
type Metrics struct {
	ActivitySeconds         *prometheus.HistogramVec
	DocFreshSeconds         prometheus.Histogram
	EventsTotal             *prometheus.CounterVec
	StreamConsumerPending   *prometheus.GaugeVec
	GraphAPIResponseSeconds *prometheus.HistogramVec
	ChaosDrillTotal         prometheus.Counter
	ChaosDrillSuccessTotal  prometheus.Counter
}

// NewMetrics constructs and registers every series against reg. Pass
// prometheus.NewRegistry() in tests to avoid the global default
// registry's cross-test collisions.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ActivitySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "activity_seconds",
			Help:    "Wall-clock duration of one workflow activity invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
		DocFreshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "doc_fresh_seconds",
			Help:    "publish_completed_at minus event.received_at, per published page.",
			Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 180, 300, 600},
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_total",
			Help: "Events processed, partitioned by terminal result.",
		}, []string{"result"}),
		StreamConsumerPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_consumer_pending",
			Help: "Messages pending delivery to a durable consumer.",
		}, []string{"consumer"}),
		GraphAPIResponseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graph_api_response_seconds",
			Help:    "Graph query API response latency, per endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ChaosDrillTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaos_drill_total",
			Help: "Chaos drills executed.",
		}),
		ChaosDrillSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaos_drill_success_total",
			Help: "Chaos drills whose injected fault recovered within budget.",
		}),
	}

	reg.MustRegister(
		m.ActivitySeconds,
		m.DocFreshSeconds,
		m.EventsTotal,
		m.StreamConsumerPending,
		m.GraphAPIResponseSeconds,
		m.ChaosDrillTotal,
		m.ChaosDrillSuccessTotal,
	)
	return m
}

// EventResult enumerates events_total's result label values.
type EventResult string

const (
	ResultOK    EventResult = "ok"
	ResultError EventResult = "error"
	ResultDLQ   EventResult = "dlq"
)

// ObserveEvent increments events_total{result}.
func (m *Metrics) ObserveEvent(result EventResult) {
	m.EventsTotal.WithLabelValues(string(result)).Inc()
}

// ObserveActivity records one activity_seconds{name} sample.
func (m *Metrics) ObserveActivity(name string, seconds float64) {
	m.ActivitySeconds.WithLabelValues(name).Observe(seconds)
}

// ObserveGraphAPI records one graph_api_response_seconds{endpoint} sample.
func (m *Metrics) ObserveGraphAPI(endpoint string, seconds float64) {
	m.GraphAPIResponseSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// SetStreamConsumerPending sets stream_consumer_pending{consumer}.
func (m *Metrics) SetStreamConsumerPending(consumer string, pending float64) {
	m.StreamConsumerPending.WithLabelValues(consumer).Set(pending)
}
