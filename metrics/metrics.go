package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop stages for EventsDropped.
const (
	StageDispatch  = "dispatch"
	StageRelay     = "relay"
	StageHub       = "hub"
	StageClient    = "client"
	StageAggregate = "aggregate"
)

type Metrics struct {
	Transitions      *prometheus.CounterVec
	EventsEmitted    *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventsDelivered  prometheus.Counter
	Connections      prometheus.Gauge
	AggregateRetries prometheus.Counter
	AggregateFailed  prometheus.Counter
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the service metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "order_transitions_total",
			Help:      "Applied order status and payment transitions.",
		}, []string{"field", "to"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "events_emitted_total",
			Help:      "Lifecycle events accepted by the dispatcher.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a queue was full or a subscriber was gone.",
		}, []string{"stage"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "events_delivered_total",
			Help:      "Event frames handed to connected websocket clients.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canteen",
			Name:      "ws_connections",
			Help:      "Currently registered websocket clients.",
		}),
		AggregateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "aggregate_retries_total",
			Help:      "Aggregate update attempts that failed and were retried.",
		}),
		AggregateFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "aggregate_failures_total",
			Help:      "Aggregate updates dropped after exhausting retries.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canteen",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Transitions, m.EventsEmitted, m.EventsDropped, m.EventsDelivered, m.Connections,
		m.AggregateRetries, m.AggregateFailed, m.Requests, m.LatencyMS,
	)
	return m
}

// NewDefault registers on a fresh registry that also carries the Go and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

func (m *Metrics) Dropped(stage string) {
	m.EventsDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
