package coordinator

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Coordinator's Prometheus instrumentation, registered on
// its own registry so /metrics never pulls in the default global collectors.
type Metrics struct {
	registry *prometheus.Registry

	produceTotal           *prometheus.CounterVec
	consumeTotal           *prometheus.CounterVec
	replicationResultTotal *prometheus.CounterVec
	failoverEventsTotal    prometheus.Counter
}

// NewMetrics builds and registers the ringmq_coordinator_* metric family.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		produceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringmq",
			Subsystem: "coordinator",
			Name:      "produce_total",
			Help:      "Total produce requests by outcome.",
		}, []string{"outcome"}),
		consumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringmq",
			Subsystem: "coordinator",
			Name:      "consume_total",
			Help:      "Total consume requests by outcome.",
		}, []string{"outcome"}),
		replicationResultTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringmq",
			Subsystem: "coordinator",
			Name:      "replication_result_total",
			Help:      "Total per-replica replication outcomes observed from produce responses.",
		}, []string{"status"}),
		failoverEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmq",
			Subsystem: "coordinator",
			Name:      "failover_events_total",
			Help:      "Total failover promotions recorded.",
		}),
	}

	registry.MustRegister(
		m.produceTotal,
		m.consumeTotal,
		m.replicationResultTotal,
		m.failoverEventsTotal,
	)
	return m
}

// RecordFailoverEvent increments the failover counter. Called by the
// Coordinator whenever the failover controller's event log grows.
func (m *Metrics) RecordFailoverEvent() { m.failoverEventsTotal.Inc() }

// Handler returns a gin-compatible handler serving the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
