package outbound

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "gateway"
	subsystem = "transport"
)

// TransportMetrics holds the Prometheus metrics for the outbound
// transport, registered once on the default registry.
type TransportMetrics struct {
	PoolPendingConnections *prometheus.GaugeVec
	PoolIdleConnections    *prometheus.GaugeVec
	PoolActiveConnections  *prometheus.GaugeVec
	PoolExhaustedTotal     *prometheus.CounterVec
	ConnectsTotal          *prometheus.CounterVec
	ConnectionsClosedTotal *prometheus.CounterVec
	PoolResetsTotal        prometheus.Counter
	BufferRecyclesTotal    prometheus.Counter
	BufferDiscardsTotal    prometheus.Counter
}

var (
	transportMetricsInstance *TransportMetrics
	transportMetricsOnce     sync.Once
)

// GetTransportMetrics returns the process-wide transport metrics.
func GetTransportMetrics() *TransportMetrics {
	transportMetricsOnce.Do(func() {
		transportMetricsInstance = newTransportMetrics()
	})
	return transportMetricsInstance
}

func newTransportMetrics() *TransportMetrics {
	return &TransportMetrics{
		PoolPendingConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_pending_connections",
				Help:      "Reserved connect slots not yet completed, per route",
			},
			[]string{"route"},
		),
		PoolIdleConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_idle_connections",
				Help:      "Established unused connections, per route",
			},
			[]string{"route"},
		),
		PoolActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_active_connections",
				Help:      "Connections checked out by callers, per route",
			},
			[]string{"route"},
		),
		PoolExhaustedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_exhausted_total",
				Help:      "Acquire attempts rejected because the route pool was saturated",
			},
			[]string{"route"},
		),
		ConnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connects_total",
				Help:      "Connect completions by result",
			},
			[]string{"route", "result"},
		),
		ConnectionsClosedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections_closed_total",
				Help:      "Connections torn down, by close mode",
			},
			[]string{"route", "mode"},
		),
		PoolResetsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_resets_total",
				Help:      "Administrative pool reset operations",
			},
		),
		BufferRecyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "buffer_recycles_total",
				Help:      "Buffer pairs returned to the shared buffer pool",
			},
		),
		BufferDiscardsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "buffer_discards_total",
				Help:      "Buffer pairs withheld from the shared buffer pool",
			},
		),
	}
}

// RecordPoolGauges publishes a pool's accounting snapshot.
func (m *TransportMetrics) RecordPoolGauges(route string, pending, idle, active int) {
	m.PoolPendingConnections.WithLabelValues(route).Set(float64(pending))
	m.PoolIdleConnections.WithLabelValues(route).Set(float64(idle))
	m.PoolActiveConnections.WithLabelValues(route).Set(float64(active))
}

// RecordExhausted counts a saturation rejection.
func (m *TransportMetrics) RecordExhausted(route string) {
	m.PoolExhaustedTotal.WithLabelValues(route).Inc()
}

// RecordConnect counts a connect completion.
func (m *TransportMetrics) RecordConnect(route, result string) {
	m.ConnectsTotal.WithLabelValues(route, result).Inc()
}

// RecordClosed counts a teardown.
func (m *TransportMetrics) RecordClosed(route, mode string) {
	m.ConnectionsClosedTotal.WithLabelValues(route, mode).Inc()
}

// RecordReset counts an administrative reset operation.
func (m *TransportMetrics) RecordReset() {
	m.PoolResetsTotal.Inc()
}

// RecordBufferRecycle counts a buffer pair returned to the shared pool.
func (m *TransportMetrics) RecordBufferRecycle() {
	m.BufferRecyclesTotal.Inc()
}

// RecordBufferDiscard counts a buffer pair withheld from the shared pool.
func (m *TransportMetrics) RecordBufferDiscard() {
	m.BufferDiscardsTotal.Inc()
}
