package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCMetrics provides observability for the RPC transport.
//
// Implementations collect metrics about dispatched calls, reply delivery and
// connection lifecycle. The interface is optional - passing nil to the server
// selects a no-op implementation with zero overhead.
//
// Reply delivery is best-effort by design: a reply that cannot be encoded or
// sent is logged and dropped, never re-raised to the dispatcher. Dropping a
// reply is operationally significant, so that event is surfaced here rather
// than only as a log line.
type RPCMetrics interface {
	// RecordCall records a dispatched server-side call with its program and
	// processing duration.
	RecordCall(program uint32, duration time.Duration)

	// RecordReplySent increments the delivered-replies counter.
	RecordReplySent()

	// RecordReplyDropped increments the dropped-replies counter.
	// Stage is "encode" or "send".
	RecordReplyDropped(stage string)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)
}

// rpcMetrics is the Prometheus implementation of RPCMetrics.
type rpcMetrics struct {
	callsTotal          *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	repliesSent         prometheus.Counter
	repliesDropped      *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewRPCMetrics creates a new Prometheus-backed RPCMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() {
		return &noopRPCMetrics{}
	}

	factory := promauto.With(GetRegistry())

	return &rpcMetrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Name:      "calls_total",
			Help:      "Total number of dispatched RPC calls by program",
		}, []string{"program"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dittorpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call processing duration by program",
			Buckets:   prometheus.DefBuckets,
		}, []string{"program"}),
		repliesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Name:      "replies_sent_total",
			Help:      "Total number of reply frames handed to the transport",
		}),
		repliesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Name:      "replies_dropped_total",
			Help:      "Total number of replies dropped by encode or send failures",
		}, []string{"stage"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dittorpc",
			Name:      "active_connections",
			Help:      "Current number of active transport connections",
		}),
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted transport connections",
		}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Name:      "connections_closed_total",
			Help:      "Total number of closed transport connections",
		}),
	}
}

func (m *rpcMetrics) RecordCall(program uint32, duration time.Duration) {
	label := prometheus.Labels{"program": programLabel(program)}
	m.callsTotal.With(label).Inc()
	m.callDuration.With(label).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordReplySent() {
	m.repliesSent.Inc()
}

func (m *rpcMetrics) RecordReplyDropped(stage string) {
	m.repliesDropped.With(prometheus.Labels{"stage": stage}).Inc()
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func programLabel(program uint32) string {
	return strconv.FormatUint(uint64(program), 10)
}

// noopRPCMetrics implements RPCMetrics with no-ops.
type noopRPCMetrics struct{}

func (noopRPCMetrics) RecordCall(uint32, time.Duration) {}
func (noopRPCMetrics) RecordReplySent()                 {}
func (noopRPCMetrics) RecordReplyDropped(string)        {}
func (noopRPCMetrics) RecordConnectionAccepted()        {}
func (noopRPCMetrics) RecordConnectionClosed()          {}
func (noopRPCMetrics) SetActiveConnections(int32)       {}
