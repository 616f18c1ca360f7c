package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wizz/protocol"
)

type metrics struct {
	connections     prometheus.Gauge
	online          prometheus.Gauge
	packets         *prometheus.CounterVec
	messages        *prometheus.CounterVec
	nudgesRefused   *prometheus.CounterVec
	flushed         prometheus.Counter
	protocolErrors  prometheus.Counter
	storageTasks    prometheus.Counter
	storageLatency  prometheus.Histogram
	storageFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizz_connections",
			Help: "Current number of open client connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizz_sessions_online",
			Help: "Current number of logged in identities.",
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizz_packets_received_total",
			Help: "Packets received from clients by type.",
		}, []string{"type"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizz_messages_total",
			Help: "Direct and voice messages by outcome.",
		}, []string{"kind", "outcome"}),
		nudgesRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizz_nudges_refused_total",
			Help: "Nudges refused by reason.",
		}, []string{"reason"}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizz_pending_flushed_total",
			Help: "Pending messages replayed on login.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizz_protocol_errors_total",
			Help: "Connections dropped for malformed packets.",
		}),
		storageTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizz_storage_tasks_total",
			Help: "Storage tasks executed.",
		}),
		storageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wizz_storage_task_seconds",
			Help:    "Time spent running storage tasks.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizz_storage_failures_total",
			Help: "Failed storage or blob operations by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.connections,
		m.online,
		m.packets,
		m.messages,
		m.nudgesRefused,
		m.flushed,
		m.protocolErrors,
		m.storageTasks,
		m.storageLatency,
		m.storageFailures,
	)
	return m
}

func (m *metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *metrics) setOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *metrics) recordPacket(t protocol.Type) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(t.String()).Inc()
}

func (m *metrics) recordMessage(kind string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "queued"
	if delivered {
		outcome = "delivered"
	}
	m.messages.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) recordNudgeRefused(reason string) {
	if m == nil {
		return
	}
	m.nudgesRefused.WithLabelValues(reason).Inc()
}

func (m *metrics) recordFlushed(n int) {
	if m == nil {
		return
	}
	m.flushed.Add(float64(n))
}

func (m *metrics) recordProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *metrics) recordStorageFailure(op string) {
	if m == nil {
		return
	}
	m.storageFailures.WithLabelValues(op).Inc()
}

// ObserveTask implements gateway.Observer.
func (m *metrics) ObserveTask(d time.Duration) {
	if m == nil {
		return
	}
	m.storageTasks.Inc()
	m.storageLatency.Observe(d.Seconds())
}
