// Package metrics holds the pipeline's Prometheus collectors and the plain
// totals used for the end-of-run summary.
//
// All methods are safe to call on a nil *Metrics, which disables recording.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ntv"

// Metrics is shared by the dispatcher, shards and writers of one run.
type Metrics struct {
	registry *prometheus.Registry

	packetsDispatched prometheus.Counter
	packetsDropped    *prometheus.CounterVec // by reason
	sessionsEmitted   *prometheus.CounterVec // by reap reason
	artifactsWritten  prometheus.Counter
	writeFailures     *prometheus.CounterVec // by stage: encode, write
	observerFailures  prometheus.Counter
	activeFlows       prometheus.Gauge
	permitsInUse      prometheus.Gauge

	dispatched atomic.Uint64
	dropped    atomic.Uint64
	emitted    atomic.Uint64
	written    atomic.Uint64
	failed     atomic.Uint64
	live       atomic.Int64
}

// Totals is a point-in-time copy of the run counters.
type Totals struct {
	PacketsDispatched uint64 `json:"packets_dispatched"`
	PacketsDropped    uint64 `json:"packets_dropped"`
	SessionsEmitted   uint64 `json:"sessions_emitted"`
	ArtifactsWritten  uint64 `json:"artifacts_written"`
	WriteFailures     uint64 `json:"write_failures"`
	ActiveFlows       int64  `json:"active_flows"`
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packetsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "packets_dispatched_total",
			Help:      "Packets routed to a shard",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped before reaching a shard",
		}, []string{"reason"}),
		sessionsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shard",
			Name:      "sessions_emitted_total",
			Help:      "Sessions handed to the completed-session queue",
		}, []string{"reason"}),
		artifactsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "artifacts_written_total",
			Help:      "Artifact files persisted",
		}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "failures_total",
			Help:      "Sessions dropped by the writer pool",
		}, []string{"stage"}),
		observerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "observer_failures_total",
			Help:      "Session observers that returned an error",
		}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shard",
			Name:      "active_flows",
			Help:      "Sessions currently held in shard flow tables",
		}),
		permitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "open_file_permits_in_use",
			Help:      "Open-file permits currently held",
		}),
	}

	m.registry.MustRegister(
		m.packetsDispatched,
		m.packetsDropped,
		m.sessionsEmitted,
		m.artifactsWritten,
		m.writeFailures,
		m.observerFailures,
		m.activeFlows,
		m.permitsInUse,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PacketDispatched() {
	if m == nil {
		return
	}
	m.packetsDispatched.Inc()
	m.dispatched.Add(1)
}

func (m *Metrics) PacketDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
	m.dropped.Add(1)
}

func (m *Metrics) SessionEmitted(reason string) {
	if m == nil {
		return
	}
	m.sessionsEmitted.WithLabelValues(reason).Inc()
	m.emitted.Add(1)
}

func (m *Metrics) ArtifactWritten() {
	if m == nil {
		return
	}
	m.artifactsWritten.Inc()
	m.written.Add(1)
}

func (m *Metrics) WriteFailed(stage string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(stage).Inc()
	m.failed.Add(1)
}

func (m *Metrics) ObserverFailed() {
	if m == nil {
		return
	}
	m.observerFailures.Inc()
}

// FlowsChanged adjusts the live-flow gauge by delta.
func (m *Metrics) FlowsChanged(delta int) {
	if m == nil {
		return
	}
	m.activeFlows.Add(float64(delta))
	m.live.Add(int64(delta))
}

// PermitsChanged adjusts the permits-in-use gauge by delta.
func (m *Metrics) PermitsChanged(delta int) {
	if m == nil {
		return
	}
	m.permitsInUse.Add(float64(delta))
}

// Totals returns the current run counters.
func (m *Metrics) Totals() Totals {
	if m == nil {
		return Totals{}
	}
	return Totals{
		PacketsDispatched: m.dispatched.Load(),
		PacketsDropped:    m.dropped.Load(),
		SessionsEmitted:   m.emitted.Load(),
		ArtifactsWritten:  m.written.Load(),
		WriteFailures:     m.failed.Load(),
		ActiveFlows:       m.live.Load(),
	}
}
