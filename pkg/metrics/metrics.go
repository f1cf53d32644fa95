package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Task outcomes.
const (
	OutcomeSubmitted = "submitted"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Metrics holds the runtime collectors.
type Metrics struct {
	tasks            *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackLatency  prometheus.Histogram
	exceptions       *prometheus.CounterVec
	chunks           *prometheus.CounterVec
	reportsAssembled prometheus.Counter
	inflight         prometheus.Gauge
	signalRecords    prometheus.Counter
	holdersEvicted   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg uses a
// private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelrt_tasks_total",
			Help: "Queue tasks by op kind and outcome.",
		}, []string{"kind", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelrt_callbacks_dispatched_total",
			Help: "Host callbacks run by dispatch workers.",
		}, []string{"mode", "status"}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accelrt_callback_duration_seconds",
			Help:    "Time spent inside host callbacks.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelrt_exceptions_total",
			Help: "Device exception records dispatched, by payload variant.",
		}, []string{"variant"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelrt_report_chunks_total",
			Help: "Report chunks fed to the reassembler, by result.",
		}, []string{"result"}),
		reportsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accelrt_reports_assembled_total",
			Help: "Multi-chunk reports fully reassembled.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accelrt_reassembly_inflight",
			Help: "Reassembly buffers currently open.",
		}),
		signalRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accelrt_signal_records_total",
			Help: "Cross-context signal records.",
		}),
		holdersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accelrt_signal_holders_evicted_total",
			Help: "Signal references dropped for dead processes.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.tasks, m.callbacks, m.callbackLatency, m.exceptions, m.chunks,
		m.reportsAssembled, m.inflight, m.signalRecords, m.holdersEvicted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Task counts one task transition.
func (m *Metrics) Task(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, outcome).Inc()
}

// Callback counts one delivered callback and its run time.
func (m *Metrics) Callback(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(mode, status).Inc()
	m.callbackLatency.Observe(d.Seconds())
}

// Exception counts one dispatched exception record.
func (m *Metrics) Exception(variant string) {
	if m == nil {
		return
	}
	m.exceptions.WithLabelValues(variant).Inc()
}

// Chunk counts one fed chunk. result is "accepted" or a rejection reason.
func (m *Metrics) Chunk(result string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(result).Inc()
}

// ReportAssembled counts one completed report.
func (m *Metrics) ReportAssembled() {
	if m == nil {
		return
	}
	m.reportsAssembled.Inc()
}

// SetInflight sets the open reassembly buffer count.
func (m *Metrics) SetInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

// SignalRecorded counts one signal record.
func (m *Metrics) SignalRecorded() {
	if m == nil {
		return
	}
	m.signalRecords.Inc()
}

// HoldersEvicted counts references dropped by the janitor.
func (m *Metrics) HoldersEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdersEvicted.Add(float64(n))
}
