package collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exported by the collector.
type Metrics struct {
	// Counters
	CyclesTotal  prometheus.CounterVec
	ProbesTotal  prometheus.CounterVec
	ErrorsTotal  prometheus.CounterVec
	PrunedEvents prometheus.Counter

	// Gauges
	NodesKnown  prometheus.Gauge
	NodesSynced prometheus.Gauge
	NodesOnline prometheus.Gauge
	LastPoll    prometheus.Gauge

	// Histograms
	CycleDuration prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics registers the collector metrics with the default registry
// once and returns them.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			CyclesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "node_monitor_cycles_total",
					Help: "Completed collector cycles",
				},
				[]string{"cycle", "status"},
			),
			ProbesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "node_monitor_probes_total",
					Help: "Node probes by outcome",
				},
				[]string{"result"},
			),
			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "node_monitor_errors_total",
					Help: "Operational errors by component",
				},
				[]string{"component", "type"},
			),
			PrunedEvents: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "node_monitor_pruned_events_total",
					Help: "Polling rows removed by history retention",
				},
			),
			NodesKnown: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "node_monitor_nodes_known",
					Help: "Nodes in the current directory snapshot",
				},
			),
			NodesSynced: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "node_monitor_nodes_synced",
					Help: "Nodes reporting synced at the last poll",
				},
			),
			NodesOnline: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "node_monitor_nodes_online",
					Help: "Nodes that answered the last poll",
				},
			),
			LastPoll: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "node_monitor_last_poll_timestamp_seconds",
					Help: "Unix time of the last persisted polling batch",
				},
			),
			CycleDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "node_monitor_cycle_duration_seconds",
					Help:    "Collector cycle duration",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"cycle"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) RecordCycle(cycle string, status string, seconds float64) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(cycle, status).Inc()
	m.CycleDuration.WithLabelValues(cycle).Observe(seconds)
}

func (m *Metrics) RecordProbe(online bool) {
	if m == nil {
		return
	}
	result := "offline"
	if online {
		result = "online"
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordError(component string, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (m *Metrics) RecordPruned(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.PrunedEvents.Add(float64(rows))
}

func (m *Metrics) SetKnownNodes(count int) {
	if m == nil {
		return
	}
	m.NodesKnown.Set(float64(count))
}

// SetPollResult updates the online/synced gauges from one batch.
func (m *Metrics) SetPollResult(online, synced int, unixSeconds float64) {
	if m == nil {
		return
	}
	m.NodesOnline.Set(float64(online))
	m.NodesSynced.Set(float64(synced))
	m.LastPoll.Set(unixSeconds)
}
