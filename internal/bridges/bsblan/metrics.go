package bsblan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	tracked       prometheus.Gauge
	objects       prometheus.Counter
	writes        *prometheus.CounterVec
}

// NewMetrics creates the bridge collectors. Register them with
// prometheus.Registerer.MustRegister(m).
func NewMetrics() *Metrics {
	return &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsblan_sync_cycles_total",
			Help: "Completed sync cycles by outcome (ok, error)",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bsblan_sync_cycle_duration_seconds",
			Help:    "Wall time of one sync cycle",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bsblan_tracked_parameters",
			Help: "Parameters in the configured tracking list",
		}),
		objects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsblan_objects_created_total",
			Help: "Parameter objects created from device definitions",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsblan_writes_total",
			Help: "Parameter writes by outcome (ok, rejected, error)",
		}, []string{"outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.cycles.Describe(ch)
	m.cycleDuration.Describe(ch)
	m.tracked.Describe(ch)
	m.objects.Describe(ch)
	m.writes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.cycles.Collect(ch)
	m.cycleDuration.Collect(ch)
	m.tracked.Collect(ch)
	m.objects.Collect(ch)
	m.writes.Collect(ch)
}

func (m *Metrics) observeCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) setTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

func (m *Metrics) objectCreated() {
	if m == nil {
		return
	}
	m.objects.Inc()
}

func (m *Metrics) write(outcome string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
}
