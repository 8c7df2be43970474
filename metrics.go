package jsvm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the VMs given it in
// their Config. A nil *Metrics records nothing.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	Interrupts         prometheus.Counter
	ActiveVMs          prometheus.Gauge
	HostCalls          *prometheus.CounterVec
	ModuleImports      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsvm_evaluations_total",
				Help: "Total number of top-level evaluations",
			},
			[]string{"result"},
		),
		EvaluationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsvm_evaluation_duration_seconds",
				Help:    "Wall-clock duration of top-level evaluations",
				Buckets: prometheus.DefBuckets,
			},
		),
		Interrupts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsvm_interrupts_total",
				Help: "Total number of evaluations stopped by their timeout",
			},
		),
		ActiveVMs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsvm_active_vms",
				Help: "Number of VMs created and not yet disposed",
			},
		),
		HostCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsvm_host_calls_total",
				Help: "Total number of host function invocations",
			},
			[]string{"mode", "result"},
		),
		ModuleImports: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsvm_module_imports_total",
				Help: "Total number of imported modules",
			},
		),
	}
}

func (m *Metrics) evaluation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(result).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
	if result == resultInterrupted {
		m.Interrupts.Inc()
	}
}

func (m *Metrics) hostCall(mode, result string) {
	if m == nil {
		return
	}
	m.HostCalls.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) moduleImport() {
	if m == nil {
		return
	}
	m.ModuleImports.Inc()
}

func (m *Metrics) vmCreated() {
	if m == nil {
		return
	}
	m.ActiveVMs.Inc()
}

func (m *Metrics) vmDisposed() {
	if m == nil {
		return
	}
	m.ActiveVMs.Dec()
}

const (
	resultOK          = "ok"
	resultError       = "error"
	resultInterrupted = "interrupted"
)
