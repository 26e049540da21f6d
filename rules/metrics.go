package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the rule engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	rulesFired        *prometheus.CounterVec
	reloadsTotal      *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	validationsTotal  *prometheus.CounterVec
	activeRules       prometheus.Gauge
	generation        prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics. It returns nil
// when no registerer is given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruleops",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total executions of the active rule set",
		}, []string{"result"}),

		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ruleops",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Time spent executing the active rule set against one record",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),

		rulesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruleops",
			Subsystem: "engine",
			Name:      "rules_fired_total",
			Help:      "Rule firings by rule name",
		}, []string{"rule_name"}),

		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruleops",
			Subsystem: "container",
			Name:      "reloads_total",
			Help:      "Active rule set reloads",
		}, []string{"result"}),

		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruleops",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Rule status changes by resulting status",
		}, []string{"status"}),

		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruleops",
			Subsystem: "validator",
			Name:      "validations_total",
			Help:      "Rule body validations",
		}, []string{"result"}),

		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ruleops",
			Subsystem: "container",
			Name:      "active_rules",
			Help:      "Number of rules in the loaded snapshot",
		}),

		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ruleops",
			Subsystem: "container",
			Name:      "generation",
			Help:      "Generation of the loaded snapshot",
		}),
	}

	reg.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.rulesFired,
		m.reloadsTotal,
		m.transitionsTotal,
		m.validationsTotal,
		m.activeRules,
		m.generation,
	)

	return m
}

func (m *Metrics) observeExecution(d time.Duration, fired []string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.executionsTotal.WithLabelValues(result).Inc()
	m.executionDuration.Observe(d.Seconds())
	for _, name := range fired {
		m.rulesFired.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) observeReload(s *Snapshot, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloadsTotal.WithLabelValues("conflict").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues("success").Inc()
	m.activeRules.Set(float64(len(s.Rules)))
	m.generation.Set(float64(s.Generation))
}

func (m *Metrics) observeTransition(status Status) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeValidation(valid, cached bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	if cached {
		result += "_cached"
	}
	m.validationsTotal.WithLabelValues(result).Inc()
}
