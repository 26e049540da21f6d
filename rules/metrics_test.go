package rules

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/liamcoop/ruleops/rules/facts"
)

func TestNewMetricsNilRegisterer(t *testing.T) {
	if m := NewMetrics(nil); m != nil {
		t.Errorf("NewMetrics(nil) = %v, want nil", m)
	}

	// A nil *Metrics records nothing and must not panic.
	var m *Metrics
	m.observeExecution(0, []string{"r"}, nil)
	m.observeReload(nil, nil)
	m.observeTransition(StatusActive)
	m.observeValidation(true, false)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	en, _ := newTestEngine(t, WithMetrics(m))

	saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)
	_, _ = en.Save(&Rule{Name: "Broken", Body: brokenBody}, "")
	_, _ = en.Execute(&facts.Customer{Age: 20})
	_, _ = en.Execute(&facts.Customer{Age: 40})

	if got := testutil.ToFloat64(m.executionsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("executions_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rulesFired.WithLabelValues("Youth")); got != 1 {
		t.Errorf("rules_fired_total{Youth} = %v, want 1", got)
	}
	// Startup load plus activation.
	if got := testutil.ToFloat64(m.reloadsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("reloads_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activeRules); got != 1 {
		t.Errorf("active_rules = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues(string(StatusError))); got != 1 {
		t.Errorf("transitions_total{ERROR} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.validationsTotal.WithLabelValues("invalid")); got != 1 {
		t.Errorf("validations_total{invalid} = %v, want 1", got)
	}
	// Activation re-validates the body saved moments before.
	if got := testutil.ToFloat64(m.validationsTotal.WithLabelValues("valid_cached")); got != 1 {
		t.Errorf("validations_total{valid_cached} = %v, want 1", got)
	}
}
