package rules

import (
	"fmt"
	"testing"

	"github.com/liamcoop/ruleops/rules/facts"
	"github.com/liamcoop/ruleops/ruleset"
)

func newTestCompiler(t *testing.T) *ruleset.Compiler {
	t.Helper()
	c, err := ruleset.NewCompiler(facts.CustomerType)
	if err != nil {
		t.Fatalf("NewCompiler() failed: %v", err)
	}
	return c
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *InMemoryRuleStore) {
	t.Helper()
	store := NewInMemoryRuleStore()
	en, err := NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return en, store
}

// ruleBody builds a single-rule source with one condition and one action.
func ruleBody(name, when, then string) string {
	return fmt.Sprintf("rule %q\nwhen\n    %s\nthen\n    %s\nend\n", name, when, then)
}

const brokenBody = "rule \"Broken\"\nwhen\n    unknownField > 3\nthen\n    discount = \"never\"\nend\n"

func discountOf(c *facts.Customer) string {
	if c.Discount == nil {
		return ""
	}
	return *c.Discount
}

func recommendationOf(c *facts.Customer) string {
	if c.Recommendation == nil {
		return ""
	}
	return *c.Recommendation
}

func saveActive(t *testing.T, en *Engine, name, body string, priority int) *Rule {
	t.Helper()
	r, err := en.Save(&Rule{Name: name, Body: body, Priority: priority}, "tester")
	if err != nil {
		t.Fatalf("Save(%q) failed: %v", name, err)
	}
	if r.Status != StatusDraft {
		t.Fatalf("Save(%q) status = %s, want %s (diagnostics: %s)", name, r.Status, StatusDraft, r.ValidationErrors)
	}
	r, err = en.Activate(r.ID, "tester")
	if err != nil {
		t.Fatalf("Activate(%q) failed: %v", name, err)
	}
	return r
}
