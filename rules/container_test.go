package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/liamcoop/ruleops/ruleset"
)

func TestNewContainerStartsEmpty(t *testing.T) {
	c, err := NewContainer(newTestCompiler(t), nil)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	s := c.Current()
	if s == nil || !s.Empty() {
		t.Fatalf("Current() = %+v, want an empty snapshot", s)
	}
	if s.Generation != 0 {
		t.Errorf("Generation = %d, want 0", s.Generation)
	}
	if len(s.RuleNames()) != 0 {
		t.Errorf("RuleNames() = %v, want none", s.RuleNames())
	}
}

func TestNewContainerRequiresCompiler(t *testing.T) {
	if _, err := NewContainer(nil, nil); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("NewContainer(nil) error = %v, want ErrEngineUnavailable", err)
	}
}

func TestContainerReloadFromLoadsActiveRulesInOrder(t *testing.T) {
	c, _ := NewContainer(newTestCompiler(t), nil)

	rules := []*Rule{
		{ID: "1", Name: "Late", Priority: 200, Status: StatusActive, Body: ruleBody("Late", "age > 0", `nextAction = "late"`)},
		{ID: "2", Name: "Draft", Priority: 1, Status: StatusDraft, Body: ruleBody("Draft", "age > 0", `nextAction = "draft"`)},
		{ID: "3", Name: "Early", Priority: 10, Status: StatusActive, Body: ruleBody("Early", "age > 0", `alert = "early"`)},
		{ID: "4", Name: "Also early", Priority: 10, Status: StatusActive, Body: ruleBody("Also early", "age > 0", `discount = "x"`)},
		nil,
	}

	s, err := c.ReloadFrom(rules)
	if err != nil {
		t.Fatalf("ReloadFrom() failed: %v", err)
	}
	if want := []string{"Also early", "Early", "Late"}; !reflect.DeepEqual(s.RuleNames(), want) {
		t.Errorf("RuleNames() = %v, want %v", s.RuleNames(), want)
	}
	if want := []string{"Also early", "Early", "Late"}; !reflect.DeepEqual(s.KB.RuleNames(), want) {
		t.Errorf("KB.RuleNames() = %v, want %v", s.KB.RuleNames(), want)
	}
	if s.Generation != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation)
	}
	if c.Current() != s {
		t.Error("Current() should return the published snapshot")
	}
}

func TestContainerReloadConflictKeepsPrevious(t *testing.T) {
	c, _ := NewContainer(newTestCompiler(t), nil)

	first, err := c.ReloadFrom([]*Rule{
		{ID: "1", Name: "One", Status: StatusActive, Body: ruleBody("Shared", "age > 0", `alert = "one"`)},
	})
	if err != nil {
		t.Fatalf("ReloadFrom() failed: %v", err)
	}

	// Each body is valid alone; together they declare the same rule twice.
	got, err := c.ReloadFrom([]*Rule{
		{ID: "1", Name: "One", Status: StatusActive, Body: ruleBody("Shared", "age > 0", `alert = "one"`)},
		{ID: "2", Name: "Two", Status: StatusActive, Body: ruleBody("Shared", "age > 1", `alert = "two"`)},
	})

	var conflict *ReloadConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("ReloadFrom() error = %v, want *ReloadConflictError", err)
	}
	if !strings.Contains(conflict.Error(), "duplicate rule name") {
		t.Errorf("conflict = %v, should name the duplicate", conflict)
	}
	if got != first || c.Current() != first {
		t.Error("a conflicting reload must keep the previous snapshot in service")
	}

	next, err := c.ReloadFrom(nil)
	if err != nil {
		t.Fatalf("ReloadFrom(nil) failed: %v", err)
	}
	if next.Generation != first.Generation+1 {
		t.Errorf("Generation = %d, want %d; rejected reloads do not consume a generation", next.Generation, first.Generation+1)
	}
	if !next.Empty() {
		t.Error("reloading no rules should publish an empty snapshot")
	}
}

func TestContainerReplace(t *testing.T) {
	compiler := newTestCompiler(t)
	c, _ := NewContainer(compiler, nil)

	kb, diags, err := compiler.Compile([]ruleset.Source{{Name: "manual", Text: ruleBody("Manual", "age > 0", `alert = "m"`)}})
	if err != nil || len(diags) > 0 {
		t.Fatalf("Compile() = %v, %v", diags, err)
	}

	s := c.Replace(kb, []RuleRef{{ID: "m", Name: "manual", Version: 1}})
	if c.Current() != s || s.Generation != 1 || s.Empty() {
		t.Errorf("Replace() snapshot = %+v", s)
	}
}
