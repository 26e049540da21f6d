package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liamcoop/ruleops/rules/facts"
)

func TestDefaultSeed(t *testing.T) {
	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() failed: %v", err)
	}
	if len(seed) != 3 {
		t.Fatalf("DefaultSeed() returned %d rules, want 3", len(seed))
	}

	v := NewValidator(newTestCompiler(t), nil, nil)
	for _, r := range seed {
		if r.Status != StatusActive {
			t.Errorf("%s: status = %s, want ACTIVE", r.Name, r.Status)
		}
		res, err := v.Validate(r.Body)
		if err != nil {
			t.Fatalf("Validate() failed: %v", err)
		}
		if !res.Valid {
			t.Errorf("%s: built-in rule does not validate: %s", r.Name, res.Text())
		}
	}
}

func TestParseSeed(t *testing.T) {
	doc := `
rules:
  - name: Alert on risk
    category: risk
    priority: 5
    tags: [risk]
    status: draft
    body: |
      rule "Alert on risk"
      when
          riskLevel == "HIGH"
      then
          alert = "review"
      end
`
	rules, err := ParseSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseSeed() failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("ParseSeed() returned %d rules, want 1", len(rules))
	}
	r := rules[0]
	if r.Name != "Alert on risk" || r.Status != StatusDraft || r.Priority != 5 || r.Category != "risk" {
		t.Errorf("ParseSeed() rule = %+v", r)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "risk" {
		t.Errorf("Tags = %v, want [risk]", r.Tags)
	}
}

func TestParseSeedErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "rules:\n  - name: R\n    salience: 3\n", "salience"},
		{"missing name", "rules:\n  - body: x\n", "name is required"},
		{"bad status", "rules:\n  - name: R\n    status: enabled\n", "unknown status"},
		{"not yaml", "rules: [", "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseSeed() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseSeedEmpty(t *testing.T) {
	rules, err := ParseSeed(strings.NewReader(""))
	if err != nil || len(rules) != 0 {
		t.Errorf("ParseSeed(\"\") = %v, %v; want no rules", rules, err)
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "rules:\n  - name: One\n    body: x\n  - name: Two\n    body: y\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile() failed: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("LoadSeedFile() returned %d rules, want 2", len(rules))
	}

	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadSeedFile() of a missing file should fail")
	}
}

func TestEngineSeed(t *testing.T) {
	en, _ := newTestEngine(t)
	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() failed: %v", err)
	}

	created, err := en.Seed(seed, "")
	if err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
	if created != 3 {
		t.Errorf("Seed() created %d, want 3", created)
	}
	if got := len(en.Snapshot().Rules); got != 3 {
		t.Errorf("snapshot holds %d rules, want 3", got)
	}

	again, err := en.Seed(seed, "")
	if err != nil {
		t.Fatalf("second Seed() failed: %v", err)
	}
	if again != 0 {
		t.Errorf("second Seed() created %d, want 0", again)
	}

	young := &facts.Customer{Age: 20}
	res, err := en.Evaluate(young)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if discountOf(young) != "15% youth discount" {
		t.Errorf("discount = %q", discountOf(young))
	}
	if len(res.Fired) != 1 || res.Fired[0] != "Young customer discount" {
		t.Errorf("Fired = %v", res.Fired)
	}

	vip := &facts.Customer{Age: 40, TotalPurchases: 6000}
	_, _ = en.Execute(vip)
	if vip.Category != "VIP" || discountOf(vip) != "20% VIP discount" {
		t.Errorf("vip customer = %s / %q", vip.Category, discountOf(vip))
	}
}

func TestEngineSeedKeepsInvalidRulesAsErrors(t *testing.T) {
	en, _ := newTestEngine(t)

	created, err := en.Seed([]*Rule{{Name: "Broken", Body: brokenBody, Status: StatusActive}}, "")
	if err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
	if created != 1 {
		t.Errorf("Seed() created %d, want 1", created)
	}
	r, err := en.GetByName("Broken")
	if err != nil {
		t.Fatalf("GetByName() failed: %v", err)
	}
	if r.Status != StatusError {
		t.Errorf("Status = %s, want ERROR", r.Status)
	}
}
