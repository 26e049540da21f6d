package rules

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatorValid(t *testing.T) {
	v := NewValidator(newTestCompiler(t), nil, nil)

	res, err := v.Validate(ruleBody("Youth", "age < 25", `discount = "15%"`))
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if !res.Valid || len(res.Diagnostics) != 0 {
		t.Errorf("Validate() = %+v, want valid", res)
	}
}

func TestValidatorInvalid(t *testing.T) {
	v := NewValidator(newTestCompiler(t), nil, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", brokenBody, "unknownField"},
		{"missing end", "rule \"R\"\nwhen\n    age < 25\nthen\n    discount = \"x\"\n", "missing end"},
		{"empty body", "", "no rules"},
		{"wrong type", ruleBody("R", "age < 25", "discount = 15"), "want string"},
		{"read-only field", ruleBody("R", "age < 25", "youngCustomer = false"), "youngCustomer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.body)
			if err != nil {
				t.Fatalf("Validate() error = %v; malformed bodies are results, not errors", err)
			}
			if res.Valid {
				t.Fatal("Validate() should report the body invalid")
			}
			if !strings.Contains(res.Text(), tt.want) {
				t.Errorf("diagnostics %q should mention %q", res.Text(), tt.want)
			}
		})
	}
}

func TestValidatorUsesCache(t *testing.T) {
	cache := NewInMemoryValidationCache(DefaultCacheConfig())
	v := NewValidator(newTestCompiler(t), cache, nil)

	body := ruleBody("Youth", "age < 25", `discount = "15%"`)
	if _, err := v.Validate(body); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache Len() = %d, want 1", cache.Len())
	}

	// A poisoned entry proves the second call is served from the cache.
	cache.Set(CacheKey(body), ValidationResult{Valid: false, Diagnostics: []string{"cached"}})
	res, err := v.Validate(body)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if res.Valid || res.Text() != "cached" {
		t.Errorf("Validate() = %+v, want the cached result", res)
	}
}

func TestValidatorUnavailable(t *testing.T) {
	var v *Validator
	if _, err := v.Validate("x"); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("nil Validate() error = %v, want ErrEngineUnavailable", err)
	}
	if _, err := NewValidator(nil, nil, nil).Validate("x"); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Validate() without a compiler error = %v, want ErrEngineUnavailable", err)
	}
}
