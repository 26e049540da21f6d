package rules

import (
	"fmt"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/ruleset"
)

// validationSource names a body validated in isolation.
const validationSource = "rule"

// Validator checks a single rule body in isolation. Results are cached by
// body hash when a cache is configured.
type Validator struct {
	compiler *ruleset.Compiler
	cache    ValidationCache
	metrics  *Metrics
}

// NewValidator creates a validator. cache and metrics may be nil.
func NewValidator(compiler *ruleset.Compiler, cache ValidationCache, metrics *Metrics) *Validator {
	return &Validator{compiler: compiler, cache: cache, metrics: metrics}
}

// Validate compiles body on its own. A malformed body is reported in the
// result, never as an error; the error return means the compiler itself
// failed.
func (v *Validator) Validate(body string) (ValidationResult, error) {
	if v == nil || v.compiler == nil {
		return ValidationResult{}, ErrEngineUnavailable
	}

	key := CacheKey(body)
	if v.cache != nil {
		if res, ok := v.cache.Get(key); ok {
			v.metrics.observeValidation(res.Valid, true)
			return res, nil
		}
	}

	_, diags, err := v.compiler.Compile([]ruleset.Source{{Name: validationSource, Text: body}})
	if err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	res := ValidationResult{Valid: len(diags) == 0}
	if !res.Valid {
		res.Diagnostics = diags.Messages()
		logger.Debug("rule body failed validation", "diagnostics", len(diags))
	}

	if v.cache != nil {
		v.cache.Set(key, res)
	}
	v.metrics.observeValidation(res.Valid, false)
	return res, nil
}
