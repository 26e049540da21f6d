package rules

import (
	"errors"
	"fmt"

	"github.com/liamcoop/ruleops/ruleset"
)

var (
	// ErrNotFound is returned when a rule ID does not exist.
	ErrNotFound = errors.New("rule not found")

	// ErrDuplicateName is returned when a rule name is already taken.
	ErrDuplicateName = errors.New("rule name already exists")

	// ErrInvalidRule is returned when a rule record is malformed, such as
	// a missing name. A body that fails to compile is not an error; it is
	// recorded on the rule.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrEngineUnavailable is returned when the rule engine cannot be
	// initialized or is not ready.
	ErrEngineUnavailable = errors.New("rule engine unavailable")
)

// ReloadConflictError reports that the active rules, though individually
// valid, failed to compile together. The previously loaded snapshot stays
// in service.
type ReloadConflictError struct {
	Diagnostics ruleset.Diagnostics
}

func (e *ReloadConflictError) Error() string {
	return fmt.Sprintf("active rule set failed to compile, previous rules remain loaded: %v", e.Diagnostics)
}

// notFound wraps ErrNotFound with the missing ID.
func notFound(id string) error {
	return fmt.Errorf("rule %s: %w", id, ErrNotFound)
}
