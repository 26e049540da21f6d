package rules

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a rule.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusTesting  Status = "TESTING"
	StatusError    Status = "ERROR"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusActive, StatusInactive, StatusTesting, StatusError}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

const (
	// DefaultPriority is assigned when a rule is saved without a priority.
	// Lower priorities load first.
	DefaultPriority = 100

	// SystemActor is recorded when a change is made without a named actor.
	SystemActor = "SYSTEM"
)

// Rule is a persisted business rule.
type Rule struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Body             string    `json:"body"`
	Status           Status    `json:"status"`
	Version          int       `json:"version"`
	Priority         int       `json:"priority"`
	Category         string    `json:"category"`
	Tags             []string  `json:"tags"`
	Template         string    `json:"template"`
	ValidationErrors string    `json:"validationErrors"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	CreatedBy        string    `json:"createdBy"`
	UpdatedBy        string    `json:"updatedBy"`
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// IsActive reports whether the rule is part of the active set.
func (r *Rule) IsActive() bool {
	return r.Status == StatusActive
}

// HasErrors reports whether the last validation of the rule failed.
func (r *Rule) HasErrors() bool {
	return r.ValidationErrors != ""
}

// Ref identifies the rule inside a loaded snapshot.
func (r *Rule) Ref() RuleRef {
	return RuleRef{ID: r.ID, Name: r.Name, Version: r.Version, Priority: r.Priority}
}

// RuleRef is the identity of a rule loaded into the container.
type RuleRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Priority int    `json:"priority"`
}

// ValidationResult is the outcome of validating one rule body.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Text joins the diagnostics into the form stored on a rule.
func (v ValidationResult) Text() string {
	return strings.Join(v.Diagnostics, "\n")
}

// ListFilter narrows List results. Zero values match everything; Search
// is a case-insensitive substring match on name, description and body.
type ListFilter struct {
	Status   Status
	Category string
	Search   string
}

// Matches reports whether the rule passes the filter.
func (f ListFilter) Matches(r *Rule) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.Name), q) &&
			!strings.Contains(strings.ToLower(r.Description), q) &&
			!strings.Contains(strings.ToLower(r.Body), q) {
			return false
		}
	}
	return true
}

// Statistics summarizes the stored rules.
type Statistics struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	ByCategory map[string]int `json:"byCategory"`
	WithErrors int            `json:"withErrors"`
}

// NewStatistics returns statistics with every status present at zero.
func NewStatistics() Statistics {
	s := Statistics{
		ByStatus:   make(map[Status]int, len(Statuses)),
		ByCategory: make(map[string]int),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	return s
}

// Add counts one rule.
func (s *Statistics) Add(r *Rule) {
	s.Total++
	s.ByStatus[r.Status]++
	if r.Category != "" {
		s.ByCategory[r.Category]++
	}
	if r.HasErrors() {
		s.WithErrors++
	}
}

// EvaluationResult is the outcome of executing the active rules against
// one customer.
type EvaluationResult struct {
	Fired      []string      `json:"firedRules"`
	Generation uint64        `json:"generation"`
	Duration   time.Duration `json:"-"`
}
