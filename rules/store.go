package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// GetByName finds a rule by its unique name
	GetByName(name string) (*Rule, error)

	// List rules matching the filter, ordered by priority then name
	List(filter ListFilter) ([]*Rule, error)

	// ListActive returns rules with status ACTIVE, ordered by priority then name
	ListActive() ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error

	// Statistics counts rules by status and category
	Statistics() (Statistics, error)

	// Categories lists the distinct non-empty categories
	Categories() ([]string, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Rules are copied on the way in and out, so callers never share
// records with the store.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store and sets its timestamps.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	if s.nameTaken(rule.Name, rule.ID) {
		return fmt.Errorf("rule %q: %w", rule.Name, ErrDuplicateName)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, notFound(id)
	}
	return rule.Clone(), nil
}

// GetByName retrieves a rule by name, ignoring case
func (s *InMemoryRuleStore) GetByName(name string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if strings.EqualFold(rule.Name, name) {
			return rule.Clone(), nil
		}
	}
	return nil, fmt.Errorf("rule named %q: %w", name, ErrNotFound)
}

// List returns the rules matching filter
func (s *InMemoryRuleStore) List(filter ListFilter) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if filter.Matches(rule) {
			out = append(out, rule.Clone())
		}
	}
	sortByPriority(out)
	return out, nil
}

// ListActive returns all active rules
func (s *InMemoryRuleStore) ListActive() ([]*Rule, error) {
	return s.List(ListFilter{Status: StatusActive})
}

// Update replaces an existing rule, preserving its creation metadata.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return notFound(rule.ID)
	}
	if s.nameTaken(rule.Name, rule.ID) {
		return fmt.Errorf("rule %q: %w", rule.Name, ErrDuplicateName)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.CreatedBy = existing.CreatedBy
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return notFound(id)
	}

	delete(s.rules, id)
	return nil
}

// Statistics counts the stored rules
func (s *InMemoryRuleStore) Statistics() (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := NewStatistics()
	for _, rule := range s.rules {
		stats.Add(rule)
	}
	return stats, nil
}

// Categories returns the distinct categories in alphabetical order
func (s *InMemoryRuleStore) Categories() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, rule := range s.rules {
		if rule.Category != "" && !seen[rule.Category] {
			seen[rule.Category] = true
			out = append(out, rule.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

// nameTaken must be called with the lock held.
func (s *InMemoryRuleStore) nameTaken(name, exceptID string) bool {
	for id, rule := range s.rules {
		if id != exceptID && strings.EqualFold(rule.Name, name) {
			return true
		}
	}
	return false
}

func sortByPriority(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})
}
