package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/ruleops/internal/logger"
)

// Manager owns the rule status state machine:
//
//	DRAFT -> ACTIVE | ERROR   (activate)
//	ACTIVE -> INACTIVE        (deactivate)
//	INACTIVE -> ACTIVE        (activate)
//
// Any save re-validates the body and may move the rule to ERROR. Whenever
// the active subset changes the container is reloaded from the store.
// Mutations are serialized so reloads observe store writes in order.
type Manager struct {
	store     RuleStore
	validator *Validator
	container *Container
	metrics   *Metrics

	mu sync.Mutex
}

// NewManager creates a lifecycle manager. metrics may be nil.
func NewManager(store RuleStore, validator *Validator, container *Container, metrics *Metrics) *Manager {
	return &Manager{
		store:     store,
		validator: validator,
		container: container,
		metrics:   metrics,
	}
}

// Save creates rule when its ID is empty and updates the stored rule
// otherwise. The body is validated first: an invalid body forces status
// ERROR with diagnostics and never triggers a reload. A valid body clears
// diagnostics, resets a stored ERROR rule to DRAFT and, on update, bumps
// the version.
//
// The returned rule is always the persisted record, even when the error
// is a *ReloadConflictError.
func (m *Manager) Save(rule *Rule, actor string) (*Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	r := rule.Clone()
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Status != "" && !r.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRule, r.Status)
	}
	actor = actorOrSystem(actor)

	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *Rule
	if r.ID != "" {
		var err error
		existing, err = m.store.Get(r.ID)
		if err != nil {
			return nil, err
		}
	}

	if existing == nil {
		r.ID = uuid.New().String()
		r.Version = 1
		r.CreatedBy = actor
		if r.Status == "" {
			r.Status = StatusDraft
		}
		if r.Priority <= 0 {
			r.Priority = DefaultPriority
		}
	} else {
		r.Version = existing.Version
		r.CreatedAt = existing.CreatedAt
		r.CreatedBy = existing.CreatedBy
		if r.Status == "" {
			r.Status = existing.Status
		}
		if r.Priority <= 0 {
			r.Priority = existing.Priority
		}
	}
	r.UpdatedBy = actor

	res, err := m.validator.Validate(r.Body)
	if err != nil {
		return nil, err
	}

	if !res.Valid {
		r.Status = StatusError
		r.ValidationErrors = res.Text()
		if err := m.persist(r, existing); err != nil {
			return nil, err
		}
		m.transition(r, existing)
		return r, nil
	}

	r.ValidationErrors = ""
	// A fixed ERROR rule goes back to DRAFT whatever status was asked
	// for; only Activate puts it in service.
	if r.Status == StatusError || (existing != nil && existing.Status == StatusError) {
		r.Status = StatusDraft
	}
	if existing != nil {
		r.Version = existing.Version + 1
	}
	if err := m.persist(r, existing); err != nil {
		return nil, err
	}
	m.transition(r, existing)

	wasActive := existing != nil && existing.IsActive()
	if r.IsActive() || wasActive {
		if _, err := m.reload(); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Activate re-validates the stored rule. On failure the rule moves to
// ERROR and is returned without a reload; on success it becomes ACTIVE and
// the container is reloaded.
func (m *Manager) Activate(id, actor string) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	res, err := m.validator.Validate(existing.Body)
	if err != nil {
		return nil, err
	}

	r := existing.Clone()
	r.UpdatedBy = actorOrSystem(actor)
	if !res.Valid {
		r.Status = StatusError
		r.ValidationErrors = res.Text()
		if err := m.store.Update(r); err != nil {
			return nil, err
		}
		m.transition(r, existing)
		return r, nil
	}

	r.Status = StatusActive
	r.ValidationErrors = ""
	if err := m.store.Update(r); err != nil {
		return nil, err
	}
	m.transition(r, existing)

	if _, err := m.reload(); err != nil {
		return r, err
	}
	return r, nil
}

// Deactivate moves the rule to INACTIVE and reloads the container.
func (m *Manager) Deactivate(id, actor string) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	r := existing.Clone()
	r.Status = StatusInactive
	r.UpdatedBy = actorOrSystem(actor)
	if err := m.store.Update(r); err != nil {
		return nil, err
	}
	m.transition(r, existing)

	if _, err := m.reload(); err != nil {
		return r, err
	}
	return r, nil
}

// Delete removes the rule, reloading the container if it was active.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	logger.Info("rule deleted", "rule", existing.Name, "id", id, "status", existing.Status)

	if existing.IsActive() {
		if _, err := m.reload(); err != nil {
			return err
		}
	}
	return nil
}

// Reload rebuilds the container from the active rules in the store.
func (m *Manager) Reload() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reload()
}

func (m *Manager) reload() (*Snapshot, error) {
	active, err := m.store.ListActive()
	if err != nil {
		return m.container.Current(), fmt.Errorf("failed to list active rules: %w", err)
	}
	return m.container.ReloadFrom(active)
}

func (m *Manager) persist(r, existing *Rule) error {
	if existing == nil {
		return m.store.Add(r)
	}
	return m.store.Update(r)
}

func (m *Manager) transition(r, existing *Rule) {
	var from Status
	if existing != nil {
		from = existing.Status
	}
	if from == r.Status {
		logger.Debug("rule saved", "rule", r.Name, "id", r.ID, "status", r.Status, "version", r.Version)
		return
	}
	m.metrics.observeTransition(r.Status)
	logger.Info("rule status changed", "rule", r.Name, "id", r.ID, "from", from, "to", r.Status,
		"version", r.Version, "actor", r.UpdatedBy)
}

func actorOrSystem(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return SystemActor
}
