package rules

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/ruleset"
)

// Snapshot is one immutable, loaded rule set.
type Snapshot struct {
	KB         *ruleset.KnowledgeBase
	Rules      []RuleRef
	Generation uint64
	LoadedAt   time.Time
}

// Empty reports whether executing the snapshot can have any effect.
func (s *Snapshot) Empty() bool {
	return s == nil || s.KB.Empty()
}

// Container holds the active snapshot. Readers load it without locking;
// reloads are serialized and publish a new snapshot with one atomic store,
// so an execution sees either the old or the new rule set, never a mix.
type Container struct {
	compiler *ruleset.Compiler
	metrics  *Metrics

	current atomic.Pointer[Snapshot]

	reloadMu   sync.Mutex
	generation uint64 // guarded by reloadMu
}

// NewContainer creates a container holding an empty snapshot.
func NewContainer(compiler *ruleset.Compiler, metrics *Metrics) (*Container, error) {
	if compiler == nil {
		return nil, ErrEngineUnavailable
	}

	kb, diags, err := compiler.Compile(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if len(diags) > 0 {
		return nil, fmt.Errorf("%w: empty rule set did not compile: %v", ErrEngineUnavailable, diags)
	}

	c := &Container{compiler: compiler, metrics: metrics}
	c.current.Store(&Snapshot{KB: kb, LoadedAt: time.Now()})
	return c, nil
}

// Current returns the snapshot in service.
func (c *Container) Current() *Snapshot {
	return c.current.Load()
}

// Replace publishes kb as the new snapshot and returns it.
func (c *Container) Replace(kb *ruleset.KnowledgeBase, refs []RuleRef) *Snapshot {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.replaceLocked(kb, refs)
}

func (c *Container) replaceLocked(kb *ruleset.KnowledgeBase, refs []RuleRef) *Snapshot {
	c.generation++
	s := &Snapshot{
		KB:         kb,
		Rules:      refs,
		Generation: c.generation,
		LoadedAt:   time.Now(),
	}
	c.current.Store(s)
	return s
}

// ReloadFrom compiles the Active rules among rules, ordered by priority then
// name, and publishes the result. If the combined set fails to compile the
// previous snapshot stays in service and a *ReloadConflictError is returned.
func (c *Container) ReloadFrom(rules []*Rule) (*Snapshot, error) {
	var active []*Rule
	for _, r := range rules {
		if r != nil && r.IsActive() {
			active = append(active, r)
		}
	}
	sortByPriority(active)

	sources := make([]ruleset.Source, len(active))
	refs := make([]RuleRef, len(active))
	for i, r := range active {
		sources[i] = ruleset.Source{Name: r.Name, Text: r.Body}
		refs[i] = r.Ref()
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	kb, diags, err := c.compiler.Compile(sources)
	if err != nil {
		return c.current.Load(), fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if len(diags) > 0 {
		conflict := &ReloadConflictError{Diagnostics: diags}
		c.metrics.observeReload(nil, conflict)
		logger.Error("rule reload rejected, keeping previous rule set",
			"rules", len(active), "diagnostics", len(diags), "generation", c.generation)
		return c.current.Load(), conflict
	}

	s := c.replaceLocked(kb, refs)
	c.metrics.observeReload(s, nil)
	logger.Info("rules reloaded", "rules", len(refs), "enabled", kb.Len(), "generation", s.Generation)
	return s, nil
}

// RuleNames lists the loaded rules in load order.
func (s *Snapshot) RuleNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Rules))
	for i, r := range s.Rules {
		names[i] = r.Name
	}
	return names
}

