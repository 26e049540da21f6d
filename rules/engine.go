package rules

import (
	"errors"
	"fmt"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/rules/facts"
	"github.com/liamcoop/ruleops/ruleset"
	"github.com/liamcoop/ruleops/schema"
)

// Engine wires the store, validator, container, executor and lifecycle
// manager together for one fact type. It is the surface the HTTP layer
// talks to.
type Engine struct {
	store     RuleStore
	compiler  *ruleset.Compiler
	validator *Validator
	container *Container
	executor  *Executor
	manager   *Manager
	metrics   *Metrics
}

type engineConfig struct {
	costLimit uint64
	cache     ValidationCache
	metrics   *Metrics
}

// EngineOption configures NewEngine.
type EngineOption func(*engineConfig)

// WithCostLimit bounds the runtime cost of each rule expression.
func WithCostLimit(limit uint64) EngineOption {
	return func(c *engineConfig) { c.costLimit = limit }
}

// WithValidationCache replaces the default in-memory validation cache.
// Passing nil disables caching.
func WithValidationCache(cache ValidationCache) EngineOption {
	return func(c *engineConfig) { c.cache = cache }
}

// WithMetrics records engine metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(c *engineConfig) { c.metrics = m }
}

// NewEngine creates a rules engine for Customer facts and loads the active
// rules from the store. A combined-set conflict at startup is logged and
// leaves the engine serving an empty rule set; store failures are returned.
func NewEngine(store RuleStore, opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{
		costLimit: ruleset.DefaultCostLimit,
		cache:     NewInMemoryValidationCache(DefaultCacheConfig()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	compiler, err := ruleset.NewCompiler(facts.CustomerType, ruleset.WithCostLimit(cfg.costLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	container, err := NewContainer(compiler, cfg.metrics)
	if err != nil {
		return nil, err
	}

	validator := NewValidator(compiler, cfg.cache, cfg.metrics)
	en := &Engine{
		store:     store,
		compiler:  compiler,
		validator: validator,
		container: container,
		executor:  NewExecutor(container, cfg.metrics),
		manager:   NewManager(store, validator, container, cfg.metrics),
		metrics:   cfg.metrics,
	}

	if _, err := en.manager.Reload(); err != nil {
		var conflict *ReloadConflictError
		if !errors.As(err, &conflict) {
			return nil, fmt.Errorf("failed to load active rules: %w", err)
		}
		logger.Error("active rules conflict at startup, serving empty rule set", "error", err)
	}

	return en, nil
}

// FactType describes the records the engine executes against.
func (en *Engine) FactType() *schema.FactType {
	return en.compiler.FactType()
}

// Save creates or updates a rule. See Manager.Save.
func (en *Engine) Save(rule *Rule, actor string) (*Rule, error) {
	return en.manager.Save(rule, actor)
}

// Activate makes a rule part of the active set. See Manager.Activate.
func (en *Engine) Activate(id, actor string) (*Rule, error) {
	return en.manager.Activate(id, actor)
}

// Deactivate removes a rule from the active set.
func (en *Engine) Deactivate(id, actor string) (*Rule, error) {
	return en.manager.Deactivate(id, actor)
}

// Delete removes a rule.
func (en *Engine) Delete(id string) error {
	return en.manager.Delete(id)
}

// Reload rebuilds the active rule set from the store.
func (en *Engine) Reload() (*Snapshot, error) {
	return en.manager.Reload()
}

// Validate checks a rule body without storing it.
func (en *Engine) Validate(body string) (ValidationResult, error) {
	return en.validator.Validate(body)
}

// Execute runs the active rules against customer and returns it.
func (en *Engine) Execute(customer *facts.Customer) (*facts.Customer, error) {
	return en.executor.Execute(customer)
}

// Evaluate runs the active rules against customer and reports the firings.
func (en *Engine) Evaluate(customer *facts.Customer) (EvaluationResult, error) {
	return en.executor.Evaluate(customer)
}

// Snapshot returns the rule set currently in service.
func (en *Engine) Snapshot() *Snapshot {
	return en.container.Current()
}

// Get retrieves a rule by ID
func (en *Engine) Get(id string) (*Rule, error) {
	return en.store.Get(id)
}

// GetByName retrieves a rule by name
func (en *Engine) GetByName(name string) (*Rule, error) {
	return en.store.GetByName(name)
}

// List returns rules matching filter
func (en *Engine) List(filter ListFilter) ([]*Rule, error) {
	return en.store.List(filter)
}

// Statistics summarizes the stored rules
func (en *Engine) Statistics() (Statistics, error) {
	return en.store.Statistics()
}

// Categories lists the rule categories in use
func (en *Engine) Categories() ([]string, error) {
	return en.store.Categories()
}
