package rules

import (
	"fmt"
	"time"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/rules/facts"
)

// Executor runs the active rule set against customer records. Every call
// gets its own session; nothing is shared between executions except the
// immutable snapshot.
type Executor struct {
	container *Container
	metrics   *Metrics
}

// NewExecutor creates an executor over container. metrics may be nil.
func NewExecutor(container *Container, metrics *Metrics) *Executor {
	return &Executor{container: container, metrics: metrics}
}

// Execute applies the active rules to customer in place and returns it.
func (e *Executor) Execute(customer *facts.Customer) (*facts.Customer, error) {
	_, err := e.Evaluate(customer)
	return customer, err
}

// Evaluate applies the active rules to customer in place and reports
// which rules fired. Outputs are cleared first, so results never leak
// between calls with the same record. On error the record keeps its
// inputs and has no outputs.
func (e *Executor) Evaluate(customer *facts.Customer) (EvaluationResult, error) {
	if customer == nil {
		return EvaluationResult{}, fmt.Errorf("customer is required")
	}
	if e == nil || e.container == nil {
		return EvaluationResult{}, ErrEngineUnavailable
	}

	start := time.Now()
	customer.ResetOutputs()

	snap := e.container.Current()
	res := EvaluationResult{Fired: []string{}, Generation: snap.Generation}
	if snap.Empty() {
		res.Duration = time.Since(start)
		e.metrics.observeExecution(res.Duration, nil, nil)
		return res, nil
	}

	// Rules fire against a copy; the caller's record only sees the
	// outcome of a complete run.
	work := *customer
	fired, err := e.fire(snap, &work)
	if err == nil {
		*customer = work
	}
	res.Fired = fired
	res.Duration = time.Since(start)
	e.metrics.observeExecution(res.Duration, fired, err)
	if err != nil {
		logger.Error("rule execution failed", "customer", customer.ID, "generation", snap.Generation, "error", err)
		return res, err
	}

	logger.Debug("rules executed", "customer", customer.ID, "fired", len(fired),
		"generation", snap.Generation, "duration", res.Duration)
	return res, nil
}

func (e *Executor) fire(snap *Snapshot, customer *facts.Customer) ([]string, error) {
	session, err := snap.KB.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Dispose()

	if _, err := session.Insert(customer); err != nil {
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}

	_, fireErr := session.FireAll()

	firings := session.Firings()
	fired := make([]string, len(firings))
	for i, f := range firings {
		fired[i] = f.Rule
	}
	if fireErr != nil {
		return fired, fmt.Errorf("rule execution failed: %w", fireErr)
	}
	return fired, nil
}
