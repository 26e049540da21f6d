package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/liamcoop/ruleops/rules/facts"
)

func TestManagerSaveCreatesDraft(t *testing.T) {
	en, _ := newTestEngine(t)
	before := en.Snapshot()

	r, err := en.Save(&Rule{Name: "  Youth  ", Body: ruleBody("Youth", "age < 25", `discount = "15%"`)}, "alice")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if r.ID == "" {
		t.Error("Save() should assign an ID")
	}
	if r.Name != "Youth" {
		t.Errorf("Name = %q, want the trimmed name", r.Name)
	}
	if r.Status != StatusDraft || r.Version != 1 || r.Priority != DefaultPriority {
		t.Errorf("Save() = status %s, version %d, priority %d", r.Status, r.Version, r.Priority)
	}
	if r.CreatedBy != "alice" || r.UpdatedBy != "alice" {
		t.Errorf("actors = %s/%s, want alice", r.CreatedBy, r.UpdatedBy)
	}
	if r.CreatedAt.IsZero() {
		t.Error("Save() should return the persisted record with timestamps")
	}
	if en.Snapshot() != before {
		t.Error("saving a draft must not reload the container")
	}

	stored, err := en.Get(r.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if stored.Status != StatusDraft {
		t.Errorf("stored status = %s, want DRAFT", stored.Status)
	}
}

func TestManagerSaveDefaultsActor(t *testing.T) {
	en, _ := newTestEngine(t)
	r, err := en.Save(&Rule{Name: "R", Body: ruleBody("R", "age > 0", `alert = "a"`)}, " ")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if r.CreatedBy != SystemActor || r.UpdatedBy != SystemActor {
		t.Errorf("actors = %s/%s, want %s", r.CreatedBy, r.UpdatedBy, SystemActor)
	}
}

func TestManagerSaveRejectsMalformedRecords(t *testing.T) {
	en, _ := newTestEngine(t)

	tests := []struct {
		name string
		rule *Rule
		want error
	}{
		{"nil rule", nil, ErrInvalidRule},
		{"missing name", &Rule{Body: "x"}, ErrInvalidRule},
		{"blank name", &Rule{Name: "   ", Body: "x"}, ErrInvalidRule},
		{"unknown status", &Rule{Name: "R", Status: "ENABLED"}, ErrInvalidRule},
		{"unknown id", &Rule{ID: "missing", Name: "R"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := en.Save(tt.rule, "alice"); !errors.Is(err, tt.want) {
				t.Errorf("Save() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManagerSaveDuplicateName(t *testing.T) {
	en, _ := newTestEngine(t)
	if _, err := en.Save(&Rule{Name: "Youth", Body: ruleBody("Youth", "age < 25", `discount = "a"`)}, ""); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	_, err := en.Save(&Rule{Name: "youth", Body: ruleBody("Other", "age < 25", `discount = "b"`)}, "")
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Save() error = %v, want ErrDuplicateName", err)
	}
}

func TestManagerSaveInvalidBodyMovesToError(t *testing.T) {
	en, _ := newTestEngine(t)
	before := en.Snapshot()

	r, err := en.Save(&Rule{Name: "Broken", Body: brokenBody}, "alice")
	if err != nil {
		t.Fatalf("Save() of an invalid body should not fail: %v", err)
	}
	if r.Status != StatusError {
		t.Errorf("Status = %s, want ERROR", r.Status)
	}
	if !strings.Contains(r.ValidationErrors, "unknownField") {
		t.Errorf("ValidationErrors = %q, should name the problem", r.ValidationErrors)
	}

	// Even an explicit ACTIVE request cannot put an invalid body in service.
	r2, err := en.Save(&Rule{Name: "Broken too", Body: brokenBody, Status: StatusActive}, "alice")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if r2.Status != StatusError {
		t.Errorf("Status = %s, want ERROR", r2.Status)
	}
	if after := en.Snapshot(); after != before || after.Generation != before.Generation || !after.Empty() {
		t.Error("invalid saves must not touch the container")
	}
}

func TestManagerFixErrorRuleThenActivate(t *testing.T) {
	en, _ := newTestEngine(t)
	before := en.Snapshot()

	r, _ := en.Save(&Rule{Name: "Youth", Body: brokenBody}, "alice")
	if r.Status != StatusError {
		t.Fatalf("Status = %s, want ERROR", r.Status)
	}

	// Activating a rule that still fails validation leaves it in ERROR.
	still, err := en.Activate(r.ID, "alice")
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if still.Status != StatusError || en.Snapshot() != before {
		t.Errorf("Activate() of an invalid rule = %s, generation %d, want ERROR and generation %d",
			still.Status, en.Snapshot().Generation, before.Generation)
	}

	r.Body = ruleBody("Youth", "age < 25", `discount = "15%"`)
	fixed, err := en.Save(r, "bob")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if fixed.Status != StatusDraft || fixed.ValidationErrors != "" {
		t.Errorf("fixed rule = %s %q, want DRAFT without errors", fixed.Status, fixed.ValidationErrors)
	}
	if fixed.Version != 2 {
		t.Errorf("Version = %d, want 2", fixed.Version)
	}
	if fixed.CreatedBy != "alice" || fixed.UpdatedBy != "bob" {
		t.Errorf("actors = %s/%s, want alice/bob", fixed.CreatedBy, fixed.UpdatedBy)
	}

	active, err := en.Activate(fixed.ID, "bob")
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if active.Status != StatusActive {
		t.Errorf("Status = %s, want ACTIVE", active.Status)
	}

	customer := &facts.Customer{Age: 20}
	if _, err := en.Execute(customer); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if discountOf(customer) != "15%" {
		t.Errorf("discount = %q, the activated rule should be in effect", discountOf(customer))
	}
}

func TestManagerFixedErrorRuleIgnoresRequestedStatus(t *testing.T) {
	en, _ := newTestEngine(t)

	r, _ := en.Save(&Rule{Name: "Youth", Body: brokenBody}, "alice")
	if r.Status != StatusError {
		t.Fatalf("Status = %s, want ERROR", r.Status)
	}
	before := en.Snapshot()

	for _, status := range []Status{StatusActive, StatusInactive, StatusTesting} {
		t.Run(string(status), func(t *testing.T) {
			stored, err := en.Get(r.ID)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			stored.Body = ruleBody("Youth", "age < 25", `discount = "15%"`)
			stored.Status = status

			fixed, err := en.Save(stored, "bob")
			if err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			if fixed.Status != StatusDraft {
				t.Errorf("Status = %s, want DRAFT", fixed.Status)
			}
			if en.Snapshot() != before {
				t.Error("fixing an ERROR rule must not reload the container")
			}

			// Put it back in ERROR for the next case.
			if _, err := en.Save(&Rule{ID: r.ID, Name: "Youth", Body: brokenBody}, "bob"); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
		})
	}

	customer := &facts.Customer{Age: 20}
	if _, err := en.Execute(customer); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if customer.Discount != nil {
		t.Errorf("discount = %q, a rule that was never activated should not fire", discountOf(customer))
	}
}

func TestManagerYouthDiscountScenario(t *testing.T) {
	en, _ := newTestEngine(t)
	r := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)

	customer := &facts.Customer{ID: "c1", Age: 20}
	if _, err := en.Execute(customer); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if discountOf(customer) != "15%" {
		t.Fatalf("discount = %q, want 15%%", discountOf(customer))
	}

	if _, err := en.Deactivate(r.ID, "alice"); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	if _, err := en.Execute(customer); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if customer.Discount != nil {
		t.Errorf("discount = %q after deactivation, want unset", discountOf(customer))
	}

	stored, _ := en.Get(r.ID)
	if stored.Status != StatusInactive {
		t.Errorf("Status = %s, want INACTIVE", stored.Status)
	}
}

func TestManagerDeactivateRemovesOnlyThatRule(t *testing.T) {
	en, _ := newTestEngine(t)
	youth := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 10)
	saveActive(t, en, "Everyone", ruleBody("Everyone", "age > 0", `recommendation = "hello"`), 20)

	if _, err := en.Deactivate(youth.ID, ""); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}

	customer := &facts.Customer{Age: 20}
	res, err := en.Evaluate(customer)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if customer.Discount != nil {
		t.Error("the deactivated rule should no longer fire")
	}
	if recommendationOf(customer) != "hello" {
		t.Error("the other active rule should still fire")
	}
	if len(res.Fired) != 1 || res.Fired[0] != "Everyone" {
		t.Errorf("Fired = %v, want [Everyone]", res.Fired)
	}

	// Reactivation brings it back.
	if _, err := en.Activate(youth.ID, ""); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if _, err := en.Execute(customer); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if discountOf(customer) != "15%" {
		t.Error("reactivated rule should fire again")
	}
}

func TestManagerUpdateActiveRuleReloads(t *testing.T) {
	en, _ := newTestEngine(t)
	r := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)
	gen := en.Snapshot().Generation

	r.Body = ruleBody("Youth", "age < 25", `discount = "25%"`)
	updated, err := en.Save(r, "alice")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if updated.Status != StatusActive {
		t.Errorf("Status = %s, an update keeps the status", updated.Status)
	}
	if en.Snapshot().Generation != gen+1 {
		t.Errorf("Generation = %d, want %d", en.Snapshot().Generation, gen+1)
	}

	customer := &facts.Customer{Age: 20}
	_, _ = en.Execute(customer)
	if discountOf(customer) != "25%" {
		t.Errorf("discount = %q, want the updated rule", discountOf(customer))
	}
	if refs := en.Snapshot().Rules; len(refs) != 1 || refs[0].Version != updated.Version {
		t.Errorf("snapshot refs = %+v, want version %d", refs, updated.Version)
	}
}

func TestManagerInvalidUpdateOfActiveRuleKeepsLoadedVersion(t *testing.T) {
	en, _ := newTestEngine(t)
	r := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)
	gen := en.Snapshot().Generation

	r.Body = brokenBody
	broken, err := en.Save(r, "alice")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if broken.Status != StatusError {
		t.Errorf("Status = %s, want ERROR", broken.Status)
	}
	if en.Snapshot().Generation != gen {
		t.Error("an invalid save must not reload the container")
	}

	customer := &facts.Customer{Age: 20}
	_, _ = en.Execute(customer)
	if discountOf(customer) != "15%" {
		t.Errorf("discount = %q, the loaded version should stay in service", discountOf(customer))
	}
}

func TestManagerSaveMovingRuleOutOfActiveReloads(t *testing.T) {
	en, _ := newTestEngine(t)
	r := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)

	r.Status = StatusTesting
	if _, err := en.Save(r, ""); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if !en.Snapshot().Empty() {
		t.Error("a rule saved out of ACTIVE should leave the container")
	}
}

func TestManagerDelete(t *testing.T) {
	en, _ := newTestEngine(t)
	r := saveActive(t, en, "Youth", ruleBody("Youth", "age < 25", `discount = "15%"`), 0)

	if err := en.Delete(r.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if !en.Snapshot().Empty() {
		t.Error("deleting an active rule should reload the container")
	}
	if _, err := en.Get(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := en.Delete(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := en.Activate(r.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Activate() of a deleted rule error = %v, want ErrNotFound", err)
	}
	if _, err := en.Deactivate(r.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deactivate() of a deleted rule error = %v, want ErrNotFound", err)
	}
}

func TestManagerActivateConflictKeepsPreviousSet(t *testing.T) {
	en, _ := newTestEngine(t)
	saveActive(t, en, "One", ruleBody("Shared", "age > 0", `alert = "one"`), 10)
	before := en.Snapshot()

	two, err := en.Save(&Rule{Name: "Two", Body: ruleBody("Shared", "age > 0", `alert = "two"`)}, "")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := en.Activate(two.ID, "")
	var conflict *ReloadConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Activate() error = %v, want *ReloadConflictError", err)
	}
	if got == nil || got.Status != StatusActive {
		t.Errorf("Activate() should return the stored record alongside the conflict, got %+v", got)
	}
	if en.Snapshot() != before {
		t.Error("the previous rule set should remain in service")
	}

	customer := &facts.Customer{Age: 30}
	_, _ = en.Execute(customer)
	if customer.Alert == nil || *customer.Alert != "one" {
		t.Error("the previously loaded rule should still fire")
	}

	// Resolving the conflict takes effect on the next reload.
	if _, err := en.Deactivate(two.ID, ""); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	if en.Snapshot().Generation != before.Generation+1 {
		t.Errorf("Generation = %d, want %d", en.Snapshot().Generation, before.Generation+1)
	}
}

func TestManagerConcurrentExecuteAndReload(t *testing.T) {
	en, _ := newTestEngine(t)
	saveActive(t, en, "Base", ruleBody("Base", "age > 0", `recommendation = "base"`), 1)
	toggle := saveActive(t, en, "Toggle", ruleBody("Toggle", "age > 0", `discount = "toggle"`), 2)

	const executors = 8
	const executions = 50
	const toggles = 20

	var wg sync.WaitGroup
	errs := make(chan error, executors*executions+toggles)

	for i := 0; i < executors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < executions; j++ {
				customer := &facts.Customer{ID: fmt.Sprintf("c-%d-%d", i, j), Age: 30}
				res, err := en.Evaluate(customer)
				if err != nil {
					errs <- err
					continue
				}
				switch len(res.Fired) {
				case 1:
					if res.Fired[0] != "Base" || customer.Discount != nil {
						errs <- fmt.Errorf("inconsistent execution: %v, discount %q", res.Fired, discountOf(customer))
					}
				case 2:
					if res.Fired[0] != "Base" || res.Fired[1] != "Toggle" || discountOf(customer) != "toggle" {
						errs <- fmt.Errorf("inconsistent execution: %v, discount %q", res.Fired, discountOf(customer))
					}
				default:
					errs <- fmt.Errorf("unexpected firings %v", res.Fired)
				}
				if recommendationOf(customer) != "base" {
					errs <- fmt.Errorf("base rule missing from execution %v", res.Fired)
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 0; k < toggles; k++ {
			var err error
			if k%2 == 0 {
				_, err = en.Deactivate(toggle.ID, "")
			} else {
				_, err = en.Activate(toggle.ID, "")
			}
			if err != nil {
				errs <- err
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if got := en.Snapshot().Generation; got < toggles {
		t.Errorf("Generation = %d, want at least %d", got, toggles)
	}
}
