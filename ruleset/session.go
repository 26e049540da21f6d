package ruleset

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/liamcoop/ruleops/schema"
)

var (
	// ErrSessionDisposed is returned by calls on a disposed session.
	ErrSessionDisposed = errors.New("session disposed")

	// ErrNoKnowledgeBase is returned when a session is requested from a nil
	// knowledge base.
	ErrNoKnowledgeBase = errors.New("no knowledge base")
)

// Fact is a record inserted into a session. Vars exposes every field of
// the fact type as a CEL-compatible value; Set receives values in their
// canonical Go form: int64, float64, string, bool, []byte, time.Time,
// time.Duration, []string, or nil for a cleared output.
type Fact interface {
	FactType() string
	Vars() map[string]any
	Set(field string, value any) error
}

// Firing records one rule firing.
type Firing struct {
	Rule string
	Fact int
}

type activation struct {
	rule int
	fact int
}

type groupKey struct {
	group string
	fact  int
}

// Session is the working memory for one evaluation. It is not safe for
// concurrent use and must be disposed when the caller is done with it.
type Session struct {
	kb       *KnowledgeBase
	facts    []Fact
	vars     []map[string]any
	fired    map[activation]bool
	groups   map[groupKey]bool
	firings  []Firing
	halted   bool
	disposed bool
}

// NewSession creates an empty session over the knowledge base.
func (kb *KnowledgeBase) NewSession() (*Session, error) {
	if kb == nil {
		return nil, ErrNoKnowledgeBase
	}
	return &Session{
		kb:     kb,
		fired:  make(map[activation]bool),
		groups: make(map[groupKey]bool),
	}, nil
}

// Insert adds a fact to working memory and returns its handle.
func (s *Session) Insert(f Fact) (int, error) {
	if s.disposed {
		return 0, ErrSessionDisposed
	}
	if f == nil {
		return 0, fmt.Errorf("nil fact")
	}
	if got, want := f.FactType(), s.kb.factType.Name; got != want {
		return 0, fmt.Errorf("fact type %s does not match knowledge base type %s", got, want)
	}

	s.facts = append(s.facts, f)
	s.vars = append(s.vars, f.Vars())
	return len(s.facts) - 1, nil
}

// FireAll runs the match/fire cycle until no rule is eligible or a rule
// halts. The first eligible activation in agenda order fires, then the
// agenda is re-evaluated against the updated facts. A rule fires at most
// once per fact, and at most one rule of an activation group fires per
// fact. It returns the number of rules fired.
func (s *Session) FireAll() (int, error) {
	if s.disposed {
		return 0, ErrSessionDisposed
	}

	count := 0
	for !s.halted {
		act, ok, err := s.next()
		if err != nil {
			return count, err
		}
		if !ok {
			break
		}
		if err := s.fire(act); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Firings returns the rules fired so far, in firing order.
func (s *Session) Firings() []Firing {
	out := make([]Firing, len(s.firings))
	copy(out, s.firings)
	return out
}

// Dispose releases working memory. It is safe to call more than once.
func (s *Session) Dispose() {
	s.disposed = true
	s.facts = nil
	s.vars = nil
	s.fired = nil
	s.groups = nil
}

func (s *Session) next() (activation, bool, error) {
	for ri, r := range s.kb.rules {
		for fi := range s.facts {
			act := activation{rule: ri, fact: fi}
			if s.fired[act] {
				continue
			}
			if r.group != "" && s.groups[groupKey{group: r.group, fact: fi}] {
				continue
			}
			matched, err := s.matches(r, s.vars[fi])
			if err != nil {
				return activation{}, false, err
			}
			if matched {
				return act, true, nil
			}
		}
	}
	return activation{}, false, nil
}

func (s *Session) matches(r *compiledRule, vars map[string]any) (bool, error) {
	for _, cond := range r.conditions {
		out, _, err := cond.program.Eval(vars)
		if err != nil {
			return false, &EvalError{Rule: r.name, Expr: cond.text, Err: err}
		}
		// non-boolean results never match
		if b, ok := out.Value().(bool); !ok || !b {
			return false, nil
		}
	}
	return true, nil
}

func (s *Session) fire(act activation) error {
	r := s.kb.rules[act.rule]
	fact := s.facts[act.fact]

	s.fired[act] = true
	if r.group != "" {
		s.groups[groupKey{group: r.group, fact: act.fact}] = true
	}
	s.firings = append(s.firings, Firing{Rule: r.name, Fact: act.fact})

	for _, a := range r.actions {
		if a.halt {
			s.halted = true
			continue
		}

		out, _, err := a.expr.program.Eval(s.vars[act.fact])
		if err != nil {
			return &EvalError{Rule: r.name, Expr: a.expr.text, Err: err}
		}
		v, err := nativeValue(out, a.field)
		if err != nil {
			return &EvalError{Rule: r.name, Expr: a.expr.text, Err: err}
		}
		if err := fact.Set(a.field.Name, v); err != nil {
			return &EvalError{Rule: r.name, Expr: a.expr.text, Err: err}
		}
		s.vars[act.fact] = fact.Vars()
	}
	return nil
}

var goTypes = map[schema.FieldType]reflect.Type{
	schema.Int:        reflect.TypeOf(int64(0)),
	schema.Int64:      reflect.TypeOf(int64(0)),
	schema.Float64:    reflect.TypeOf(float64(0)),
	schema.String:     reflect.TypeOf(""),
	schema.Bool:       reflect.TypeOf(false),
	schema.Bytes:      reflect.TypeOf([]byte(nil)),
	schema.Timestamp:  reflect.TypeOf(time.Time{}),
	schema.Duration:   reflect.TypeOf(time.Duration(0)),
	schema.StringList: reflect.TypeOf([]string(nil)),
}

func nativeValue(v ref.Val, field schema.Field) (any, error) {
	if v == types.NullValue {
		if !field.Output {
			return nil, fmt.Errorf("field %q cannot be null", field.Name)
		}
		return nil, nil
	}
	t, ok := goTypes[field.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported field type %q", field.Type)
	}
	return v.ConvertToNative(t)
}
