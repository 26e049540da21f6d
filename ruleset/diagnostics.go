package ruleset

import (
	"fmt"
	"strings"
)

// Diagnostic is one problem found while compiling rule sources.
type Diagnostic struct {
	Source  string `json:"source,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Source != "" {
		b.WriteString(d.Source)
		b.WriteString(":")
	}
	if d.Line > 0 {
		fmt.Fprintf(&b, "%d:", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, "%d:", d.Column)
		}
	}
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	if d.Rule != "" {
		fmt.Fprintf(&b, "rule %q: ", d.Rule)
	}
	b.WriteString(d.Message)
	return b.String()
}

// Diagnostics is the ordered list of problems from one compilation. It
// implements error so callers can return it directly.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	return strings.Join(ds.Messages(), "\n")
}

// Messages renders each diagnostic on its own line.
func (ds Diagnostics) Messages() []string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.String()
	}
	return msgs
}

// EvalError reports a rule whose condition or action failed at runtime.
type EvalError struct {
	Rule string
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rule %q: evaluating %q: %v", e.Rule, e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
