package ruleset

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/ruleops/schema"
)

// DefaultCostLimit bounds the runtime cost of a single expression so a
// runaway rule cannot exhaust the process.
const DefaultCostLimit = 1000000

// Source is one rule body to compile. Name identifies it in diagnostics.
type Source struct {
	Name string
	Text string
}

// Compiler turns rule sources into knowledge bases for one fact type.
// It holds no mutable state and is safe for concurrent use.
type Compiler struct {
	factType  *schema.FactType
	env       *cel.Env
	costLimit uint64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCostLimit overrides DefaultCostLimit. Zero disables the limit.
func WithCostLimit(limit uint64) Option {
	return func(c *Compiler) {
		c.costLimit = limit
	}
}

// NewCompiler creates the CEL environment for the fact type. Errors here
// mean the engine itself cannot be initialized.
func NewCompiler(ft *schema.FactType, opts ...Option) (*Compiler, error) {
	if ft == nil {
		return nil, fmt.Errorf("fact type is required")
	}

	env, err := ft.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment for %s: %w", ft.Name, err)
	}

	c := &Compiler{
		factType:  ft,
		env:       env,
		costLimit: DefaultCostLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FactType returns the descriptor the compiler was built for.
func (c *Compiler) FactType() *schema.FactType {
	return c.factType
}

// Compile parses and type checks every source and builds one knowledge
// base from all of them, in order. Malformed sources produce Diagnostics
// and a nil knowledge base; the error return is reserved for failures of
// the compiler itself. Compiling zero sources yields an empty knowledge
// base.
func (c *Compiler) Compile(sources []Source) (*KnowledgeBase, Diagnostics, error) {
	if c == nil || c.env == nil {
		return nil, nil, fmt.Errorf("compiler is not initialized")
	}

	var diags Diagnostics
	var compiled []*compiledRule
	declared := make(map[string]*ruleDecl)
	declaredIn := make(map[string]string)

	for _, src := range sources {
		decls, parseDiags := parse(src)
		diags = append(diags, parseDiags...)
		if len(decls) == 0 && len(parseDiags) == 0 {
			diags = append(diags, Diagnostic{Source: src.Name, Message: "source declares no rules"})
			continue
		}

		for _, decl := range decls {
			if prev, dup := declared[decl.name]; dup {
				diags = append(diags, Diagnostic{
					Source:  src.Name,
					Rule:    decl.name,
					Line:    decl.line,
					Column:  decl.column,
					Message: fmt.Sprintf("duplicate rule name (already declared in %s line %d)", declaredIn[decl.name], prev.line),
				})
				continue
			}
			declared[decl.name] = decl
			declaredIn[decl.name] = src.Name

			r, ruleDiags := c.compileRule(src.Name, decl)
			diags = append(diags, ruleDiags...)
			if r != nil {
				r.order = len(compiled)
				compiled = append(compiled, r)
			}
		}
	}

	if len(diags) > 0 {
		return nil, diags, nil
	}

	agenda := make([]*compiledRule, 0, len(compiled))
	for _, r := range compiled {
		if r.enabled {
			agenda = append(agenda, r)
		}
	}
	sort.SliceStable(agenda, func(i, j int) bool {
		return agenda[i].salience > agenda[j].salience
	})

	return &KnowledgeBase{
		factType: c.factType,
		rules:    agenda,
		declared: len(compiled),
	}, nil, nil
}

func (c *Compiler) compileRule(source string, decl *ruleDecl) (*compiledRule, Diagnostics) {
	var diags Diagnostics
	r := &compiledRule{
		name:     decl.name,
		source:   source,
		salience: decl.salience,
		enabled:  decl.enabled,
		group:    decl.group,
	}

	for _, cond := range decl.conditions {
		prg, ds := c.program(source, decl.name, cond, cel.BoolType, false)
		diags = append(diags, ds...)
		if prg != nil {
			r.conditions = append(r.conditions, expression{text: cond.text, program: prg})
		}
	}

	for _, act := range decl.actions {
		if act.halt {
			r.actions = append(r.actions, action{halt: true})
			continue
		}

		field, ok := c.factType.Field(act.field)
		if !ok {
			diags = append(diags, Diagnostic{
				Source: source, Rule: decl.name, Line: act.expr.line,
				Message: fmt.Sprintf("unknown field %q in assignment", act.field),
			})
			continue
		}
		if !field.Writable() {
			diags = append(diags, Diagnostic{
				Source: source, Rule: decl.name, Line: act.expr.line,
				Message: fmt.Sprintf("field %q is read-only", act.field),
			})
			continue
		}

		want, err := schema.CELType(field.Type)
		if err != nil {
			diags = append(diags, Diagnostic{Source: source, Rule: decl.name, Line: act.expr.line, Message: err.Error()})
			continue
		}
		prg, ds := c.program(source, decl.name, act.expr, want, field.Output)
		diags = append(diags, ds...)
		if prg != nil {
			r.actions = append(r.actions, action{
				field: field,
				expr:  expression{text: act.expr.text, program: prg},
			})
		}
	}

	if len(diags) > 0 {
		return nil, diags
	}
	return r, nil
}

// program compiles and type checks one expression. CEL reports
// positions relative to the expression; they are shifted back onto the
// rule source.
func (c *Compiler) program(source, rule string, src exprSource, want *cel.Type, nullable bool) (cel.Program, Diagnostics) {
	ast, iss := c.env.Compile(src.text)
	if iss != nil && iss.Err() != nil {
		var diags Diagnostics
		for _, e := range iss.Errors() {
			line, col := src.line, src.column
			if loc := e.Location; loc != nil && loc.Line() > 0 {
				if loc.Line() == 1 {
					col = src.column + loc.Column()
				} else {
					line = src.line + loc.Line() - 1
					col = loc.Column() + 1
				}
			}
			diags = append(diags, Diagnostic{Source: source, Rule: rule, Line: line, Column: col, Message: e.Message})
		}
		return nil, diags
	}

	if got := ast.OutputType(); !assignable(want, got, nullable) {
		return nil, Diagnostics{{
			Source: source, Rule: rule, Line: src.line, Column: src.column,
			Message: fmt.Sprintf("expression %q has type %s, want %s", src.text, got, want),
		}}
	}

	var opts []cel.ProgramOption
	if c.costLimit > 0 {
		opts = append(opts, cel.CostLimit(c.costLimit))
	}
	prg, err := c.env.Program(ast, opts...)
	if err != nil {
		return nil, Diagnostics{{
			Source: source, Rule: rule, Line: src.line, Column: src.column,
			Message: fmt.Sprintf("program creation error: %v", err),
		}}
	}
	return prg, nil
}

func assignable(want, got *cel.Type, nullable bool) bool {
	switch got.String() {
	case want.String(), cel.DynType.String():
		return true
	case cel.NullType.String():
		return nullable
	}
	return false
}
