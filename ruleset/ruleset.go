package ruleset

import (
	"github.com/google/cel-go/cel"

	"github.com/liamcoop/ruleops/schema"
)

type expression struct {
	text    string
	program cel.Program
}

type action struct {
	field schema.Field
	halt  bool
	expr  expression
}

type compiledRule struct {
	name       string
	source     string
	salience   int
	enabled    bool
	group      string
	order      int
	conditions []expression
	actions    []action
}

// KnowledgeBase is an immutable compiled rule set. It is safe to share
// between any number of concurrent sessions.
type KnowledgeBase struct {
	factType *schema.FactType

	// rules holds the enabled rules in agenda order: salience descending,
	// then declaration order.
	rules []*compiledRule

	declared int
}

// FactType returns the descriptor the rules were compiled against.
func (kb *KnowledgeBase) FactType() *schema.FactType {
	return kb.factType
}

// Len returns the number of enabled rules.
func (kb *KnowledgeBase) Len() int {
	if kb == nil {
		return 0
	}
	return len(kb.rules)
}

// Declared returns the number of rules declared, including disabled ones.
func (kb *KnowledgeBase) Declared() int {
	if kb == nil {
		return 0
	}
	return kb.declared
}

// Empty reports whether executing the knowledge base can have any effect.
func (kb *KnowledgeBase) Empty() bool {
	return kb.Len() == 0
}

// RuleNames lists the enabled rules in agenda order.
func (kb *KnowledgeBase) RuleNames() []string {
	if kb == nil {
		return nil
	}
	names := make([]string, len(kb.rules))
	for i, r := range kb.rules {
		names[i] = r.name
	}
	return names
}
