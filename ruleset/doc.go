// Package ruleset is the embedded rule-matching engine: a small,
// line-oriented rule language whose conditions and actions are CEL
// expressions over the fields of one fact type.
//
//	// comments start with // or #; package and import lines are ignored
//	rule "Young customer discount"
//	    salience 10
//	    activation-group "discount"
//	when
//	    age < 25
//	    isActive
//	then
//	    discount = "15%"
//	    recommendation = "Enjoy your youth discount"
//	end
//
// Every line of a when block is one condition and all conditions must
// hold. A condition continues onto the next line while brackets are open,
// or when the line ends with, or the next line starts with, && or ||.
// Statements in a then block are separated by newlines or semicolons and
// are either an assignment (optionally prefixed with set) or halt.
//
// Compiler.Compile turns sources into an immutable KnowledgeBase or a
// list of Diagnostics. KnowledgeBase.NewSession creates the per-call
// working memory; Session.FireAll fires eligible rules in agenda order
// (salience descending, then declaration order), re-evaluating after
// every firing so later rules observe earlier effects.
package ruleset
