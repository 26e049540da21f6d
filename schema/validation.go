package schema

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxFields           = 200
	maxIdentifierLength = 100
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks a fact type descriptor. Returns an error if validation
// fails, nil if the descriptor is valid.
func (ft *FactType) Validate() error {
	if err := validateIdentifier(ft.Name); err != nil {
		return fmt.Errorf("invalid fact type name %q: %w", ft.Name, err)
	}

	if len(ft.Fields) == 0 {
		return fmt.Errorf("fact type %q must contain at least one field", ft.Name)
	}
	if len(ft.Fields) > maxFields {
		return fmt.Errorf("fact type %q contains %d fields, maximum allowed is %d", ft.Name, len(ft.Fields), maxFields)
	}

	seen := make(map[string]bool, len(ft.Fields))
	for _, f := range ft.Fields {
		if err := validateIdentifier(f.Name); err != nil {
			return fmt.Errorf("invalid field name %q in fact type %q: %w", f.Name, ft.Name, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q declared twice in fact type %q", f.Name, ft.Name)
		}
		seen[f.Name] = true

		if f.Type == "" {
			return fmt.Errorf("field %q in fact type %q has empty type name", f.Name, ft.Name)
		}
		if strings.TrimSpace(string(f.Type)) != string(f.Type) {
			return fmt.Errorf("field %q in fact type %q has type with leading/trailing whitespace: %q", f.Name, ft.Name, f.Type)
		}
		if !isValidType(f.Type) {
			return fmt.Errorf("field %q in fact type %q has invalid type %q (must be one of: int, int64, float64, string, bool, bytes, timestamp, duration, list<string>)", f.Name, ft.Name, f.Type)
		}
		if f.Output && f.ReadOnly {
			return fmt.Errorf("field %q in fact type %q cannot be both output and read-only", f.Name, ft.Name)
		}
	}

	return nil
}

// validateIdentifier validates a fact type or field name. Names must be
// 1-100 characters, match ^[a-zA-Z_][a-zA-Z0-9_]*$ and must not be a
// reserved word of the rule language or of CEL.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}

	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if IsReserved(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

// isValidType checks if a type name is supported. Type names are
// case-sensitive.
func isValidType(t FieldType) bool {
	switch t {
	case Int, Int64, Float64, String, Bool, Bytes, Timestamp, Duration, StringList:
		return true
	}
	return false
}

var reservedKeywords = map[string]bool{
	"true":  true,
	"false": true,
	"null":  true,
	// CEL reserved words
	"if":        true,
	"else":      true,
	"for":       true,
	"while":     true,
	"break":     true,
	"continue":  true,
	"return":    true,
	"var":       true,
	"let":       true,
	"const":     true,
	"function":  true,
	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,
	// rule language keywords
	"rule":     true,
	"when":     true,
	"then":     true,
	"end":      true,
	"halt":     true,
	"set":      true,
	"salience": true,
	"enabled":  true,
}

// IsReserved reports whether name is a keyword of CEL or of the rule
// language and therefore cannot name a field.
func IsReserved(name string) bool {
	return reservedKeywords[name]
}
