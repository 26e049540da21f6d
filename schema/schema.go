package schema

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// FieldType names the CEL type of a fact field.
type FieldType string

const (
	Int        FieldType = "int"
	Int64      FieldType = "int64"
	Float64    FieldType = "float64"
	String     FieldType = "string"
	Bool       FieldType = "bool"
	Bytes      FieldType = "bytes"
	Timestamp  FieldType = "timestamp"
	Duration   FieldType = "duration"
	StringList FieldType = "list<string>"
)

// Field describes one variable a rule can read, and possibly write.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// ReadOnly fields are derived from other fields and cannot be assigned
	// by rule actions.
	ReadOnly bool `json:"readOnly,omitempty"`

	// Output fields are decision results: they are reset before every
	// evaluation and are what rule actions are expected to set.
	Output bool `json:"output,omitempty"`

	Description string `json:"description,omitempty"`
}

// Writable reports whether rule actions may assign the field.
func (f Field) Writable() bool {
	return !f.ReadOnly
}

// FactType is the statically declared descriptor of a fact type. Rules
// compiled against a FactType see each field as a typed top-level
// variable.
type FactType struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field looks up a field by name.
func (ft *FactType) Field(name string) (Field, bool) {
	for _, f := range ft.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Outputs returns the output fields in declaration order.
func (ft *FactType) Outputs() []Field {
	var out []Field
	for _, f := range ft.Fields {
		if f.Output {
			out = append(out, f)
		}
	}
	return out
}

// CELType maps a field type to the CEL type used for declarations and
// type checking.
func CELType(t FieldType) (*cel.Type, error) {
	switch t {
	case Int, Int64:
		return cel.IntType, nil
	case Float64:
		return cel.DoubleType, nil
	case String:
		return cel.StringType, nil
	case Bool:
		return cel.BoolType, nil
	case Bytes:
		return cel.BytesType, nil
	case Timestamp:
		return cel.TimestampType, nil
	case Duration:
		return cel.DurationType, nil
	case StringList:
		return cel.ListType(cel.StringType), nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", t)
	}
}

// EnvOptions declares one CEL variable per field of the fact type.
func (ft *FactType) EnvOptions() ([]cel.EnvOption, error) {
	if err := ft.Validate(); err != nil {
		return nil, err
	}

	opts := make([]cel.EnvOption, 0, len(ft.Fields))
	for _, f := range ft.Fields {
		t, err := CELType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		opts = append(opts, cel.Variable(f.Name, t))
	}
	return opts, nil
}

// NewEnv creates a CEL environment with variables declared by the fact type.
func (ft *FactType) NewEnv(extra ...cel.EnvOption) (*cel.Env, error) {
	opts, err := ft.EnvOptions()
	if err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}
