// Package schema converts between JSON Schema and a structural validator
// schema. Both directions are total: unrecognized shapes degrade to a
// permissive accept-anything schema instead of failing.
package schema

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the structural type of a validator schema node.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Field is one object property together with its required flag.
type Field struct {
	Schema   *Schema
	Required bool
}

// Schema is the validator-side parameter schema for a tool definition.
// Descriptions are carried for documentation; they are not enforced.
type Schema struct {
	Kind        Kind
	Description string
	Fields      map[string]Field // object properties
	Items       *Schema          // array element schema; nil means any
}

// Any returns the permissive accept-anything schema.
func Any() *Schema {
	return &Schema{Kind: KindAny}
}

// Validate structurally checks a decoded JSON value against the schema.
// Object validation is lenient about unknown fields but strict about
// required ones; integer adds a whole-number constraint over number.
func (s *Schema) Validate(v any) error {
	if s == nil || s.Kind == KindAny {
		return nil
	}

	switch s.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case KindNumber:
		if !isNumeric(v) {
			return fmt.Errorf("expected number, got %T", v)
		}
	case KindInteger:
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %v", f)
		}
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
		for i, item := range items {
			if err := s.Items.Validate(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		for name, field := range s.Fields {
			val, present := obj[name]
			if !present {
				if field.Required {
					return fmt.Errorf("missing required field %q", name)
				}
				continue
			}
			if err := field.Schema.Validate(val); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
	}

	return nil
}

// RequiredFields returns the sorted names of required object fields.
func (s *Schema) RequiredFields() []string {
	if s == nil || s.Kind != KindObject {
		return nil
	}
	var names []string
	for name, field := range s.Fields {
		if field.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func isNumeric(v any) bool {
	_, ok := asFloat(v)
	return ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
