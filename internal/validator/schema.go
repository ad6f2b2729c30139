package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Type is the JSON kind a Schema node accepts.
type Type int

const (
	TypeObject Type = iota
	TypeArray
	TypeString
	TypeNumber
	TypeInteger
	TypeBool
	// TypeStringOrNumber accepts either, as used for repetition counts.
	TypeStringOrNumber
)

func (t Type) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeBool:
		return "boolean"
	default:
		return "string or number"
	}
}

// Schema declares the shape of one JSON value.
type Schema struct {
	Type     Type
	Fields   []Field  // objects, checked in order
	Closed   bool     // objects: reject undeclared keys
	Items    *Schema  // arrays
	MinItems int      // arrays
	Enum     []string // strings
	IsDate   bool     // strings: YYYY-MM-DD
	Min, Max *float64 // numbers and integers
}

// Field is a named member of an object schema.
type Field struct {
	Name     string
	Required bool
	Schema   *Schema
}

// Violation is one structural or cross-field problem, located by path.
type Violation struct {
	Path   string
	Reason string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Reason
	}
	return v.Path + ": " + v.Reason
}

func Object(fields ...Field) *Schema { return &Schema{Type: TypeObject, Fields: fields} }
func Array(items *Schema) *Schema    { return &Schema{Type: TypeArray, Items: items} }
func String() *Schema                { return &Schema{Type: TypeString} }
func Number() *Schema                { return &Schema{Type: TypeNumber} }
func Integer() *Schema               { return &Schema{Type: TypeInteger} }
func Bool() *Schema                  { return &Schema{Type: TypeBool} }
func Date() *Schema                  { return &Schema{Type: TypeString, IsDate: true} }
func StringOrNumber() *Schema        { return &Schema{Type: TypeStringOrNumber} }
func Enum(values ...string) *Schema  { return &Schema{Type: TypeString, Enum: values} }

func Req(name string, s *Schema) Field { return Field{Name: name, Required: true, Schema: s} }
func Opt(name string, s *Schema) Field { return Field{Name: name, Schema: s} }

// Between bounds a number or integer schema.
func (s *Schema) Between(min, max float64) *Schema {
	s.Min, s.Max = &min, &max
	return s
}

// AtLeast sets a lower bound on a number or integer schema.
func (s *Schema) AtLeast(min float64) *Schema {
	s.Min = &min
	return s
}

// NonEmpty requires at least one array element.
func (s *Schema) NonEmpty() *Schema {
	s.MinItems = 1
	return s
}

// Strict rejects undeclared object keys.
func (s *Schema) Strict() *Schema {
	s.Closed = true
	return s
}

// Decode parses JSON keeping numbers as json.Number, the form Validate expects.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after the JSON value")
	}
	return v, nil
}

// Validate checks v (as produced by Decode) and returns every violation in
// document order.
func (s *Schema) Validate(v any) []Violation {
	var out []Violation
	s.validate("", v, &out)
	return out
}

func (s *Schema) validate(path string, v any, out *[]Violation) {
	add := func(format string, args ...any) {
		*out = append(*out, Violation{Path: path, Reason: fmt.Sprintf(format, args...)})
	}

	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			add("expected object, got %s", describe(v))
			return
		}
		declared := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			declared[f.Name] = true
			child, present := obj[f.Name]
			if !present || child == nil {
				if f.Required {
					*out = append(*out, Violation{Path: join(path, f.Name), Reason: "missing required field"})
				}
				continue
			}
			f.Schema.validate(join(path, f.Name), child, out)
		}
		if s.Closed {
			for _, key := range slices.Sorted(maps.Keys(obj)) {
				if !declared[key] {
					*out = append(*out, Violation{Path: join(path, key), Reason: "unexpected field"})
				}
			}
		}

	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			add("expected array, got %s", describe(v))
			return
		}
		if len(arr) < s.MinItems {
			add("expected at least %d element(s), got %d", s.MinItems, len(arr))
		}
		for i, item := range arr {
			s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item, out)
		}

	case TypeString:
		str, ok := v.(string)
		if !ok {
			add("expected string, got %s", describe(v))
			return
		}
		if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
			add("value %q is not one of %s", str, strings.Join(s.Enum, ", "))
		}
		if s.IsDate {
			if _, err := time.Parse("2006-01-02", str); err != nil {
				add("value %q is not a YYYY-MM-DD date", str)
			}
		}

	case TypeNumber, TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			add("expected %s, got %s", s.Type, describe(v))
			return
		}
		if s.Type == TypeInteger && strings.ContainsAny(n.String(), ".eE") {
			add("expected integer, got %s", n)
			return
		}
		f, err := n.Float64()
		if err != nil {
			add("invalid number %s", n)
			return
		}
		if s.Min != nil && f < *s.Min {
			add("value %s is below the minimum %s", n, strconv.FormatFloat(*s.Min, 'f', -1, 64))
		}
		if s.Max != nil && f > *s.Max {
			add("value %s is above the maximum %s", n, strconv.FormatFloat(*s.Max, 'f', -1, 64))
		}

	case TypeBool:
		if _, ok := v.(bool); !ok {
			add("expected boolean, got %s", describe(v))
		}

	case TypeStringOrNumber:
		switch v.(type) {
		case string, json.Number:
		default:
			add("expected string or number, got %s", describe(v))
		}
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
