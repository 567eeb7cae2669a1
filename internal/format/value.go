// Package format implements the template and expression language used to
// turn module values into rendered bar text. Templates are parsed once at
// configuration time; evaluation is deterministic and performs no I/O.
package format

import (
	"strconv"
	"strings"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	// KindText is a plain string value.
	KindText ValueKind = iota
	// KindNumber is a float64 value.
	KindNumber
	// KindBool is a boolean value.
	KindBool
	// KindRecord is a structured value with named string fields.
	KindRecord
)

// Value is the small tagged union produced by modules and consumed by
// templates. The zero Value is empty text.
type Value struct {
	Kind   ValueKind
	Text   string
	Num    float64
	Bool   bool
	Fields map[string]string
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Boolean returns a boolean value.
func Boolean(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Record returns a structured value. The fields map is retained, not copied;
// callers hand over ownership.
func Record(fields map[string]string) Value {
	return Value{Kind: KindRecord, Fields: fields}
}

// String renders the value as display text. Records render their "text"
// field, which by convention carries the default presentation.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindRecord:
		return v.Fields["text"]
	}
	return ""
}

// Float returns the numeric interpretation of the value and whether one
// exists.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
}

// Truthy reports whether the value counts as true in a condition: non-empty
// text, non-zero number, or true boolean.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	default:
		s := v.String()
		return s != "" && s != "0" && s != "false"
	}
}

// Field resolves a named field of the value. Records look up the field map;
// scalar values expose themselves under the empty name and "text". Unknown
// fields resolve to empty text.
func (v Value) Field(name string) Value {
	if name == "" || name == "text" {
		if v.Kind != KindRecord {
			return v
		}
	}
	if v.Kind == KindRecord {
		if s, ok := v.Fields[name]; ok {
			return Text(s)
		}
	}
	return Text("")
}

// Env resolves variable names during evaluation. The module registry is the
// usual implementation; widgets layer a module-local scope on top.
type Env interface {
	Lookup(name string) (Value, bool)
}

// ScopedEnv resolves bare names against the fields of a local record value
// before falling back to the outer environment. Widget rendering uses it so
// a clock widget can write "{h}:{m}" instead of "{clock.h}:{clock.m}".
type ScopedEnv struct {
	Local Value
	Outer Env
}

// Lookup implements Env.
func (s ScopedEnv) Lookup(name string) (Value, bool) {
	if s.Local.Kind == KindRecord {
		if v, ok := s.Local.Fields[name]; ok {
			return Text(v), true
		}
	}
	if s.Outer != nil {
		return s.Outer.Lookup(name)
	}
	return Value{}, false
}

// MapEnv is a trivial Env backed by a map, used in tests and for static
// evaluation.
type MapEnv map[string]Value

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}
