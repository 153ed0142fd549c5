package models

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is one node of a raw record. The set of implementations is closed:
// Scalar, Mapping and Sequence.
type Value interface {
	isValue()
}

// Scalar holds nil, string, int64, float64 or bool.
type Scalar struct {
	V any
}

// Entry is one key of a Mapping.
type Entry struct {
	Key   string
	Value Value
}

// Mapping is an ordered set of keyed values. A raw record is a Mapping.
type Mapping []Entry

// Sequence is an ordered list of values.
type Sequence []Value

func (Scalar) isValue()   {}
func (Mapping) isValue()  {}
func (Sequence) isValue() {}

// Null is the explicit null scalar.
var Null = Scalar{}

// String, Int, Float and Bool build canonical scalars.
func String(s string) Scalar { return Scalar{V: s} }
func Int(i int64) Scalar     { return Scalar{V: i} }
func Float(f float64) Scalar { return Scalar{V: f} }
func Bool(b bool) Scalar     { return Scalar{V: b} }

// Get returns the value stored under key.
func (m Mapping) Get(key string) (Value, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// ScalarOf canonicalizes a Go value into a Scalar. Integer kinds become int64
// (or float64 when they overflow), float32 becomes float64 and json.Number is
// split into int64 or float64. It reports false for anything else.
func ScalarOf(v any) (Scalar, bool) {
	switch x := v.(type) {
	case nil:
		return Null, true
	case string:
		return Scalar{V: x}, true
	case bool:
		return Scalar{V: x}, true
	case int:
		return Scalar{V: int64(x)}, true
	case int8:
		return Scalar{V: int64(x)}, true
	case int16:
		return Scalar{V: int64(x)}, true
	case int32:
		return Scalar{V: int64(x)}, true
	case int64:
		return Scalar{V: x}, true
	case uint:
		return fromUint(uint64(x)), true
	case uint8:
		return Scalar{V: int64(x)}, true
	case uint16:
		return Scalar{V: int64(x)}, true
	case uint32:
		return Scalar{V: int64(x)}, true
	case uint64:
		return fromUint(x), true
	case float32:
		return Scalar{V: float64(x)}, true
	case float64:
		return Scalar{V: x}, true
	case json.Number:
		return ParseNumber(string(x))
	default:
		return Scalar{}, false
	}
}

// ParseNumber turns a JSON number literal into an int64 scalar when it is an
// integer literal and a float64 scalar otherwise.
func ParseNumber(lit string) (Scalar, bool) {
	if isIntegerLiteral(lit) {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return Scalar{V: i}, true
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Scalar{}, false
	}
	return Scalar{V: f}, true
}

// Finite reports whether the scalar can be written as JSON.
func (s Scalar) Finite() bool {
	f, ok := s.V.(float64)
	return !ok || (!math.IsNaN(f) && !math.IsInf(f, 0))
}

func fromUint(u uint64) Scalar {
	if u > math.MaxInt64 {
		return Scalar{V: float64(u)}
	}
	return Scalar{V: int64(u)}
}

func isIntegerLiteral(lit string) bool {
	if lit == "" {
		return false
	}
	for i, r := range lit {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
