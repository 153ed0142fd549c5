package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is one path/value pair of a flat record. Value is always a canonical
// scalar: nil, string, int64, float64 or bool.
type Field struct {
	Path  string
	Value any
}

// Flat is a single-level record keyed by field path. Field order follows the
// nesting order of the raw record it came from.
type Flat struct {
	Fields []Field
}

// NewFlat builds a flat record from alternating path/value pairs.
func NewFlat(kv ...any) Flat {
	f := Flat{Fields: make([]Field, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		path, _ := kv[i].(string)
		s, ok := ScalarOf(kv[i+1])
		if !ok {
			s = String(fmt.Sprint(kv[i+1]))
		}
		f.Fields = append(f.Fields, Field{Path: path, Value: s.V})
	}
	return f
}

func (f Flat) Len() int { return len(f.Fields) }

// Get returns the value stored at path.
func (f Flat) Get(path string) (any, bool) {
	for _, fd := range f.Fields {
		if fd.Path == path {
			return fd.Value, true
		}
	}
	return nil, false
}

// Paths returns the field paths in record order.
func (f Flat) Paths() []string {
	out := make([]string, len(f.Fields))
	for i, fd := range f.Fields {
		out[i] = fd.Path
	}
	return out
}

// Map copies the record into a plain map.
func (f Flat) Map() map[string]any {
	out := make(map[string]any, len(f.Fields))
	for _, fd := range f.Fields {
		out[fd.Path] = fd.Value
	}
	return out
}

// Equal compares path/value sets; field order is ignored. A record with a
// repeated path equals nothing.
func (f Flat) Equal(o Flat) bool {
	if len(f.Fields) != len(o.Fields) {
		return false
	}
	m := o.Map()
	if len(m) != len(o.Fields) || len(f.Map()) != len(f.Fields) {
		return false
	}
	for _, fd := range f.Fields {
		v, ok := m[fd.Path]
		if !ok || v != fd.Value {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no backing array with f.
func (f Flat) Clone() Flat {
	out := Flat{Fields: make([]Field, len(f.Fields))}
	copy(out.Fields, f.Fields)
	return out
}

func (f Flat) MarshalJSON() ([]byte, error) {
	return f.AppendJSON(nil)
}

// AppendJSON appends the record as one JSON object, keeping field order.
// Floats always carry a fraction or exponent so that they decode back as
// floats; integers decode back as int64.
func (f Flat) AppendJSON(buf []byte) ([]byte, error) {
	buf = append(buf, '{')
	for i, fd := range f.Fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(fd.Path)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf, err = appendScalar(buf, fd.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fd.Path, err)
		}
	}
	return append(buf, '}'), nil
}

func (f *Flat) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("flat record must be a JSON object")
	}
	fields := make([]Field, 0, 8)
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		var v any
		switch t := tok.(type) {
		case json.Delim:
			return fmt.Errorf("field %q: nested %s in flat record", key, t)
		case json.Number:
			s, ok := ParseNumber(string(t))
			if !ok {
				return fmt.Errorf("field %q: bad number %s", key, t)
			}
			v = s.V
		default:
			v = t
		}
		fields = append(fields, Field{Path: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	f.Fields = fields
	return nil
}

func appendScalar(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		return strconv.AppendBool(buf, x), nil
	case int64:
		return strconv.AppendInt(buf, x, 10), nil
	case float64:
		if !(Scalar{V: x}).Finite() {
			return nil, fmt.Errorf("unsupported float value %v", x)
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return append(buf, s...), nil
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return append(buf, b...), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
