package utils

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/BartekS5/ack/pkg/models"
)

// ToValue converts a value handed out by a database driver or a JSON decoder
// into a raw record value. Maps become mappings with sorted keys, slices become
// sequences and driver-specific types become strings.
func ToValue(val any) (models.Value, error) {
	if s, ok := models.ScalarOf(val); ok {
		return s, nil
	}
	switch v := val.(type) {
	case models.Value:
		return v, nil
	case []byte:
		return models.String(string(v)), nil
	case time.Time:
		return models.String(v.UTC().Format(time.RFC3339Nano)), nil
	case primitive.DateTime:
		return models.String(v.Time().UTC().Format(time.RFC3339Nano)), nil
	case primitive.ObjectID:
		return models.String(v.Hex()), nil
	case primitive.Decimal128:
		return models.String(v.String()), nil
	case primitive.Timestamp:
		return models.String(time.Unix(int64(v.T), 0).UTC().Format(time.RFC3339)), nil
	case primitive.Binary:
		return models.String(base64.StdEncoding.EncodeToString(v.Data)), nil
	case primitive.Null, primitive.Undefined:
		return models.Null, nil
	case bson.D:
		return FromDocument(v)
	case bson.M:
		return ToMapping(v)
	case map[string]any:
		return ToMapping(v)
	case bson.A:
		return toSequence([]any(v))
	case []any:
		return toSequence(v)
	case []map[string]any:
		seq := make(models.Sequence, 0, len(v))
		for _, m := range v {
			mv, err := ToMapping(m)
			if err != nil {
				return nil, err
			}
			seq = append(seq, mv)
		}
		return seq, nil
	case fmt.Stringer:
		return models.String(v.String()), nil
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return models.Null, nil
		}
		return ToValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return toSequence(items)
	case reflect.String:
		return models.String(rv.String()), nil
	}
	return nil, fmt.Errorf("cannot convert %T to a record value", val)
}

// ToMapping converts a Go map into a mapping ordered by key, so that the
// flattened output does not depend on map iteration order.
func ToMapping(m map[string]any) (models.Mapping, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(models.Mapping, 0, len(m))
	for _, k := range keys {
		v, err := ToValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out = append(out, models.Entry{Key: k, Value: v})
	}
	return out, nil
}

// FromDocument converts an ordered BSON document, keeping its key order.
func FromDocument(d bson.D) (models.Mapping, error) {
	out := make(models.Mapping, 0, len(d))
	for _, e := range d {
		v, err := ToValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", e.Key, err)
		}
		out = append(out, models.Entry{Key: e.Key, Value: v})
	}
	return out, nil
}

// FromColumns builds a mapping from a database row, one entry per column.
func FromColumns(cols []string, vals []any) (models.Mapping, error) {
	out := make(models.Mapping, 0, len(cols))
	for i, col := range cols {
		v, err := ToValue(vals[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out = append(out, models.Entry{Key: col, Value: v})
	}
	return out, nil
}

func toSequence(items []any) (models.Sequence, error) {
	seq := make(models.Sequence, 0, len(items))
	for i, it := range items {
		v, err := ToValue(it)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		seq = append(seq, v)
	}
	return seq, nil
}

// ParseDate accepts the date and timestamp layouts seen in job files and on
// the command line.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse datetime: %s", s)
}
