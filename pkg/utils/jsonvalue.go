package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BartekS5/ack/pkg/models"
)

// ParseJSON decodes one JSON document into a raw record value, keeping object
// key order and the integer/float distinction of number literals.
func ParseJSON(data []byte) (models.Value, error) {
	dec := NewJSONDecoder(bytes.NewReader(data))
	v, err := DecodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

// ParseJSONObject is ParseJSON for documents that must be objects.
func ParseJSONObject(data []byte) (models.Mapping, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(models.Mapping)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", kindOf(v))
	}
	return m, nil
}

func NewJSONDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// DecodeValue reads the next complete value from dec. dec must have been
// created with UseNumber.
func DecodeValue(dec *json.Decoder) (models.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFrom(dec, tok)
}

func decodeFrom(dec *json.Decoder, tok json.Token) (models.Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := models.Mapping{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", kt)
				}
				v, err := DecodeValue(dec)
				if err != nil {
					return nil, err
				}
				m = append(m, models.Entry{Key: key, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			seq := models.Sequence{}
			for dec.More() {
				v, err := DecodeValue(dec)
				if err != nil {
					return nil, err
				}
				seq = append(seq, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return seq, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %s", t)
		}
	case json.Number:
		s, ok := models.ParseNumber(string(t))
		if !ok {
			return nil, fmt.Errorf("invalid number %s", t)
		}
		return s, nil
	default:
		s, ok := models.ScalarOf(t)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", t)
		}
		return s, nil
	}
}

func kindOf(v models.Value) string {
	switch v.(type) {
	case models.Mapping:
		return "object"
	case models.Sequence:
		return "array"
	default:
		return "scalar"
	}
}
