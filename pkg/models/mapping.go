package models

import "encoding/json"

// FieldMapping describes how the records of one source are shaped on their
// way to the writers.
type FieldMapping struct {
	Expand   []string          `json:"expand,omitempty" yaml:"expand"`
	Required []string          `json:"required,omitempty" yaml:"required"`
	Rename   map[string]string `json:"rename,omitempty" yaml:"rename"`
	Drop     []string          `json:"drop,omitempty" yaml:"drop"`
}

// Empty reports whether the mapping changes nothing.
func (m FieldMapping) Empty() bool {
	return len(m.Expand) == 0 && len(m.Required) == 0 && len(m.Rename) == 0 && len(m.Drop) == 0
}

func LoadMapping(data []byte) (*FieldMapping, error) {
	var m FieldMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
