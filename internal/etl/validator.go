package etl

import (
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
)

type Validator struct {
	Required []string
}

func NewValidator(required []string) *Validator {
	return &Validator{Required: required}
}

// ValidateRecord checks that every required field is present and not null.
func (v *Validator) ValidateRecord(rec models.Flat) error {
	for _, path := range v.Required {
		val, ok := rec.Get(path)
		if !ok {
			return &etlerr.NormalizationError{Path: path, Reason: "missing required field"}
		}
		if val == nil {
			return &etlerr.NormalizationError{Path: path, Reason: "required field is null"}
		}
	}
	return nil
}
