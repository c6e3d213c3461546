package event

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validatorStruct mirrors the subset of Event fields worth struct-tag
// validation; the full Event carries fields (raw prompt text, embeddings)
// that validator has no useful tags for.
type validatorStruct struct {
	AccountID string    `validate:"required"`
	Timestamp time.Time `validate:"required"`
	Country   string    `validate:"omitempty,len=2"`
}

// Validator validates normalized events against the canonical schema,
// following the same struct-tag-plus-bounds-check shape as the teacher's
// schema.Validator.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// NewValidator builds a Validator with the given age bounds.
func NewValidator(maxAge, maxFuture time.Duration) *Validator {
	return &Validator{validate: validator.New(), maxAge: maxAge, maxFuture: maxFuture}
}

// Validate returns an error if ev fails schema or timestamp-bounds checks.
// Per the data model, missing optional fields never fail validation; only
// the required fields and sane timestamp bounds do.
func (v *Validator) Validate(ev *Event) error {
	vs := validatorStruct{AccountID: ev.AccountID, Timestamp: ev.Timestamp, Country: ev.Country}
	if err := v.validate.Struct(vs); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	now := time.Now().UTC()
	if ev.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v", ev.Timestamp)
	}
	if ev.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp too far in future: %v", ev.Timestamp)
	}
	return nil
}
