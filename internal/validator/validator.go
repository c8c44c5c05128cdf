// Package validator enforces the input record contract.
package validator

import (
	"fmt"
	"time"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// maxClockSkew bounds how far in the future an event time may sit before the
// record is considered malformed rather than merely early.
const maxClockSkew = 24 * time.Hour

// RecordValidator validates incoming records before window assignment.
type RecordValidator struct{}

// NewRecordValidator creates a new record validator.
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// Validate checks that a record satisfies the input contract: a usable event
// time and a non-nil payload. The key may be empty.
func (v *RecordValidator) Validate(r record.Record) error {
	if r.EventTime.IsZero() {
		return &errors.ValidationError{
			Field:  "event_time",
			Reason: "required field is missing",
		}
	}

	if r.EventTime.After(time.Now().Add(maxClockSkew)) {
		return &errors.ValidationError{
			Field:  "event_time",
			Reason: fmt.Sprintf("event time %s is too far in the future", r.EventTime.Format(time.RFC3339)),
		}
	}

	if r.Payload == nil {
		return &errors.ValidationError{
			Field:  "payload",
			Reason: "required field is missing",
		}
	}

	return nil
}
