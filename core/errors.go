package core

import (
	"errors"
	"fmt"
)

// Domain error constants. The API layer maps these onto HTTP statuses
// with errors.Is.
var (
	// ErrAuthenticationFailed is returned when a device or user
	// credential does not verify: unknown id, key mismatch, or
	// inactive device. Callers must not retry automatically.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrValidationFailed is returned for malformed ingestion
	// payloads: unrecognized source, missing required fields.
	ErrValidationFailed = errors.New("validation failed")

	// ErrInvalidTransition is returned for illegal incident status
	// changes. Use AsInvalidTransition to recover the attempted and
	// current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvalidTransitionError reports an illegal incident status change with
// the current and attempted states.
type InvalidTransitionError struct {
	From IncidentStatus
	To   IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Is makes InvalidTransitionError match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// AsInvalidTransition unwraps an InvalidTransitionError if err carries one.
func AsInvalidTransition(err error) (*InvalidTransitionError, bool) {
	var ite *InvalidTransitionError
	if errors.As(err, &ite) {
		return ite, true
	}
	return nil, false
}
