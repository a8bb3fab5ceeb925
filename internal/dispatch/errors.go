package dispatch

import (
	"errors"
	"fmt"
)

// ErrDispatchRejected is returned when an assignment cannot be made.
// The accompanying reason is one of ErrIncidentNotOpen or ErrCrewNotAvailable.
var ErrDispatchRejected = errors.New("dispatch rejected")

// Rejection reasons.
var (
	ErrIncidentNotOpen  = errors.New("incident is not open")
	ErrCrewNotAvailable = errors.New("crew is not available")
)

// ErrNoActiveAssignment is returned when resolving or cancelling an incident without a crew.
var ErrNoActiveAssignment = errors.New("incident has no active assignment")

// Reason is a machine-readable rejection code.
type Reason string

// Rejection codes.
const (
	ReasonIncidentNotOpen  Reason = "incident_not_open"
	ReasonCrewNotAvailable Reason = "crew_not_available"
)

// RejectedError carries the reason a dispatch was refused.
type RejectedError struct {
	Reason Reason
	cause  error
}

func newRejected(reason Reason) *RejectedError {
	cause := ErrIncidentNotOpen
	if reason == ReasonCrewNotAvailable {
		cause = ErrCrewNotAvailable
	}
	return &RejectedError{Reason: reason, cause: cause}
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDispatchRejected, e.cause)
}

// Unwrap matches both ErrDispatchRejected and the reason sentinel.
func (e *RejectedError) Unwrap() []error {
	return []error{ErrDispatchRejected, e.cause}
}

// Code returns the reason as a string.
func (e *RejectedError) Code() string {
	return string(e.Reason)
}
