package domain

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable marks transient storage failures that are safe to retry.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Record lookup errors shared by storage backends.
var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrCrewNotFound       = errors.New("crew not found")
	ErrContractorNotFound = errors.New("contractor not found")
)

// ErrIllegalTransition is returned when a status change is not in the lifecycle table.
var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	From IncidentStatus
	To   IncidentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrIllegalTransition).
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
