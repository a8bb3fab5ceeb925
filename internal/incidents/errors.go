package incidents

import (
	"errors"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Lookup errors.
var (
	ErrNotFound = domain.ErrIncidentNotFound
)

// Validation errors.
var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrInvalidStatus   = errors.New("invalid status")
)

// State errors.
var (
	ErrIllegalTransition = domain.ErrIllegalTransition
	ErrIncidentClosed    = errors.New("incident is no longer open")
	ErrDetectionAttached = errors.New("incident already has a detection")
)
