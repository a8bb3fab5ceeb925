package crews

import (
	"errors"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Crew errors.
var (
	ErrNotFound        = domain.ErrCrewNotFound
	ErrCrewUnavailable = errors.New("crew is not available")
	ErrInvalidName     = errors.New("crew name is required")
)
