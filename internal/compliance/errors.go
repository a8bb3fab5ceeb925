package compliance

import (
	"errors"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Lookup errors.
var (
	ErrUnknownContractor = domain.ErrContractorNotFound
)

// Validation errors.
var (
	ErrInvalidInput    = errors.New("invalid contractor data")
	ErrInvalidAmount   = errors.New("amount must be a non-negative number")
	ErrInvalidLegality = errors.New("unknown legality tag")
)
