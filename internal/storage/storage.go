// Package storage defines the unit-of-work contract shared by the storage backends.
package storage

import (
	"context"
	"errors"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Tx exposes the records touched by a single unit of work.
// Reads through ForUpdate methods lock the record until the unit of work ends.
// Backends lock in a fixed order (incident, then crew) to stay deadlock free.
type Tx interface {
	IncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error)
	InsertIncident(ctx context.Context, incident *domain.Incident) error
	UpdateIncident(ctx context.Context, incident *domain.Incident) error

	CrewForUpdate(ctx context.Context, id string) (*domain.Crew, error)
	InsertCrew(ctx context.Context, crew *domain.Crew) error
	UpdateCrew(ctx context.Context, crew *domain.Crew) error

	// AssignmentForIncident returns nil without error when none is active.
	AssignmentForIncident(ctx context.Context, incidentID string) (*domain.Assignment, error)
	// AssignmentForCrew returns nil without error when none is active.
	AssignmentForCrew(ctx context.Context, crewID string) (*domain.Assignment, error)
	InsertAssignment(ctx context.Context, assignment *domain.Assignment) error
	DeleteAssignment(ctx context.Context, incidentID string) error

	ContractorForUpdate(ctx context.Context, id string) (*domain.Contractor, error)
	InsertContractor(ctx context.Context, contractor *domain.Contractor) error
	// UpdateContractor persists scalar fields only; history grows through AppendHistory.
	UpdateContractor(ctx context.Context, contractor *domain.Contractor) error
	AppendHistory(ctx context.Context, contractorID string, record domain.HistoryRecord) error
	InsertFine(ctx context.Context, fine *domain.Fine) error
}

// Runner executes fn as one indivisible unit of work.
// Writes made through tx become visible only if fn returns nil;
// any error, or a cancelled ctx, discards them.
type Runner interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	Status *domain.IncidentStatus
}

// ErrDuplicateIncident is returned by InsertIncident when the ID is already stored.
var ErrDuplicateIncident = errors.New("incident id already exists")

// Assignment uniqueness violations reported by InsertAssignment.
var (
	ErrIncidentAlreadyAssigned = errors.New("incident already has an active assignment")
	ErrCrewAlreadyAssigned     = errors.New("crew already has an active assignment")
)
