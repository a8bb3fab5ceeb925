// Package dispatch matches open incidents to available crews.
//
// Every operation runs as one unit of work over the (incident, crew,
// assignment) triple, so an assigned incident always has exactly one
// dispatched crew and vice versa.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/wastewatch/internal/crews"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/incidents"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/bissquit/wastewatch/internal/storage"
)

// Engine coordinates incident and crew state changes.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates a new dispatch engine.
func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo: repo,
		now:  time.Now,
	}
}

// Dispatch assigns a crew to an incident.
func (e *Engine) Dispatch(ctx context.Context, incidentID, crewID string) (*domain.Assignment, error) {
	var assignment *domain.Assignment

	err := e.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		incident, err := tx.IncidentForUpdate(ctx, incidentID)
		if err != nil {
			return err
		}
		crew, err := tx.CrewForUpdate(ctx, crewID)
		if err != nil {
			return err
		}

		if incident.Status != domain.IncidentStatusOpen {
			return newRejected(ReasonIncidentNotOpen)
		}
		if crew.Status != domain.CrewStatusAvailable {
			return newRejected(ReasonCrewNotAvailable)
		}

		at := e.timestamp()
		candidate := &domain.Assignment{
			IncidentID: incidentID,
			CrewID:     crewID,
			CreatedAt:  at,
		}
		if err := tx.InsertAssignment(ctx, candidate); err != nil {
			return mapConflict(err)
		}
		if _, err := incidents.TransitionTx(ctx, tx, incidentID, domain.IncidentStatusAssigned, at); err != nil {
			return err
		}
		if _, err := crews.MarkDispatched(ctx, tx, crewID); err != nil {
			if errors.Is(err, crews.ErrCrewUnavailable) {
				return newRejected(ReasonCrewNotAvailable)
			}
			return err
		}

		assignment = candidate
		return nil
	})
	recordOperation("dispatch", err)
	if err != nil {
		return nil, fmt.Errorf("dispatch crew: %w", err)
	}

	ctxlog.FromContext(ctx).Info("crew dispatched",
		"incident_id", incidentID,
		"crew_id", crewID,
	)
	return assignment, nil
}

// Resolve closes an assigned incident and frees its crew.
func (e *Engine) Resolve(ctx context.Context, incidentID string) (*domain.Incident, error) {
	var resolved *domain.Incident

	err := e.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		incident, assignment, err := e.lockAssigned(ctx, tx, incidentID)
		if err != nil {
			return err
		}

		at := e.timestamp()
		if _, err := tx.CrewForUpdate(ctx, assignment.CrewID); err != nil {
			return err
		}
		resolved, err = incidents.TransitionTx(ctx, tx, incident.ID, domain.IncidentStatusResolved, at)
		if err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, incidentID); err != nil {
			return err
		}
		_, err = crews.MarkAvailable(ctx, tx, assignment.CrewID)
		return err
	})
	recordOperation("resolve", err)
	if err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}

	ctxlog.FromContext(ctx).Info("incident resolved", "incident_id", incidentID)
	return resolved, nil
}

// CancelAssignment reopens an assigned incident and frees its crew.
func (e *Engine) CancelAssignment(ctx context.Context, incidentID string) (*domain.Incident, error) {
	var reopened *domain.Incident

	err := e.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, assignment, err := e.lockAssigned(ctx, tx, incidentID)
		if err != nil {
			return err
		}

		if _, err := tx.CrewForUpdate(ctx, assignment.CrewID); err != nil {
			return err
		}
		reopened, err = incidents.ReopenTx(ctx, tx, incidentID, e.timestamp())
		if err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, incidentID); err != nil {
			return err
		}
		_, err = crews.MarkAvailable(ctx, tx, assignment.CrewID)
		return err
	})
	recordOperation("cancel", err)
	if err != nil {
		return nil, fmt.Errorf("cancel assignment: %w", err)
	}

	ctxlog.FromContext(ctx).Info("assignment cancelled", "incident_id", incidentID)
	return reopened, nil
}

// Assignment returns the active assignment for an incident, or nil.
func (e *Engine) Assignment(ctx context.Context, incidentID string) (*domain.Assignment, error) {
	a, err := e.repo.GetAssignment(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// Assignments lists all active assignments.
func (e *Engine) Assignments(ctx context.Context) ([]*domain.Assignment, error) {
	list, err := e.repo.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return list, nil
}

// lockAssigned locks the incident and returns its active assignment.
func (e *Engine) lockAssigned(ctx context.Context, tx storage.Tx, incidentID string) (*domain.Incident, *domain.Assignment, error) {
	incident, err := tx.IncidentForUpdate(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	assignment, err := tx.AssignmentForIncident(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if assignment == nil || incident.Status != domain.IncidentStatusAssigned {
		return nil, nil, ErrNoActiveAssignment
	}
	return incident, assignment, nil
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func mapConflict(err error) error {
	switch {
	case errors.Is(err, storage.ErrIncidentAlreadyAssigned):
		return newRejected(ReasonIncidentNotOpen)
	case errors.Is(err, storage.ErrCrewAlreadyAssigned):
		return newRejected(ReasonCrewNotAvailable)
	}
	return err
}
