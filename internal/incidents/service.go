// Package incidents owns incident records and their lifecycle.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
	"github.com/google/uuid"
)

// Draft contains the data needed to open an incident.
type Draft struct {
	// ID is generated when empty. Callers that retry Create set it once
	// so a repeated insert finds the incident it already stored.
	ID           string
	Location     domain.Location
	Type         string
	Description  string
	Severity     domain.Severity
	ContractorID *string
}

// Service implements incident business logic.
type Service struct {
	repo Repository
	now  func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewService creates a new incidents service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Create opens a new incident.
func (s *Service) Create(ctx context.Context, draft Draft) (*domain.Incident, error) {
	if !draft.Location.IsValid() {
		return nil, ErrInvalidLocation
	}
	if draft.Severity == "" {
		draft.Severity = domain.SeverityLow
	}
	if !draft.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}

	incidentType := strings.TrimSpace(draft.Type)
	if incidentType == "" {
		incidentType = domain.DefaultIncidentType
	}

	id := draft.ID
	if id == "" {
		id = uuid.New().String()
	}

	createdAt := s.timestamp()
	incident := &domain.Incident{
		ID:           id,
		Location:     draft.Location,
		Type:         incidentType,
		Description:  draft.Description,
		Severity:     draft.Severity,
		Status:       domain.IncidentStatusOpen,
		ContractorID: draft.ContractorID,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}

	err := s.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertIncident(ctx, incident)
	})
	if errors.Is(err, storage.ErrDuplicateIncident) && draft.ID != "" {
		stored, getErr := s.repo.GetIncident(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("create incident: %w", getErr)
		}
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	return incident, nil
}

// Get returns an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListByStatus returns incidents in creation order. A nil status lists all.
func (s *Service) ListByStatus(ctx context.Context, status *domain.IncidentStatus) ([]*domain.Incident, error) {
	if status != nil && !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	list, err := s.repo.ListIncidents(ctx, storage.IncidentFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return list, nil
}

// Stats returns total and pending incident counts.
func (s *Service) Stats(ctx context.Context) (domain.IncidentStats, error) {
	stats, err := s.repo.IncidentStats(ctx)
	if err != nil {
		return domain.IncidentStats{}, fmt.Errorf("incident stats: %w", err)
	}
	return stats, nil
}

// Transition changes an incident's status. Moving into or out of assigned
// involves a crew and is left to dispatch; such requests are illegal here.
func (s *Service) Transition(ctx context.Context, id string, to domain.IncidentStatus) (*domain.Incident, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}

	var result *domain.Incident
	err := s.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.IncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != to && (to == domain.IncidentStatusAssigned || current.Status == domain.IncidentStatusAssigned) {
			return fmt.Errorf("%w: %s -> %s requires dispatch", ErrIllegalTransition, current.Status, to)
		}

		result, err = TransitionTx(ctx, tx, id, to, s.timestamp())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("transition incident: %w", err)
	}

	return result, nil
}

// AttachDetection stores the detection summary on an open incident.
func (s *Service) AttachDetection(ctx context.Context, id string, summary *domain.DetectionSummary) (*domain.Incident, error) {
	if summary == nil {
		return nil, errors.New("attach detection: summary is required")
	}

	var result *domain.Incident
	err := s.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		incident, err := tx.IncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if incident.Status != domain.IncidentStatusOpen {
			return ErrIncidentClosed
		}
		if incident.Detection != nil {
			return ErrDetectionAttached
		}

		incident.Detection = summary.Clone()
		incident.UpdatedAt = s.timestamp()
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return err
		}
		result = incident
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach detection: %w", err)
	}

	return result, nil
}

// TransitionTx applies a table-checked status change inside an existing unit of work.
// A same-state request is a no-op.
func TransitionTx(ctx context.Context, tx storage.Tx, id string, to domain.IncidentStatus, at time.Time) (*domain.Incident, error) {
	incident, err := tx.IncidentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := incident.TransitionTo(to, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return incident, nil
	}

	if err := tx.UpdateIncident(ctx, incident); err != nil {
		return nil, err
	}
	return incident, nil
}

// ReopenTx moves an assigned incident back to open inside an existing unit of work.
func ReopenTx(ctx context.Context, tx storage.Tx, id string, at time.Time) (*domain.Incident, error) {
	incident, err := tx.IncidentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := incident.Reopen(at); err != nil {
		return nil, err
	}
	if err := tx.UpdateIncident(ctx, incident); err != nil {
		return nil, err
	}
	return incident, nil
}

// timestamp returns a strictly increasing creation time at storage precision.
func (s *Service) timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}
