// Package crews tracks field crews and their availability.
package crews

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
	"github.com/google/uuid"
)

// Input contains the data needed to register a crew.
type Input struct {
	Name     string
	Location string
}

// Registry implements crew business logic.
type Registry struct {
	repo Repository
	now  func() time.Time
}

// NewRegistry creates a new crew registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo: repo,
		now:  time.Now,
	}
}

// Register adds an available crew.
func (r *Registry) Register(ctx context.Context, input Input) (*domain.Crew, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrInvalidName
	}

	crew := &domain.Crew{
		ID:           uuid.New().String(),
		Name:         name,
		Location:     strings.TrimSpace(input.Location),
		Status:       domain.CrewStatusAvailable,
		RegisteredAt: r.now().UTC().Truncate(time.Microsecond),
	}

	err := r.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertCrew(ctx, crew)
	})
	if err != nil {
		return nil, fmt.Errorf("register crew: %w", err)
	}

	return crew, nil
}

// Get returns a crew by ID.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Crew, error) {
	crew, err := r.repo.GetCrew(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get crew: %w", err)
	}
	return crew, nil
}

// List returns all crews in registration order.
func (r *Registry) List(ctx context.Context) ([]*domain.Crew, error) {
	list, err := r.repo.ListCrews(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list crews: %w", err)
	}
	return list, nil
}

// ListAvailable returns available crews in registration order.
func (r *Registry) ListAvailable(ctx context.Context) ([]*domain.Crew, error) {
	status := domain.CrewStatusAvailable
	list, err := r.repo.ListCrews(ctx, &status)
	if err != nil {
		return nil, fmt.Errorf("list available crews: %w", err)
	}
	return list, nil
}

// MarkDispatched flips an available crew to dispatched inside tx.
func MarkDispatched(ctx context.Context, tx storage.Tx, crewID string) (*domain.Crew, error) {
	crew, err := tx.CrewForUpdate(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if crew.Status != domain.CrewStatusAvailable {
		return nil, ErrCrewUnavailable
	}

	crew.Status = domain.CrewStatusDispatched
	if err := tx.UpdateCrew(ctx, crew); err != nil {
		return nil, err
	}
	return crew, nil
}

// MarkAvailable returns a crew to the available pool inside tx. Idempotent.
func MarkAvailable(ctx context.Context, tx storage.Tx, crewID string) (*domain.Crew, error) {
	crew, err := tx.CrewForUpdate(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if crew.Status == domain.CrewStatusAvailable {
		return crew, nil
	}

	crew.Status = domain.CrewStatusAvailable
	if err := tx.UpdateCrew(ctx, crew); err != nil {
		return nil, err
	}
	return crew, nil
}
