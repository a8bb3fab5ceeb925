// Package memory provides an in-process storage backend.
//
// A single writer gate serializes units of work; writes are staged on the
// transaction and applied only on successful completion, so aborted work
// leaves no trace. Readers take a shared lock and never see staged writes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
	"golang.org/x/sync/semaphore"
)

// Store keeps all records in memory.
type Store struct {
	gate *semaphore.Weighted
	mu   sync.RWMutex

	incidents     map[string]*domain.Incident
	incidentOrder []string

	crews     map[string]*domain.Crew
	crewOrder []string

	assignments     map[string]*domain.Assignment // keyed by incident ID
	crewAssignments map[string]string             // crew ID -> incident ID

	contractors     map[string]*domain.Contractor
	contractorOrder []string
	fines           map[string][]*domain.Fine
}

// New creates an empty store.
func New() *Store {
	return &Store{
		gate:            semaphore.NewWeighted(1),
		incidents:       make(map[string]*domain.Incident),
		crews:           make(map[string]*domain.Crew),
		assignments:     make(map[string]*domain.Assignment),
		crewAssignments: make(map[string]string),
		contractors:     make(map[string]*domain.Contractor),
		fines:           make(map[string][]*domain.Fine),
	}
}

// Atomically runs fn as one unit of work.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer s.gate.Release(1)

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}

	s.mu.Lock()
	tx.apply()
	s.mu.Unlock()

	return nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// GetIncident returns an incident by ID.
func (s *Store) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, domain.ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

// ListIncidents returns incidents in creation order.
func (s *Store) ListIncidents(_ context.Context, filter storage.IncidentFilter) ([]*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Incident, 0, len(s.incidentOrder))
	for _, id := range s.incidentOrder {
		inc := s.incidents[id]
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		result = append(result, inc.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// IncidentStats counts all and pending incidents.
func (s *Store) IncidentStats(_ context.Context) (domain.IncidentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.IncidentStats{TotalIncidents: len(s.incidents)}
	for _, inc := range s.incidents {
		if inc.Status.IsPending() {
			stats.PendingCases++
		}
	}
	return stats, nil
}

// GetCrew returns a crew by ID.
func (s *Store) GetCrew(_ context.Context, id string) (*domain.Crew, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crew, ok := s.crews[id]
	if !ok {
		return nil, domain.ErrCrewNotFound
	}
	return crew.Clone(), nil
}

// ListCrews returns crews in registration order, optionally filtered by status.
func (s *Store) ListCrews(_ context.Context, status *domain.CrewStatus) ([]*domain.Crew, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Crew, 0, len(s.crewOrder))
	for _, id := range s.crewOrder {
		crew := s.crews[id]
		if status != nil && crew.Status != *status {
			continue
		}
		result = append(result, crew.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})

	return result, nil
}

// GetAssignment returns the active assignment for an incident, or nil.
func (s *Store) GetAssignment(_ context.Context, incidentID string) (*domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[incidentID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// ListAssignments returns active assignments, oldest first.
func (s *Store) ListAssignments(_ context.Context) ([]*domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		cp := *a
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].IncidentID < result[j].IncidentID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// GetContractor returns a contractor with its history.
func (s *Store) GetContractor(_ context.Context, id string) (*domain.Contractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contractors[id]
	if !ok {
		return nil, domain.ErrContractorNotFound
	}
	return c.Clone(), nil
}

// ListContractors returns contractors in onboarding order.
func (s *Store) ListContractors(_ context.Context) ([]*domain.Contractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Contractor, 0, len(s.contractorOrder))
	for _, id := range s.contractorOrder {
		result = append(result, s.contractors[id].Clone())
	}
	return result, nil
}

// ListFines returns fines issued to a contractor, oldest first.
func (s *Store) ListFines(_ context.Context, contractorID string) ([]*domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.contractors[contractorID]; !ok {
		return nil, domain.ErrContractorNotFound
	}

	fines := s.fines[contractorID]
	result := make([]*domain.Fine, 0, len(fines))
	for _, f := range fines {
		cp := *f
		result = append(result, &cp)
	}
	return result, nil
}
