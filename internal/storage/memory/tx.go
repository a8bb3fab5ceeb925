package memory

import (
	"context"
	"fmt"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
)

// tx stages writes until the unit of work completes.
// Base maps are read without the store mutex: only the gate holder mutates them.
type tx struct {
	s *Store

	incidents    map[string]*domain.Incident
	newIncidents []string

	crews    map[string]*domain.Crew
	newCrews []string

	assignments map[string]*domain.Assignment
	removed     map[string]bool

	contractors    map[string]*domain.Contractor
	newContractors []string
	fines          []*domain.Fine
}

var _ storage.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		incidents:   make(map[string]*domain.Incident),
		crews:       make(map[string]*domain.Crew),
		assignments: make(map[string]*domain.Assignment),
		removed:     make(map[string]bool),
		contractors: make(map[string]*domain.Contractor),
	}
}

func (t *tx) lookupIncident(id string) (*domain.Incident, bool) {
	if inc, ok := t.incidents[id]; ok {
		return inc, true
	}
	inc, ok := t.s.incidents[id]
	return inc, ok
}

func (t *tx) IncidentForUpdate(_ context.Context, id string) (*domain.Incident, error) {
	inc, ok := t.lookupIncident(id)
	if !ok {
		return nil, domain.ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

func (t *tx) InsertIncident(_ context.Context, incident *domain.Incident) error {
	if _, ok := t.lookupIncident(incident.ID); ok {
		return fmt.Errorf("insert incident %s: %w", incident.ID, storage.ErrDuplicateIncident)
	}
	t.incidents[incident.ID] = incident.Clone()
	t.newIncidents = append(t.newIncidents, incident.ID)
	return nil
}

func (t *tx) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	if _, ok := t.lookupIncident(incident.ID); !ok {
		return domain.ErrIncidentNotFound
	}
	t.incidents[incident.ID] = incident.Clone()
	return nil
}

func (t *tx) lookupCrew(id string) (*domain.Crew, bool) {
	if crew, ok := t.crews[id]; ok {
		return crew, true
	}
	crew, ok := t.s.crews[id]
	return crew, ok
}

func (t *tx) CrewForUpdate(_ context.Context, id string) (*domain.Crew, error) {
	crew, ok := t.lookupCrew(id)
	if !ok {
		return nil, domain.ErrCrewNotFound
	}
	return crew.Clone(), nil
}

func (t *tx) InsertCrew(_ context.Context, crew *domain.Crew) error {
	if _, ok := t.lookupCrew(crew.ID); ok {
		return fmt.Errorf("insert crew %s: duplicate id", crew.ID)
	}
	t.crews[crew.ID] = crew.Clone()
	t.newCrews = append(t.newCrews, crew.ID)
	return nil
}

func (t *tx) UpdateCrew(_ context.Context, crew *domain.Crew) error {
	if _, ok := t.lookupCrew(crew.ID); !ok {
		return domain.ErrCrewNotFound
	}
	t.crews[crew.ID] = crew.Clone()
	return nil
}

func (t *tx) AssignmentForIncident(_ context.Context, incidentID string) (*domain.Assignment, error) {
	if a, ok := t.assignments[incidentID]; ok {
		cp := *a
		return &cp, nil
	}
	if t.removed[incidentID] {
		return nil, nil
	}
	if a, ok := t.s.assignments[incidentID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (t *tx) AssignmentForCrew(ctx context.Context, crewID string) (*domain.Assignment, error) {
	for _, a := range t.assignments {
		if a.CrewID == crewID {
			cp := *a
			return &cp, nil
		}
	}
	incidentID, ok := t.s.crewAssignments[crewID]
	if !ok || t.removed[incidentID] {
		return nil, nil
	}
	a, err := t.AssignmentForIncident(ctx, incidentID)
	if err != nil || a == nil || a.CrewID != crewID {
		return nil, err
	}
	return a, nil
}

func (t *tx) InsertAssignment(ctx context.Context, assignment *domain.Assignment) error {
	existing, _ := t.AssignmentForIncident(ctx, assignment.IncidentID)
	if existing != nil {
		return storage.ErrIncidentAlreadyAssigned
	}
	existing, _ = t.AssignmentForCrew(ctx, assignment.CrewID)
	if existing != nil {
		return storage.ErrCrewAlreadyAssigned
	}

	cp := *assignment
	t.assignments[assignment.IncidentID] = &cp
	return nil
}

func (t *tx) DeleteAssignment(_ context.Context, incidentID string) error {
	delete(t.assignments, incidentID)
	t.removed[incidentID] = true
	return nil
}

func (t *tx) lookupContractor(id string) (*domain.Contractor, bool) {
	if c, ok := t.contractors[id]; ok {
		return c, true
	}
	c, ok := t.s.contractors[id]
	return c, ok
}

func (t *tx) ContractorForUpdate(_ context.Context, id string) (*domain.Contractor, error) {
	c, ok := t.lookupContractor(id)
	if !ok {
		return nil, domain.ErrContractorNotFound
	}
	return c.Clone(), nil
}

func (t *tx) InsertContractor(_ context.Context, contractor *domain.Contractor) error {
	if _, ok := t.lookupContractor(contractor.ID); ok {
		return fmt.Errorf("insert contractor %s: duplicate id", contractor.ID)
	}
	t.contractors[contractor.ID] = contractor.Clone()
	t.newContractors = append(t.newContractors, contractor.ID)
	return nil
}

func (t *tx) UpdateContractor(_ context.Context, contractor *domain.Contractor) error {
	current, ok := t.lookupContractor(contractor.ID)
	if !ok {
		return domain.ErrContractorNotFound
	}
	staged := contractor.Clone()
	staged.History = append([]domain.HistoryRecord(nil), current.History...)
	t.contractors[contractor.ID] = staged
	return nil
}

func (t *tx) AppendHistory(_ context.Context, contractorID string, record domain.HistoryRecord) error {
	current, ok := t.lookupContractor(contractorID)
	if !ok {
		return domain.ErrContractorNotFound
	}
	staged := current.Clone()
	staged.History = append(staged.History, record)
	t.contractors[contractorID] = staged
	return nil
}

func (t *tx) InsertFine(_ context.Context, fine *domain.Fine) error {
	if _, ok := t.lookupContractor(fine.ContractorID); !ok {
		return domain.ErrContractorNotFound
	}
	cp := *fine
	t.fines = append(t.fines, &cp)
	return nil
}

// apply publishes staged writes. Caller holds the store write lock.
func (t *tx) apply() {
	s := t.s

	for id, inc := range t.incidents {
		s.incidents[id] = inc
	}
	s.incidentOrder = append(s.incidentOrder, t.newIncidents...)

	for id, crew := range t.crews {
		s.crews[id] = crew
	}
	s.crewOrder = append(s.crewOrder, t.newCrews...)

	for incidentID := range t.removed {
		if a, ok := s.assignments[incidentID]; ok {
			delete(s.crewAssignments, a.CrewID)
			delete(s.assignments, incidentID)
		}
	}
	for incidentID, a := range t.assignments {
		s.assignments[incidentID] = a
		s.crewAssignments[a.CrewID] = incidentID
	}

	for id, c := range t.contractors {
		s.contractors[id] = c
	}
	s.contractorOrder = append(s.contractorOrder, t.newContractors...)

	for _, f := range t.fines {
		s.fines[f.ContractorID] = append(s.fines[f.ContractorID], f)
	}
}
