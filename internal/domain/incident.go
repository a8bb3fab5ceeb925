package domain

import (
	"math"
	"time"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusAssigned IncidentStatus = "assigned"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// IsValid checks if the status is a known incident status.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusAssigned, IncidentStatusResolved:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward transition.
// Assigned -> Open is not part of the table: only cancelling an assignment reopens an incident.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	switch s {
	case IncidentStatusOpen:
		return next == IncidentStatusAssigned || next == IncidentStatusResolved
	case IncidentStatusAssigned:
		return next == IncidentStatusResolved
	}
	return false
}

// IsPending reports whether the incident still needs work.
func (s IncidentStatus) IsPending() bool {
	return s != IncidentStatusResolved
}

// Severity represents the urgency of an incident.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid checks that both coordinates are finite and within range.
func (l Location) IsValid() bool {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || math.IsNaN(l.Lng) || math.IsInf(l.Lng, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// DefaultIncidentType is used when a report carries no category.
const DefaultIncidentType = "Illegal Dumping"

// Incident is a reported waste event at a location.
type Incident struct {
	ID           string            `json:"id"`
	Location     Location          `json:"location"`
	Type         string            `json:"type"`
	Description  string            `json:"description,omitempty"`
	Severity     Severity          `json:"severity"`
	Status       IncidentStatus    `json:"status"`
	ContractorID *string           `json:"contractor_id,omitempty"`
	Detection    *DetectionSummary `json:"detection,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
}

// TransitionTo moves the incident to next if the table allows it.
// Returns false when next equals the current status.
func (i *Incident) TransitionTo(next IncidentStatus, at time.Time) (bool, error) {
	if i.Status == next {
		return false, nil
	}
	if !i.Status.CanTransitionTo(next) {
		return false, &TransitionError{From: i.Status, To: next}
	}
	i.Status = next
	i.UpdatedAt = at
	if next == IncidentStatusResolved {
		resolvedAt := at
		i.ResolvedAt = &resolvedAt
	}
	return true, nil
}

// Reopen moves an assigned incident back to open.
func (i *Incident) Reopen(at time.Time) error {
	if i.Status != IncidentStatusAssigned {
		return &TransitionError{From: i.Status, To: IncidentStatusOpen}
	}
	i.Status = IncidentStatusOpen
	i.UpdatedAt = at
	return nil
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	c := *i
	if i.ContractorID != nil {
		id := *i.ContractorID
		c.ContractorID = &id
	}
	if i.ResolvedAt != nil {
		at := *i.ResolvedAt
		c.ResolvedAt = &at
	}
	if i.Detection != nil {
		c.Detection = i.Detection.Clone()
	}
	return &c
}

// IncidentStats aggregates incident counts.
type IncidentStats struct {
	TotalIncidents int `json:"total_incidents"`
	PendingCases   int `json:"pending_cases"`
}
