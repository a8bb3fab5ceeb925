package domain

import "time"

// CrewStatus represents crew availability.
type CrewStatus string

// Crew statuses.
const (
	CrewStatusAvailable  CrewStatus = "available"
	CrewStatusDispatched CrewStatus = "dispatched"
)

// IsValid checks if the status is a known crew status.
func (s CrewStatus) IsValid() bool {
	return s == CrewStatusAvailable || s == CrewStatusDispatched
}

// Crew is a field team that can be sent to incidents.
type Crew struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Location     string     `json:"location"`
	Status       CrewStatus `json:"status"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Clone returns a copy of the crew.
func (c *Crew) Clone() *Crew {
	cp := *c
	return &cp
}

// Assignment links one assigned incident to one dispatched crew.
type Assignment struct {
	IncidentID string    `json:"incident_id"`
	CrewID     string    `json:"crew_id"`
	CreatedAt  time.Time `json:"created_at"`
}
