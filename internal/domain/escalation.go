package domain

import "time"

// Escalation reasons.
const (
	EscalationReasonHighSeverity      = "high_severity"
	EscalationReasonContractorWarning = "contractor_warning"
)

// Escalation is a notice that an incident needs attention beyond normal dispatch.
type Escalation struct {
	ID           string    `json:"id"`
	IncidentID   string    `json:"incident_id"`
	IncidentType string    `json:"incident_type"`
	ContractorID *string   `json:"contractor_id,omitempty"`
	Severity     Severity  `json:"severity"`
	Reasons      []string  `json:"reasons"`
	Location     Location  `json:"location"`
	CreatedAt    time.Time `json:"created_at"`
}
