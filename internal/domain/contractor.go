package domain

import "time"

// Compliance thresholds. A contractor is in warning when usage exceeds
// WarningUsageRatio of its limit or its credit score is at or below WarningCreditScore.
const (
	WarningUsageRatio  = 0.8
	WarningCreditScore = 2
	MinCreditScore     = 0
	MaxCreditScore     = 5
)

// ContractorStatus is the derived compliance state of a contractor.
type ContractorStatus string

// Contractor statuses.
const (
	ContractorStatusCompliant ContractorStatus = "compliant"
	ContractorStatusWarning   ContractorStatus = "warning"
)

// Legality tags a disposal record.
type Legality string

// Legality tags.
const (
	LegalityLegal      Legality = "legal"
	LegalityIllegal    Legality = "illegal"
	LegalityUnverified Legality = "unverified"
)

// IsValid checks if the tag is known.
func (l Legality) IsValid() bool {
	switch l {
	case LegalityLegal, LegalityIllegal, LegalityUnverified:
		return true
	}
	return false
}

// Contractor tags shown alongside compliance status.
const (
	TagHighRisk  = "High Risk"
	TagOverLimit = "Over Limit"
	TagLowCredit = "Low Credit"
	TagCompliant = "Compliant"
)

// HistoryRecord is one disposal entry in a contractor's ledger.
type HistoryRecord struct {
	Date         time.Time `json:"date"`
	DisposalType string    `json:"disposal_type"`
	AmountKg     float64   `json:"amount_kg"`
	Legality     Legality  `json:"legality"`
}

// Contractor is a licensed waste producer or hauler tracked by the ledger.
type Contractor struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	LicenseType  string           `json:"license_type"`
	CurrentWaste float64          `json:"current_waste"`
	WasteLimit   float64          `json:"waste_limit"`
	CreditScore  int              `json:"credit_score"`
	Status       ContractorStatus `json:"status"`
	Tags         []string         `json:"tags"`
	FinesTotal   float64          `json:"fines_total"`
	History      []HistoryRecord  `json:"history"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Recompute derives Status and Tags from the current figures.
// It must run after every mutation and after loading from storage.
func (c *Contractor) Recompute() {
	overThreshold := c.CurrentWaste > WarningUsageRatio*c.WasteLimit
	lowCredit := c.CreditScore <= WarningCreditScore

	tags := make([]string, 0, 3)
	if overThreshold || lowCredit {
		c.Status = ContractorStatusWarning
		tags = append(tags, TagHighRisk)
	} else {
		c.Status = ContractorStatusCompliant
		tags = append(tags, TagCompliant)
	}
	if c.CurrentWaste > c.WasteLimit {
		tags = append(tags, TagOverLimit)
	}
	if lowCredit {
		tags = append(tags, TagLowCredit)
	}
	c.Tags = tags
}

// ClampCreditScore bounds a score to the allowed range.
func ClampCreditScore(score int) int {
	return min(MaxCreditScore, max(MinCreditScore, score))
}

// Clone returns a deep copy of the contractor.
func (c *Contractor) Clone() *Contractor {
	cp := *c
	cp.Tags = append(make([]string, 0, len(c.Tags)), c.Tags...)
	cp.History = append(make([]HistoryRecord, 0, len(c.History)), c.History...)
	return &cp
}

// Fine is a monetary penalty recorded against a contractor.
type Fine struct {
	ID           string    `json:"id"`
	ContractorID string    `json:"contractor_id"`
	Amount       float64   `json:"amount"`
	Reason       string    `json:"reason"`
	IssuedAt     time.Time `json:"issued_at"`
}
