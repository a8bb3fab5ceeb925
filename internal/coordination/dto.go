package coordination

import (
	"time"

	"github.com/bissquit/wastewatch/internal/compliance"
	"github.com/bissquit/wastewatch/internal/crews"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/incidents"
	"github.com/bissquit/wastewatch/internal/vision"
)

// LocationRequest is a coordinate pair in a request body.
type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

// ToDomain converts the request to a domain location.
func (l LocationRequest) ToDomain() domain.Location {
	var loc domain.Location
	if l.Lat != nil {
		loc.Lat = *l.Lat
	}
	if l.Lng != nil {
		loc.Lng = *l.Lng
	}
	return loc
}

// ReportIncidentRequest represents the request body for a manual incident report.
type ReportIncidentRequest struct {
	Location     LocationRequest `json:"location"`
	Type         string          `json:"type" validate:"max=255"`
	Description  string          `json:"description" validate:"max=4096"`
	Severity     string          `json:"severity" validate:"omitempty,oneof=low medium high"`
	ContractorID *string         `json:"contractor_id" validate:"omitempty,min=1"`
}

// ToDomain converts the request to an incident draft.
func (r *ReportIncidentRequest) ToDomain() incidents.Draft {
	return incidents.Draft{
		Location:     r.Location.ToDomain(),
		Type:         r.Type,
		Description:  r.Description,
		Severity:     domain.Severity(r.Severity),
		ContractorID: r.ContractorID,
	}
}

// TransitionRequest represents the request body for a status change.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=open assigned resolved"`
}

// AssignRequest represents the request body for dispatching a crew.
type AssignRequest struct {
	CrewID string `json:"crew_id" validate:"required"`
}

// RegisterTeamRequest represents the request body for registering a crew.
type RegisterTeamRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Location string `json:"location" validate:"max=255"`
}

// ToDomain converts the request to registry input.
func (r *RegisterTeamRequest) ToDomain() crews.Input {
	return crews.Input{Name: r.Name, Location: r.Location}
}

// OnboardUserRequest represents the request body for onboarding a contractor.
type OnboardUserRequest struct {
	Name         string   `json:"name" validate:"required,min=1,max=255"`
	LicenseType  string   `json:"license_type" validate:"max=255"`
	WasteLimit   *float64 `json:"waste_limit" validate:"required,gt=0"`
	CurrentWaste float64  `json:"current_waste" validate:"gte=0"`
	CreditScore  *int     `json:"credit_score" validate:"omitempty,gte=0,lte=5"`
}

// DefaultCreditScore is assigned to contractors onboarded without one.
const DefaultCreditScore = 5

// ToDomain converts the request to ledger input.
func (r *OnboardUserRequest) ToDomain() compliance.Input {
	input := compliance.Input{
		Name:         r.Name,
		LicenseType:  r.LicenseType,
		CurrentWaste: r.CurrentWaste,
		CreditScore:  DefaultCreditScore,
	}
	if r.WasteLimit != nil {
		input.WasteLimit = *r.WasteLimit
	}
	if r.CreditScore != nil {
		input.CreditScore = *r.CreditScore
	}
	return input
}

// UsageRequest represents the request body for recording a disposal.
type UsageRequest struct {
	AmountKg     *float64   `json:"amount_kg" validate:"required,gte=0"`
	DisposalType string     `json:"disposal_type" validate:"max=255"`
	Legality     string     `json:"legality" validate:"omitempty,oneof=legal illegal unverified"`
	Date         *time.Time `json:"date"`
}

// ToDomain converts the request to a ledger usage.
func (r *UsageRequest) ToDomain() compliance.Usage {
	usage := compliance.Usage{
		DisposalType: r.DisposalType,
		Legality:     domain.Legality(r.Legality),
	}
	if r.AmountKg != nil {
		usage.AmountKg = *r.AmountKg
	}
	if r.Date != nil {
		usage.Date = *r.Date
	}
	return usage
}

// FineRequest represents the request body for issuing a fine.
type FineRequest struct {
	Amount *float64 `json:"amount" validate:"required,gt=0"`
	Reason string   `json:"reason" validate:"max=1024"`
}

// CreditRequest represents the request body for a credit score adjustment.
type CreditRequest struct {
	Delta *int `json:"delta" validate:"required"`
}

// DetectionRequest is a raw model reading submitted as JSON.
type DetectionRequest struct {
	vision.RawReading
	Location     LocationRequest `json:"location"`
	Type         string          `json:"type" validate:"max=255"`
	Description  string          `json:"description" validate:"max=4096"`
	ContractorID *string         `json:"contractor_id" validate:"omitempty,min=1"`
}

// ToDomain converts the request to ingestion input.
func (r *DetectionRequest) ToDomain() IngestInput {
	return IngestInput{
		Reading:      r.RawReading,
		Location:     r.Location.ToDomain(),
		Type:         r.Type,
		Description:  r.Description,
		ContractorID: r.ContractorID,
	}
}

// detectForm holds the non-file fields of a multipart detection upload.
type detectForm struct {
	Lat          *float64 `validate:"required,latitude"`
	Lng          *float64 `validate:"required,longitude"`
	Type         string   `validate:"max=255"`
	Description  string   `validate:"max=4096"`
	ContractorID *string  `validate:"omitempty,min=1"`
}
