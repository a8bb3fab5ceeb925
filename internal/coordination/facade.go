// Package coordination composes the incident, crew, dispatch, compliance and
// vision components into the operations exposed over HTTP.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/wastewatch/internal/compliance"
	"github.com/bissquit/wastewatch/internal/crews"
	"github.com/bissquit/wastewatch/internal/dispatch"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/incidents"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/bissquit/wastewatch/internal/pkg/metrics"
	"github.com/bissquit/wastewatch/internal/vision"
	"github.com/google/uuid"
)

// Escalator hands incidents that need attention to the escalation pipeline.
type Escalator interface {
	Escalate(ctx context.Context, incident *domain.Incident, reasons []string) (*domain.Escalation, error)
}

// Deps are the components a Service coordinates. Escalator may be nil.
type Deps struct {
	Incidents *incidents.Service
	Crews     *crews.Registry
	Ledger    *compliance.Ledger
	Dispatch  *dispatch.Engine
	Analyzer  *vision.Analyzer
	Adapter   *vision.Adapter
	Policy    *vision.SeverityPolicy
	Escalator Escalator
	Retry     RetryConfig
}

// Service is the single entry point for external callers.
type Service struct {
	incidents *incidents.Service
	crews     *crews.Registry
	ledger    *compliance.Ledger
	dispatch  *dispatch.Engine
	analyzer  *vision.Analyzer
	adapter   *vision.Adapter
	policy    *vision.SeverityPolicy
	escalator Escalator
	retry     RetryConfig
	now       func() time.Time
}

// NewService creates a coordination service.
func NewService(deps Deps) *Service {
	return &Service{
		incidents: deps.Incidents,
		crews:     deps.Crews,
		ledger:    deps.Ledger,
		dispatch:  deps.Dispatch,
		analyzer:  deps.Analyzer,
		adapter:   deps.Adapter,
		policy:    deps.Policy,
		escalator: deps.Escalator,
		retry:     deps.Retry.withDefaults(),
		now:       time.Now,
	}
}

// IngestInput is a raw model reading plus the report context.
type IngestInput struct {
	Reading      vision.RawReading
	Location     domain.Location
	Type         string
	Description  string
	ContractorID *string
}

// SubmitInput is an image to run through the detector before ingestion.
type SubmitInput struct {
	Image        []byte
	Filename     string
	Location     domain.Location
	Type         string
	Description  string
	ContractorID *string
}

// IngestResult reports how far an ingestion got. Once IncidentCreated is
// true the incident is kept even if later steps failed.
type IngestResult struct {
	Incident           *domain.Incident   `json:"incident"`
	IncidentCreated    bool               `json:"incident_created"`
	DetectionAttached  bool               `json:"detection_attached"`
	DetectionError     string             `json:"detection_error,omitempty"`
	ComplianceRecorded bool               `json:"compliance_recorded"`
	ComplianceError    string             `json:"compliance_error,omitempty"`
	Escalated          bool               `json:"escalated"`
	Escalation         *domain.Escalation `json:"escalation,omitempty"`
	ProcessedImage     string             `json:"processed_image,omitempty"`
}

// Complete reports whether every requested step succeeded.
func (r *IngestResult) Complete() bool {
	return r.IncidentCreated && r.DetectionAttached && r.ComplianceError == ""
}

// IngestDetection normalizes a raw reading, opens an incident for it and
// charges the linked contractor. An error is returned only when nothing was stored.
func (s *Service) IngestDetection(ctx context.Context, input IngestInput) (*IngestResult, error) {
	summary, err := s.adapter.Summarize(input.Reading)
	if err != nil {
		recordIngestion(outcomeRejected)
		return nil, fmt.Errorf("ingest detection: %w", err)
	}

	return s.ingest(ctx, ingestion{
		summary:      summary,
		severity:     s.policy.Classify(summary),
		location:     input.Location,
		incidentType: input.Type,
		description:  input.Description,
		contractorID: input.ContractorID,
	})
}

// SubmitDetection runs the external detector on an image and ingests the result.
func (s *Service) SubmitDetection(ctx context.Context, input SubmitInput) (*IngestResult, error) {
	if !input.Location.IsValid() {
		recordIngestion(outcomeRejected)
		return nil, incidents.ErrInvalidLocation
	}

	scan, err := s.analyzer.ScanWaste(ctx, input.Image, input.Filename)
	if err != nil {
		recordIngestion(outcomeRejected)
		return nil, fmt.Errorf("submit detection: %w", err)
	}

	result, err := s.ingest(ctx, ingestion{
		summary:      scan.Summary,
		severity:     scan.Severity,
		location:     input.Location,
		incidentType: input.Type,
		description:  input.Description,
		contractorID: input.ContractorID,
	})
	if err != nil {
		return nil, err
	}
	result.ProcessedImage = scan.ProcessedImage
	return result, nil
}

// AnalyzeTruck estimates the load of a truck image. Nothing is stored.
func (s *Service) AnalyzeTruck(ctx context.Context, image []byte, filename string) (*vision.TruckReport, error) {
	report, err := s.analyzer.AnalyzeTruck(ctx, image, filename)
	if err != nil {
		return nil, fmt.Errorf("analyze truck: %w", err)
	}
	return report, nil
}

type ingestion struct {
	summary      *domain.DetectionSummary
	severity     domain.Severity
	location     domain.Location
	incidentType string
	description  string
	contractorID *string
}

func (s *Service) ingest(ctx context.Context, in ingestion) (*IngestResult, error) {
	if !in.location.IsValid() {
		recordIngestion(outcomeRejected)
		return nil, incidents.ErrInvalidLocation
	}
	logger := ctxlog.FromContext(ctx)

	id := uuid.New().String()
	incident, err := retry(ctx, s.retry, "create incident", func() (*domain.Incident, error) {
		return s.incidents.Create(ctx, incidents.Draft{
			ID:           id,
			Location:     in.location,
			Type:         in.incidentType,
			Description:  in.description,
			Severity:     in.severity,
			ContractorID: in.contractorID,
		})
	})
	if err != nil {
		recordIngestion(outcomeFailed)
		return nil, fmt.Errorf("ingest detection: %w", err)
	}

	result := &IngestResult{
		Incident:        incident,
		IncidentCreated: true,
	}
	logger = logger.With("incident_id", incident.ID)

	attached, err := retry(ctx, s.retry, "attach detection", func() (*domain.Incident, error) {
		return s.incidents.AttachDetection(ctx, incident.ID, in.summary)
	})
	if err != nil {
		logger.Warn("failed to attach detection", "error", err)
		result.DetectionError = err.Error()
	} else {
		result.Incident = attached
		result.DetectionAttached = true
	}

	var reasons []string
	if incident.Severity == domain.SeverityHigh {
		reasons = append(reasons, domain.EscalationReasonHighSeverity)
	}

	if in.contractorID != nil {
		contractor, err := retry(ctx, s.retry, "record usage", func() (*domain.Contractor, error) {
			return s.ledger.RecordUsage(ctx, *in.contractorID, compliance.Usage{
				AmountKg:     in.summary.EstimatedWeight * 1000,
				DisposalType: incident.Type,
				Legality:     domain.LegalityIllegal,
				Date:         s.now(),
			})
		})
		if err != nil {
			logger.Warn("failed to record contractor usage",
				"contractor_id", *in.contractorID,
				"error", err,
			)
			result.ComplianceError = err.Error()
		} else {
			result.ComplianceRecorded = true
			if contractor.Status == domain.ContractorStatusWarning {
				reasons = append(reasons, domain.EscalationReasonContractorWarning)
			}
		}
	}

	if escalation := s.escalate(ctx, result.Incident, reasons); escalation != nil {
		result.Escalated = true
		result.Escalation = escalation
	}

	if result.Complete() {
		recordIngestion(outcomeComplete)
	} else {
		recordIngestion(outcomePartial)
	}

	logger.Info("detection ingested",
		"severity", incident.Severity,
		"detection_attached", result.DetectionAttached,
		"compliance_recorded", result.ComplianceRecorded,
		"escalated", result.Escalated,
	)
	return result, nil
}

// escalate never fails the caller; delivery problems are only logged.
func (s *Service) escalate(ctx context.Context, incident *domain.Incident, reasons []string) *domain.Escalation {
	if len(reasons) == 0 || s.escalator == nil {
		return nil
	}
	for _, reason := range reasons {
		escalationsTriggered.WithLabelValues(reason).Inc()
	}

	escalation, err := s.escalator.Escalate(ctx, incident, reasons)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to escalate incident",
			"incident_id", incident.ID,
			"reasons", reasons,
			"error", err,
		)
		return nil
	}
	return escalation
}

// ReportIncident opens an incident from a manual report.
// High severity reports are escalated like detections.
func (s *Service) ReportIncident(ctx context.Context, draft incidents.Draft) (*domain.Incident, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	incident, err := retry(ctx, s.retry, "create incident", func() (*domain.Incident, error) {
		return s.incidents.Create(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	if incident.Severity == domain.SeverityHigh {
		s.escalate(ctx, incident, []string{domain.EscalationReasonHighSeverity})
	}
	return incident, nil
}

// GetIncidents lists incidents, optionally filtered by status.
func (s *Service) GetIncidents(ctx context.Context, status *domain.IncidentStatus) ([]*domain.Incident, error) {
	return retry(ctx, s.retry, "list incidents", func() ([]*domain.Incident, error) {
		return s.incidents.ListByStatus(ctx, status)
	})
}

// GetIncident returns one incident.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return retry(ctx, s.retry, "get incident", func() (*domain.Incident, error) {
		return s.incidents.Get(ctx, id)
	})
}

// TransitionIncident changes an incident status outside of dispatch.
func (s *Service) TransitionIncident(ctx context.Context, id string, to domain.IncidentStatus) (*domain.Incident, error) {
	return retry(ctx, s.retry, "transition incident", func() (*domain.Incident, error) {
		return s.incidents.Transition(ctx, id, to)
	})
}

// GetStats returns incident totals and refreshes the incident gauges.
func (s *Service) GetStats(ctx context.Context) (domain.IncidentStats, error) {
	stats, err := retry(ctx, s.retry, "incident stats", func() (domain.IncidentStats, error) {
		return s.incidents.Stats(ctx)
	})
	if err != nil {
		return domain.IncidentStats{}, err
	}
	metrics.RecordIncidentStats(stats)
	return stats, nil
}

// Assign dispatches a crew to an incident.
func (s *Service) Assign(ctx context.Context, incidentID, crewID string) (*domain.Assignment, error) {
	return retry(ctx, s.retry, "dispatch crew", func() (*domain.Assignment, error) {
		return s.dispatch.Dispatch(ctx, incidentID, crewID)
	})
}

// Complete resolves an incident and frees its crew.
func (s *Service) Complete(ctx context.Context, incidentID string) (*domain.Incident, error) {
	return retry(ctx, s.retry, "resolve incident", func() (*domain.Incident, error) {
		return s.dispatch.Resolve(ctx, incidentID)
	})
}

// Cancel drops an assignment and reopens its incident.
func (s *Service) Cancel(ctx context.Context, incidentID string) (*domain.Incident, error) {
	return retry(ctx, s.retry, "cancel assignment", func() (*domain.Incident, error) {
		return s.dispatch.CancelAssignment(ctx, incidentID)
	})
}

// Assignments lists active assignments.
func (s *Service) Assignments(ctx context.Context) ([]*domain.Assignment, error) {
	return retry(ctx, s.retry, "list assignments", func() ([]*domain.Assignment, error) {
		return s.dispatch.Assignments(ctx)
	})
}

// GetTeams lists crews. When availableOnly is set only idle crews are returned.
func (s *Service) GetTeams(ctx context.Context, availableOnly bool) ([]*domain.Crew, error) {
	return retry(ctx, s.retry, "list crews", func() ([]*domain.Crew, error) {
		if availableOnly {
			return s.crews.ListAvailable(ctx)
		}
		return s.crews.List(ctx)
	})
}

// RegisterTeam adds a crew.
func (s *Service) RegisterTeam(ctx context.Context, input crews.Input) (*domain.Crew, error) {
	return retry(ctx, s.retry, "register crew", func() (*domain.Crew, error) {
		return s.crews.Register(ctx, input)
	})
}

// GetUsers lists contractors.
func (s *Service) GetUsers(ctx context.Context) ([]*domain.Contractor, error) {
	return retry(ctx, s.retry, "list contractors", func() ([]*domain.Contractor, error) {
		return s.ledger.List(ctx)
	})
}

// GetUser returns one contractor with history.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.Contractor, error) {
	return retry(ctx, s.retry, "get contractor", func() (*domain.Contractor, error) {
		return s.ledger.Get(ctx, id)
	})
}

// OnboardUser registers a contractor.
func (s *Service) OnboardUser(ctx context.Context, input compliance.Input) (*domain.Contractor, error) {
	return retry(ctx, s.retry, "onboard contractor", func() (*domain.Contractor, error) {
		return s.ledger.Onboard(ctx, input)
	})
}

// RecordUsage charges a disposal to a contractor.
func (s *Service) RecordUsage(ctx context.Context, id string, usage compliance.Usage) (*domain.Contractor, error) {
	if usage.Date.IsZero() {
		usage.Date = s.now()
	}
	return retry(ctx, s.retry, "record usage", func() (*domain.Contractor, error) {
		return s.ledger.RecordUsage(ctx, id, usage)
	})
}

// IssueFine fines a contractor.
func (s *Service) IssueFine(ctx context.Context, id string, amount float64, reason string) (*domain.Fine, error) {
	return retry(ctx, s.retry, "issue fine", func() (*domain.Fine, error) {
		return s.ledger.IssueFine(ctx, id, amount, reason)
	})
}

// Fines lists fines issued to a contractor.
func (s *Service) Fines(ctx context.Context, id string) ([]*domain.Fine, error) {
	return retry(ctx, s.retry, "list fines", func() ([]*domain.Fine, error) {
		return s.ledger.Fines(ctx, id)
	})
}

// AdjustCredit shifts a contractor's credit score.
func (s *Service) AdjustCredit(ctx context.Context, id string, delta int) (*domain.Contractor, error) {
	return retry(ctx, s.retry, "adjust credit score", func() (*domain.Contractor, error) {
		return s.ledger.AdjustCreditScore(ctx, id, delta)
	})
}

// CompliancePrediction is the derived compliance view of a contractor.
type CompliancePrediction struct {
	ContractorID string                  `json:"contractor_id"`
	Probability  float64                 `json:"compliance_probability"`
	Status       domain.ContractorStatus `json:"status"`
	Tags         []string                `json:"tags"`
}

// PredictCompliance derives the compliance prediction from current figures.
func (s *Service) PredictCompliance(ctx context.Context, id string) (*CompliancePrediction, error) {
	contractor, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CompliancePrediction{
		ContractorID: contractor.ID,
		Probability:  s.ledger.Predict(contractor),
		Status:       contractor.Status,
		Tags:         contractor.Tags,
	}, nil
}
