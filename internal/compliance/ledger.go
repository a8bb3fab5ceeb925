// Package compliance keeps per-contractor waste usage, credit and fines.
package compliance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/bissquit/wastewatch/internal/storage"
	"github.com/google/uuid"
)

// Config holds prediction weights.
type Config struct {
	UsageWeight  float64
	CreditWeight float64
}

// DefaultConfig returns the standard prediction weights.
func DefaultConfig() Config {
	return Config{
		UsageWeight:  0.6,
		CreditWeight: 0.4,
	}
}

// Input contains the data needed to onboard a contractor.
type Input struct {
	Name         string
	LicenseType  string
	WasteLimit   float64
	CurrentWaste float64
	CreditScore  int
}

// Usage is a disposal to record against a contractor.
type Usage struct {
	AmountKg     float64
	DisposalType string
	Legality     domain.Legality
	Date         time.Time
}

// Ledger implements compliance business logic.
type Ledger struct {
	repo   Repository
	config Config
	now    func() time.Time
}

// NewLedger creates a new compliance ledger.
func NewLedger(repo Repository, config Config) *Ledger {
	if config.UsageWeight < 0 || config.CreditWeight < 0 || config.UsageWeight+config.CreditWeight == 0 {
		config = DefaultConfig()
	}
	return &Ledger{
		repo:   repo,
		config: config,
		now:    time.Now,
	}
}

// Onboard registers a contractor.
func (l *Ledger) Onboard(ctx context.Context, input Input) (*domain.Contractor, error) {
	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !isFinite(input.WasteLimit) || input.WasteLimit <= 0:
		return nil, fmt.Errorf("%w: waste limit must be positive", ErrInvalidInput)
	case !isFinite(input.CurrentWaste) || input.CurrentWaste < 0:
		return nil, fmt.Errorf("%w: current waste must be non-negative", ErrInvalidInput)
	case input.CreditScore < domain.MinCreditScore || input.CreditScore > domain.MaxCreditScore:
		return nil, fmt.Errorf("%w: credit score must be within [0, 5]", ErrInvalidInput)
	}

	now := l.timestamp()
	contractor := &domain.Contractor{
		ID:           uuid.New().String(),
		Name:         name,
		LicenseType:  strings.TrimSpace(input.LicenseType),
		CurrentWaste: input.CurrentWaste,
		WasteLimit:   input.WasteLimit,
		CreditScore:  input.CreditScore,
		History:      []domain.HistoryRecord{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	contractor.Recompute()

	err := l.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertContractor(ctx, contractor)
	})
	if err != nil {
		return nil, fmt.Errorf("onboard contractor: %w", err)
	}

	return contractor, nil
}

// Get returns a contractor with its history.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Contractor, error) {
	contractor, err := l.repo.GetContractor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get contractor: %w", err)
	}
	return contractor, nil
}

// List returns all contractors.
func (l *Ledger) List(ctx context.Context) ([]*domain.Contractor, error) {
	list, err := l.repo.ListContractors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contractors: %w", err)
	}
	return list, nil
}

// Fines returns fines issued to a contractor.
func (l *Ledger) Fines(ctx context.Context, contractorID string) ([]*domain.Fine, error) {
	fines, err := l.repo.ListFines(ctx, contractorID)
	if err != nil {
		return nil, fmt.Errorf("list fines: %w", err)
	}
	return fines, nil
}

// RecordUsage appends a disposal record and updates the running total.
func (l *Ledger) RecordUsage(ctx context.Context, contractorID string, usage Usage) (*domain.Contractor, error) {
	if !isFinite(usage.AmountKg) || usage.AmountKg < 0 {
		return nil, ErrInvalidAmount
	}
	if usage.Legality == "" {
		usage.Legality = domain.LegalityUnverified
	}
	if !usage.Legality.IsValid() {
		return nil, ErrInvalidLegality
	}
	if usage.Date.IsZero() {
		usage.Date = l.timestamp()
	}

	record := domain.HistoryRecord{
		Date:         usage.Date.UTC(),
		DisposalType: usage.DisposalType,
		AmountKg:     usage.AmountKg,
		Legality:     usage.Legality,
	}

	contractor, err := l.mutate(ctx, contractorID, func(ctx context.Context, tx storage.Tx, c *domain.Contractor) error {
		c.CurrentWaste += usage.AmountKg
		if err := tx.AppendHistory(ctx, c.ID, record); err != nil {
			return err
		}
		c.History = append(c.History, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	return contractor, nil
}

// IssueFine records a fine. Fines are advisory: a compliant contractor can
// still be fined, which is only logged.
func (l *Ledger) IssueFine(ctx context.Context, contractorID string, amount float64, reason string) (*domain.Fine, error) {
	if !isFinite(amount) || amount <= 0 {
		return nil, ErrInvalidAmount
	}

	fine := &domain.Fine{
		ID:           uuid.New().String(),
		ContractorID: contractorID,
		Amount:       amount,
		Reason:       strings.TrimSpace(reason),
		IssuedAt:     l.timestamp(),
	}

	contractor, err := l.mutate(ctx, contractorID, func(ctx context.Context, tx storage.Tx, c *domain.Contractor) error {
		c.FinesTotal += amount
		return tx.InsertFine(ctx, fine)
	})
	if err != nil {
		return nil, fmt.Errorf("issue fine: %w", err)
	}

	if contractor.Status == domain.ContractorStatusCompliant {
		ctxlog.FromContext(ctx).Info("fine issued to compliant contractor",
			"contractor_id", contractorID,
			"amount", amount,
		)
	}

	return fine, nil
}

// AdjustCreditScore adds delta to the credit score, clamped to [0, 5].
func (l *Ledger) AdjustCreditScore(ctx context.Context, contractorID string, delta int) (*domain.Contractor, error) {
	contractor, err := l.mutate(ctx, contractorID, func(_ context.Context, _ storage.Tx, c *domain.Contractor) error {
		c.CreditScore = domain.ClampCreditScore(c.CreditScore + delta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust credit score: %w", err)
	}

	return contractor, nil
}

// PredictCompliance returns the predicted compliance percentage in [0, 100].
// It is derived from current figures on every call.
func (l *Ledger) PredictCompliance(ctx context.Context, contractorID string) (float64, error) {
	contractor, err := l.repo.GetContractor(ctx, contractorID)
	if err != nil {
		return 0, fmt.Errorf("predict compliance: %w", err)
	}
	return l.Predict(contractor), nil
}

// Predict computes the weighted compliance score of a contractor.
func (l *Ledger) Predict(c *domain.Contractor) float64 {
	usageRatio := 1.0
	if c.WasteLimit > 0 {
		usageRatio = math.Min(c.CurrentWaste/c.WasteLimit, 1)
	}
	usageScore := (1 - usageRatio) * 100
	creditScore := float64(domain.ClampCreditScore(c.CreditScore)) / domain.MaxCreditScore * 100

	weighted := (l.config.UsageWeight*usageScore + l.config.CreditWeight*creditScore) /
		(l.config.UsageWeight + l.config.CreditWeight)

	return math.Max(0, math.Min(100, math.Round(weighted*10)/10))
}

// mutate loads a contractor for update, applies fn, recomputes the derived
// status and persists the result in one unit of work.
func (l *Ledger) mutate(
	ctx context.Context,
	contractorID string,
	fn func(ctx context.Context, tx storage.Tx, c *domain.Contractor) error,
) (*domain.Contractor, error) {
	var result *domain.Contractor
	err := l.repo.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		contractor, err := tx.ContractorForUpdate(ctx, contractorID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, contractor); err != nil {
			return err
		}

		contractor.UpdatedAt = l.timestamp()
		contractor.Recompute()
		if err := tx.UpdateContractor(ctx, contractor); err != nil {
			return err
		}
		result = contractor
		return nil
	})
	return result, err
}

func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
