package compliance

import (
	"context"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
)

// Repository defines the data access interface for the compliance ledger.
type Repository interface {
	storage.Runner
	GetContractor(ctx context.Context, id string) (*domain.Contractor, error)
	ListContractors(ctx context.Context) ([]*domain.Contractor, error)
	ListFines(ctx context.Context, contractorID string) ([]*domain.Fine, error)
}
