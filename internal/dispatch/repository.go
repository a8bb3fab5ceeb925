package dispatch

import (
	"context"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
)

// Repository defines the data access interface for assignments.
type Repository interface {
	storage.Runner
	GetAssignment(ctx context.Context, incidentID string) (*domain.Assignment, error)
	ListAssignments(ctx context.Context) ([]*domain.Assignment, error)
}
