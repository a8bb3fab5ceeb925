package crews

import (
	"context"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
)

// Repository defines the data access interface for crews.
type Repository interface {
	storage.Runner
	GetCrew(ctx context.Context, id string) (*domain.Crew, error)
	ListCrews(ctx context.Context, status *domain.CrewStatus) ([]*domain.Crew, error)
}
