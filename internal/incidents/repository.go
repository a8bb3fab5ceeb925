package incidents

import (
	"context"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
)

// Repository defines the data access interface for incidents.
type Repository interface {
	storage.Runner
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter storage.IncidentFilter) ([]*domain.Incident, error)
	IncidentStats(ctx context.Context) (domain.IncidentStats, error)
}
