package postgres

import (
	"context"

	"github.com/bissquit/wastewatch/internal/domain"
	pgutil "github.com/bissquit/wastewatch/internal/pkg/postgres"
	"github.com/bissquit/wastewatch/internal/storage"
)

const (
	constraintIncidentPK       = "incidents_pkey"
	constraintIncidentAssigned = "assignments_incident_unique"
	constraintCrewAssigned     = "assignments_crew_unique"
)

// tx implements storage.Tx on a pgx transaction. ForUpdate reads take row locks.
type tx struct {
	q querier
}

func (t *tx) IncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return getIncident(ctx, t.q, id, true)
}

func (t *tx) InsertIncident(ctx context.Context, inc *domain.Incident) error {
	detection, err := encodeDetection(inc.Detection)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO incidents (
			id, lat, lng, type, description, severity, status,
			contractor_id, detection, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = t.q.Exec(ctx, query,
		inc.ID,
		inc.Location.Lat,
		inc.Location.Lng,
		inc.Type,
		inc.Description,
		inc.Severity,
		inc.Status,
		inc.ContractorID,
		detection,
		inc.CreatedAt,
		inc.UpdatedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		if constraint, ok := pgutil.UniqueViolation(err); ok && constraint == constraintIncidentPK {
			return storage.ErrDuplicateIncident
		}
		return wrapErr("insert incident", err)
	}
	return nil
}

func (t *tx) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	detection, err := encodeDetection(inc.Detection)
	if err != nil {
		return err
	}

	query := `
		UPDATE incidents
		SET type = $2, description = $3, severity = $4, status = $5,
			contractor_id = $6, detection = $7, updated_at = $8, resolved_at = $9
		WHERE id = $1
	`
	tag, err := t.q.Exec(ctx, query,
		inc.ID,
		inc.Type,
		inc.Description,
		inc.Severity,
		inc.Status,
		inc.ContractorID,
		detection,
		inc.UpdatedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		return wrapErr("update incident", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIncidentNotFound
	}
	return nil
}

func (t *tx) CrewForUpdate(ctx context.Context, id string) (*domain.Crew, error) {
	return getCrew(ctx, t.q, id, true)
}

func (t *tx) InsertCrew(ctx context.Context, crew *domain.Crew) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO crews (id, name, location, status, registered_at)
		VALUES ($1, $2, $3, $4, $5)
	`, crew.ID, crew.Name, crew.Location, crew.Status, crew.RegisteredAt)
	if err != nil {
		return wrapErr("insert crew", err)
	}
	return nil
}

func (t *tx) UpdateCrew(ctx context.Context, crew *domain.Crew) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE crews SET name = $2, location = $3, status = $4
		WHERE id = $1
	`, crew.ID, crew.Name, crew.Location, crew.Status)
	if err != nil {
		return wrapErr("update crew", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCrewNotFound
	}
	return nil
}

func (t *tx) AssignmentForIncident(ctx context.Context, incidentID string) (*domain.Assignment, error) {
	return getAssignment(ctx, t.q, "incident_id", incidentID, true)
}

func (t *tx) AssignmentForCrew(ctx context.Context, crewID string) (*domain.Assignment, error) {
	return getAssignment(ctx, t.q, "crew_id", crewID, true)
}

func (t *tx) InsertAssignment(ctx context.Context, a *domain.Assignment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO assignments (incident_id, crew_id, created_at)
		VALUES ($1, $2, $3)
	`, a.IncidentID, a.CrewID, a.CreatedAt)
	if err != nil {
		if constraint, ok := pgutil.UniqueViolation(err); ok {
			switch constraint {
			case constraintIncidentAssigned:
				return storage.ErrIncidentAlreadyAssigned
			case constraintCrewAssigned:
				return storage.ErrCrewAlreadyAssigned
			}
		}
		return wrapErr("insert assignment", err)
	}
	return nil
}

func (t *tx) DeleteAssignment(ctx context.Context, incidentID string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM assignments WHERE incident_id = $1`, incidentID); err != nil {
		return wrapErr("delete assignment", err)
	}
	return nil
}

func (t *tx) ContractorForUpdate(ctx context.Context, id string) (*domain.Contractor, error) {
	return getContractor(ctx, t.q, id, true)
}

func (t *tx) InsertContractor(ctx context.Context, c *domain.Contractor) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO contractors (
			id, name, license_type, current_waste, waste_limit, credit_score,
			status, tags, fines_total, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID,
		c.Name,
		c.LicenseType,
		c.CurrentWaste,
		c.WasteLimit,
		c.CreditScore,
		c.Status,
		c.Tags,
		c.FinesTotal,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return wrapErr("insert contractor", err)
	}

	for _, rec := range c.History {
		if err := t.AppendHistory(ctx, c.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) UpdateContractor(ctx context.Context, c *domain.Contractor) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE contractors
		SET name = $2, license_type = $3, current_waste = $4, waste_limit = $5,
			credit_score = $6, status = $7, tags = $8, fines_total = $9, updated_at = $10
		WHERE id = $1
	`,
		c.ID,
		c.Name,
		c.LicenseType,
		c.CurrentWaste,
		c.WasteLimit,
		c.CreditScore,
		c.Status,
		c.Tags,
		c.FinesTotal,
		c.UpdatedAt,
	)
	if err != nil {
		return wrapErr("update contractor", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrContractorNotFound
	}
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, contractorID string, rec domain.HistoryRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO contractor_history (contractor_id, date, disposal_type, amount_kg, legality)
		VALUES ($1, $2, $3, $4, $5)
	`, contractorID, rec.Date, rec.DisposalType, rec.AmountKg, rec.Legality)
	if err != nil {
		return wrapErr("append history", err)
	}
	return nil
}

func (t *tx) InsertFine(ctx context.Context, f *domain.Fine) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO fines (id, contractor_id, amount, reason, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.ContractorID, f.Amount, f.Reason, f.IssuedAt)
	if err != nil {
		return wrapErr("insert fine", err)
	}
	return nil
}

var _ storage.Tx = (*tx)(nil)
