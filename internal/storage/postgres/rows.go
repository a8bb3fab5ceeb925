package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

const (
	incidentColumns = `id, lat, lng, type, description, severity, status,
		contractor_id, detection, created_at, updated_at, resolved_at`
	crewColumns       = `id, name, location, status, registered_at`
	contractorColumns = `id, name, license_type, current_waste, waste_limit, credit_score,
		fines_total, created_at, updated_at`
)

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	var detection []byte
	err := row.Scan(
		&inc.ID,
		&inc.Location.Lat,
		&inc.Location.Lng,
		&inc.Type,
		&inc.Description,
		&inc.Severity,
		&inc.Status,
		&inc.ContractorID,
		&detection,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if detection != nil {
		var summary domain.DetectionSummary
		if err := json.Unmarshal(detection, &summary); err != nil {
			return nil, fmt.Errorf("decode detection: %w", err)
		}
		inc.Detection = &summary
	}

	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	if inc.ResolvedAt != nil {
		at := inc.ResolvedAt.UTC()
		inc.ResolvedAt = &at
	}
	return &inc, nil
}

func encodeDetection(summary *domain.DetectionSummary) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode detection: %w", err)
	}
	return raw, nil
}

func getIncident(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1` + lockClause(forUpdate)
	inc, err := scanIncident(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIncidentNotFound
		}
		return nil, wrapErr("get incident", err)
	}
	return inc, nil
}

func scanCrew(row pgx.Row) (*domain.Crew, error) {
	var crew domain.Crew
	if err := row.Scan(&crew.ID, &crew.Name, &crew.Location, &crew.Status, &crew.RegisteredAt); err != nil {
		return nil, err
	}
	crew.RegisteredAt = crew.RegisteredAt.UTC()
	return &crew, nil
}

func getCrew(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Crew, error) {
	query := `SELECT ` + crewColumns + ` FROM crews WHERE id = $1` + lockClause(forUpdate)
	crew, err := scanCrew(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCrewNotFound
		}
		return nil, wrapErr("get crew", err)
	}
	return crew, nil
}

// getAssignment looks an assignment up by column, which is incident_id or crew_id.
func getAssignment(ctx context.Context, q querier, column, id string, forUpdate bool) (*domain.Assignment, error) {
	query := `SELECT incident_id, crew_id, created_at FROM assignments WHERE ` + column + ` = $1` + lockClause(forUpdate)

	var a domain.Assignment
	err := q.QueryRow(ctx, query, id).Scan(&a.IncidentID, &a.CrewID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get assignment", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func scanContractor(row pgx.Row) (*domain.Contractor, error) {
	var c domain.Contractor
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.LicenseType,
		&c.CurrentWaste,
		&c.WasteLimit,
		&c.CreditScore,
		&c.FinesTotal,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.History = []domain.HistoryRecord{}
	return &c, nil
}

func getContractor(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Contractor, error) {
	query := `SELECT ` + contractorColumns + ` FROM contractors WHERE id = $1` + lockClause(forUpdate)
	c, err := scanContractor(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContractorNotFound
		}
		return nil, wrapErr("get contractor", err)
	}

	rows, err := q.Query(ctx, `
		SELECT date, disposal_type, amount_kg, legality
		FROM contractor_history
		WHERE contractor_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, wrapErr("get contractor history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.HistoryRecord
		if err := rows.Scan(&rec.Date, &rec.DisposalType, &rec.AmountKg, &rec.Legality); err != nil {
			return nil, wrapErr("scan history record", err)
		}
		rec.Date = rec.Date.UTC()
		c.History = append(c.History, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate contractor history", err)
	}

	c.Recompute()
	return c, nil
}
