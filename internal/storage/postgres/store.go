// Package postgres provides the PostgreSQL storage backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/wastewatch/internal/domain"
	pgutil "github.com/bissquit/wastewatch/internal/pkg/postgres"
	"github.com/bissquit/wastewatch/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the storage contract on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// New creates a store over an established pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Atomically runs fn inside one database transaction.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer func() {
		if err := pgTx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return wrapErr("ping database", err)
	}
	return nil
}

// GetIncident returns an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return getIncident(ctx, s.db, id, false)
}

// ListIncidents returns incidents ordered by creation time.
func (s *Store) ListIncidents(ctx context.Context, filter storage.IncidentFilter) ([]*domain.Incident, error) {
	var status *string
	if filter.Status != nil {
		v := string(*filter.Status)
		status = &v
	}

	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at, seq`

	rows, err := s.db.Query(ctx, query, status)
	if err != nil {
		return nil, wrapErr("list incidents", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, wrapErr("scan incident", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate incidents", err)
	}
	return incidents, nil
}

// IncidentStats returns total and pending incident counts.
func (s *Store) IncidentStats(ctx context.Context) (domain.IncidentStats, error) {
	query := `
		SELECT count(*), count(*) FILTER (WHERE status <> 'resolved')
		FROM incidents
	`
	var stats domain.IncidentStats
	if err := s.db.QueryRow(ctx, query).Scan(&stats.TotalIncidents, &stats.PendingCases); err != nil {
		return domain.IncidentStats{}, wrapErr("count incidents", err)
	}
	return stats, nil
}

// GetCrew returns a crew by ID.
func (s *Store) GetCrew(ctx context.Context, id string) (*domain.Crew, error) {
	return getCrew(ctx, s.db, id, false)
}

// ListCrews returns crews ordered by registration, optionally filtered by status.
func (s *Store) ListCrews(ctx context.Context, status *domain.CrewStatus) ([]*domain.Crew, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}

	query := `SELECT ` + crewColumns + `
		FROM crews
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY registered_at, seq`

	rows, err := s.db.Query(ctx, query, filter)
	if err != nil {
		return nil, wrapErr("list crews", err)
	}
	defer rows.Close()

	crews := make([]*domain.Crew, 0)
	for rows.Next() {
		crew, err := scanCrew(rows)
		if err != nil {
			return nil, wrapErr("scan crew", err)
		}
		crews = append(crews, crew)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate crews", err)
	}
	return crews, nil
}

// GetAssignment returns the active assignment for an incident, or nil.
func (s *Store) GetAssignment(ctx context.Context, incidentID string) (*domain.Assignment, error) {
	return getAssignment(ctx, s.db, "incident_id", incidentID, false)
}

// ListAssignments returns all active assignments, oldest first.
func (s *Store) ListAssignments(ctx context.Context) ([]*domain.Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT incident_id, crew_id, created_at
		FROM assignments
		ORDER BY created_at, incident_id
	`)
	if err != nil {
		return nil, wrapErr("list assignments", err)
	}
	defer rows.Close()

	assignments := make([]*domain.Assignment, 0)
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.IncidentID, &a.CrewID, &a.CreatedAt); err != nil {
			return nil, wrapErr("scan assignment", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		assignments = append(assignments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate assignments", err)
	}
	return assignments, nil
}

// GetContractor returns a contractor with its history.
func (s *Store) GetContractor(ctx context.Context, id string) (*domain.Contractor, error) {
	return getContractor(ctx, s.db, id, false)
}

// ListContractors returns all contractors with their history, oldest first.
func (s *Store) ListContractors(ctx context.Context) ([]*domain.Contractor, error) {
	rows, err := s.db.Query(ctx, `SELECT `+contractorColumns+` FROM contractors ORDER BY created_at, seq`)
	if err != nil {
		return nil, wrapErr("list contractors", err)
	}
	defer rows.Close()

	contractors := make([]*domain.Contractor, 0)
	byID := make(map[string]*domain.Contractor)
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, wrapErr("scan contractor", err)
		}
		contractors = append(contractors, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate contractors", err)
	}

	history, err := s.db.Query(ctx, `
		SELECT contractor_id, date, disposal_type, amount_kg, legality
		FROM contractor_history
		ORDER BY contractor_id, id
	`)
	if err != nil {
		return nil, wrapErr("list contractor history", err)
	}
	defer history.Close()

	for history.Next() {
		var contractorID string
		var rec domain.HistoryRecord
		if err := history.Scan(&contractorID, &rec.Date, &rec.DisposalType, &rec.AmountKg, &rec.Legality); err != nil {
			return nil, wrapErr("scan history record", err)
		}
		rec.Date = rec.Date.UTC()
		if c, ok := byID[contractorID]; ok {
			c.History = append(c.History, rec)
		}
	}
	if err := history.Err(); err != nil {
		return nil, wrapErr("iterate contractor history", err)
	}

	for _, c := range contractors {
		c.Recompute()
	}
	return contractors, nil
}

// ListFines returns fines issued to a contractor, oldest first.
func (s *Store) ListFines(ctx context.Context, contractorID string) ([]*domain.Fine, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contractors WHERE id = $1)`, contractorID).Scan(&exists); err != nil {
		return nil, wrapErr("check contractor", err)
	}
	if !exists {
		return nil, domain.ErrContractorNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, contractor_id, amount, reason, issued_at
		FROM fines
		WHERE contractor_id = $1
		ORDER BY issued_at, seq
	`, contractorID)
	if err != nil {
		return nil, wrapErr("list fines", err)
	}
	defer rows.Close()

	fines := make([]*domain.Fine, 0)
	for rows.Next() {
		var f domain.Fine
		if err := rows.Scan(&f.ID, &f.ContractorID, &f.Amount, &f.Reason, &f.IssuedAt); err != nil {
			return nil, wrapErr("scan fine", err)
		}
		f.IssuedAt = f.IssuedAt.UTC()
		fines = append(fines, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate fines", err)
	}
	return fines, nil
}

// wrapErr marks transient failures with domain.ErrStorageUnavailable.
func wrapErr(op string, err error) error {
	if pgutil.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
