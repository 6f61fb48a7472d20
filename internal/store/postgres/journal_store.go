package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ritcapital/etfarb/internal/domain"
)

// JournalStore implements domain.ExecutionJournal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// RecordSlice persists one executed slice. A replayed (task_id, seq) pair
// is silently skipped via ON CONFLICT DO NOTHING.
func (s *JournalStore) RecordSlice(ctx context.Context, rec domain.SliceRecord) error {
	const query = `
		INSERT INTO slices (
			task_id, seq, route, side, requested, filled, vwap, cash_flow, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, seq) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		rec.TaskID, rec.Seq, string(rec.Route), string(rec.Side),
		rec.Requested, rec.Filled, rec.VWAP, rec.CashFlow, rec.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert slice: %w", err)
	}
	return nil
}

// RecordUnwind persists a finished unwind. Re-recording a task upserts so
// the final figures always win.
func (s *JournalStore) RecordUnwind(ctx context.Context, report domain.UnwindReport) error {
	const query = `
		INSERT INTO unwind_reports (
			task_id, side, requested, unwound, total_cost, slices, fx_residual, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			unwound = EXCLUDED.unwound,
			total_cost = EXCLUDED.total_cost,
			slices = EXCLUDED.slices,
			fx_residual = EXCLUDED.fx_residual,
			finished_at = EXCLUDED.finished_at`
	_, err := s.pool.Exec(ctx, query,
		report.TaskID, string(report.Side), report.Requested, report.Unwound,
		report.TotalCost, report.Slices, report.FXResidual,
		report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert unwind report: %w", err)
	}
	return nil
}

// RecentReports returns the most recent finished unwinds, newest first.
func (s *JournalStore) RecentReports(ctx context.Context, limit int) ([]domain.UnwindReport, error) {
	const query = `
		SELECT task_id, side, requested, unwound, total_cost, slices, fx_residual, started_at, finished_at
		FROM unwind_reports
		ORDER BY finished_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query unwind reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.UnwindReport
	for rows.Next() {
		var r domain.UnwindReport
		var side string
		if err := rows.Scan(
			&r.TaskID, &side, &r.Requested, &r.Unwound,
			&r.TotalCost, &r.Slices, &r.FXResidual,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan unwind report: %w", err)
		}
		r.Side = domain.Side(side)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
