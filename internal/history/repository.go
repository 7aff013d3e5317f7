// Package history persists and serves proof-of-play records. The scheduler
// emits a report for every terminal session; the worker writes them here and
// bumps the per-item play counters the fairness weighting reads at restart.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/signage/internal/models"
)

// Repository handles play history persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a play history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one proof-of-play record. Idempotent on session ID so a
// redelivered queue job cannot double-count a play.
func (r *Repository) Insert(ctx context.Context, report models.PlayReport) (bool, error) {
	const q = `INSERT INTO play_history (session_id, surface_id, content_id, module_id, outcome, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q,
		report.SessionID, report.SurfaceID, report.ContentID, report.ModuleID,
		string(report.Outcome), report.StartedAt, report.EndedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// BumpCounters increments the play counter and advances last_played on the
// content item row. Counted plays only (completed or cancelled mid-play).
func (r *Repository) BumpCounters(ctx context.Context, contentID uuid.UUID, playedAt time.Time) error {
	const q = `UPDATE content_items
		SET play_count = play_count + 1,
		    last_played = GREATEST(COALESCE(last_played, $2), $2),
		    updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, contentID, playedAt)
	return err
}

// ListByContent returns the most recent plays of one item, newest first.
func (r *Repository) ListByContent(ctx context.Context, contentID uuid.UUID, limit int) ([]models.PlayReport, error) {
	const q = `SELECT session_id, surface_id, content_id, module_id, outcome, started_at, ended_at
		FROM play_history WHERE content_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, contentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

// ListRange returns plays on a surface within [from, to), oldest first. Used
// by the daily export job.
func (r *Repository) ListRange(ctx context.Context, surfaceID string, from, to time.Time) ([]models.PlayReport, error) {
	const q = `SELECT session_id, surface_id, content_id, module_id, outcome, started_at, ended_at
		FROM play_history WHERE surface_id = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at`
	rows, err := r.pool.Query(ctx, q, surfaceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

// Recent returns the latest plays across all content on a surface.
func (r *Repository) Recent(ctx context.Context, surfaceID string, limit int) ([]models.PlayReport, error) {
	const q = `SELECT session_id, surface_id, content_id, module_id, outcome, started_at, ended_at
		FROM play_history WHERE surface_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, surfaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanReports(rows pgxRows) ([]models.PlayReport, error) {
	var list []models.PlayReport
	for rows.Next() {
		var (
			rep     models.PlayReport
			outcome string
		)
		if err := rows.Scan(&rep.SessionID, &rep.SurfaceID, &rep.ContentID, &rep.ModuleID,
			&outcome, &rep.StartedAt, &rep.EndedAt); err != nil {
			return nil, err
		}
		rep.Outcome = models.PlayOutcome(outcome)
		list = append(list, rep)
	}
	return list, rows.Err()
}
