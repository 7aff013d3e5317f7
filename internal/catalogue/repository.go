package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/signage/internal/models"
)

// Repository persists content items so the catalogue survives restarts.
// The in-memory catalogue stays authoritative at runtime; the repository is
// written through on every accepted update.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a content item repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or replaces an item row keyed by ID.
func (r *Repository) Upsert(ctx context.Context, item *models.ContentItem) error {
	windows, err := json.Marshal(item.Windows)
	if err != nil {
		return fmt.Errorf("marshal windows: %w", err)
	}
	const q = `INSERT INTO content_items (id, kind, payload_ref, weight, duration_ms, windows, exclusivity_tag, suspended, revision, play_count, last_played)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, payload_ref = EXCLUDED.payload_ref,
			weight = EXCLUDED.weight, duration_ms = EXCLUDED.duration_ms,
			windows = EXCLUDED.windows, exclusivity_tag = EXCLUDED.exclusivity_tag,
			suspended = EXCLUDED.suspended, revision = EXCLUDED.revision,
			updated_at = NOW()`
	_, err = r.pool.Exec(ctx, q,
		item.ID, string(item.Kind), item.PayloadRef, item.Weight,
		item.Duration.Milliseconds(), windows, nullable(item.ExclusivityTag),
		item.Suspended, item.Revision, item.PlayCount, item.LastPlayed,
	)
	return err
}

// Delete removes an item row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM content_items WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// SetSuspended persists the suspension flag so it survives restarts.
func (r *Repository) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error {
	const q = `UPDATE content_items SET suspended = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, suspended, id)
	return err
}

// ListAll returns every persisted item, used to restore the catalogue at
// startup.
func (r *Repository) ListAll(ctx context.Context) ([]*models.ContentItem, error) {
	const q = `SELECT id, kind, payload_ref, weight, duration_ms, windows, exclusivity_tag, suspended, revision, play_count, last_played
		FROM content_items`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.ContentItem
	for rows.Next() {
		var (
			item       models.ContentItem
			kind       string
			durationMS int64
			windows    []byte
			tag        *string
		)
		if err := rows.Scan(&item.ID, &kind, &item.PayloadRef, &item.Weight, &durationMS, &windows, &tag, &item.Suspended, &item.Revision, &item.PlayCount, &item.LastPlayed); err != nil {
			return nil, err
		}
		item.Kind = models.ContentKind(kind)
		item.Duration = time.Duration(durationMS) * time.Millisecond
		if tag != nil {
			item.ExclusivityTag = *tag
		}
		if len(windows) > 0 {
			if err := json.Unmarshal(windows, &item.Windows); err != nil {
				return nil, fmt.Errorf("unmarshal windows for %s: %w", item.ID, err)
			}
		}
		list = append(list, &item)
	}
	return list, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
