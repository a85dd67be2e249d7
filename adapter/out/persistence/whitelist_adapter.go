package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsweep/core/domain"
	"mailsweep/pkg/apperr"
)

// WhitelistAdapter implements domain.WhitelistRepository using PostgreSQL.
type WhitelistAdapter struct {
	db *sqlx.DB
}

func NewWhitelistAdapter(db *sqlx.DB) *WhitelistAdapter {
	return &WhitelistAdapter{db: db}
}

type whitelistRow struct {
	ID        int64          `db:"id"`
	UserID    uuid.UUID      `db:"user_id"`
	Pattern   string         `db:"pattern"`
	Note      sql.NullString `db:"note"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *whitelistRow) toEntity() *domain.WhitelistEntry {
	return &domain.WhitelistEntry{
		ID:        r.ID,
		UserID:    r.UserID,
		Pattern:   r.Pattern,
		Note:      r.Note.String,
		CreatedAt: r.CreatedAt,
	}
}

func (a *WhitelistAdapter) List(ctx context.Context, userID uuid.UUID) ([]*domain.WhitelistEntry, error) {
	var rows []whitelistRow
	query := `SELECT * FROM whitelist_entries WHERE user_id = $1 ORDER BY created_at DESC`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list whitelist entries: %w", err)
	}

	entries := make([]*domain.WhitelistEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntity()
	}
	return entries, nil
}

func (a *WhitelistAdapter) Add(ctx context.Context, entry *domain.WhitelistEntry) (*domain.WhitelistEntry, error) {
	query := `
		INSERT INTO whitelist_entries (user_id, pattern, note)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := a.db.QueryRowContext(ctx, query, entry.UserID, entry.Pattern, nullString(entry.Note)).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apperr.AlreadyExists("whitelist entry")
		}
		return nil, fmt.Errorf("failed to add whitelist entry: %w", err)
	}
	return entry, nil
}

// Remove deletes an entry and returns it, or nil when it did not exist.
func (a *WhitelistAdapter) Remove(ctx context.Context, userID uuid.UUID, id int64) (*domain.WhitelistEntry, error) {
	var row whitelistRow
	query := `DELETE FROM whitelist_entries WHERE user_id = $1 AND id = $2 RETURNING *`

	if err := a.db.GetContext(ctx, &row, query, userID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to remove whitelist entry: %w", err)
	}
	return row.toEntity(), nil
}
