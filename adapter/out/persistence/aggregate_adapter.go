// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsweep/core/domain"
)

// SenderAggregateAdapter implements domain.SenderAggregateRepository using
// PostgreSQL.
type SenderAggregateAdapter struct {
	db *sqlx.DB
}

func NewSenderAggregateAdapter(db *sqlx.DB) *SenderAggregateAdapter {
	return &SenderAggregateAdapter{db: db}
}

// senderAggregateRow represents the database row for sender aggregates. The
// bounded maps are stored as JSONB; interval samples as a float8 array.
type senderAggregateRow struct {
	ID                      int64           `db:"id"`
	UserID                  uuid.UUID       `db:"user_id"`
	SenderAddress           string          `db:"sender_address"`
	SenderName              sql.NullString  `db:"sender_name"`
	EmailCount              int             `db:"email_count"`
	DistinctSubjectCount    int             `db:"distinct_subject_count"`
	FirstSeenAt             sql.NullTime    `db:"first_seen_at"`
	LastSeenAt              sql.NullTime    `db:"last_seen_at"`
	IntervalSamples         pq.Float64Array `db:"interval_samples"`
	SawListUnsubscribe      bool            `db:"saw_list_unsubscribe"`
	SawOneClick             bool            `db:"saw_one_click"`
	LastListUnsubscribe     sql.NullString  `db:"last_list_unsubscribe"`
	LastListUnsubscribePost sql.NullString  `db:"last_list_unsubscribe_post"`
	LastBodyUnsubscribeURL  sql.NullString  `db:"last_body_unsubscribe_url"`
	CategoryTally           []byte          `db:"category_tally"`
	HasTwoWayConversation   bool            `db:"has_two_way_conversation"`
	PersonalizationHits     int             `db:"personalization_hits"`
	RecentSubjects          pq.StringArray  `db:"recent_subjects"`
	SubjectsSeen            []byte          `db:"subjects_seen"`
	ThreadDirections        []byte          `db:"thread_directions"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

func (r *senderAggregateRow) toEntity() (*domain.SenderAggregate, error) {
	agg := &domain.SenderAggregate{
		ID:                      r.ID,
		UserID:                  r.UserID,
		SenderAddress:           r.SenderAddress,
		SenderName:              r.SenderName.String,
		EmailCount:              r.EmailCount,
		DistinctSubjectCount:    r.DistinctSubjectCount,
		IntervalSamples:         []float64(r.IntervalSamples),
		SawListUnsubscribe:      r.SawListUnsubscribe,
		SawOneClick:             r.SawOneClick,
		LastListUnsubscribe:     r.LastListUnsubscribe.String,
		LastListUnsubscribePost: r.LastListUnsubscribePost.String,
		LastBodyUnsubscribeURL:  r.LastBodyUnsubscribeURL.String,
		HasTwoWayConversation:   r.HasTwoWayConversation,
		PersonalizationHits:     r.PersonalizationHits,
		RecentSubjects:          []string(r.RecentSubjects),
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
	if r.FirstSeenAt.Valid {
		agg.FirstSeenAt = r.FirstSeenAt.Time
	}
	if r.LastSeenAt.Valid {
		agg.LastSeenAt = r.LastSeenAt.Time
	}

	if len(r.CategoryTally) > 0 {
		if err := json.Unmarshal(r.CategoryTally, &agg.ProviderCategoryTally); err != nil {
			return nil, fmt.Errorf("failed to decode category tally: %w", err)
		}
	}
	if len(r.SubjectsSeen) > 0 {
		if err := json.Unmarshal(r.SubjectsSeen, &agg.SubjectsSeen); err != nil {
			return nil, fmt.Errorf("failed to decode subject set: %w", err)
		}
	}
	if len(r.ThreadDirections) > 0 {
		if err := json.Unmarshal(r.ThreadDirections, &agg.ThreadDirections); err != nil {
			return nil, fmt.Errorf("failed to decode thread directions: %w", err)
		}
	}
	return agg, nil
}

// Get retrieves the aggregate for a sender, or nil when none exists.
func (a *SenderAggregateAdapter) Get(ctx context.Context, userID uuid.UUID, senderAddress string) (*domain.SenderAggregate, error) {
	var row senderAggregateRow
	query := `SELECT * FROM sender_aggregates WHERE user_id = $1 AND sender_address = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, senderAddress); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sender aggregate: %w", err)
	}
	return row.toEntity()
}

// Upsert writes the aggregate keyed on (user_id, sender_address).
func (a *SenderAggregateAdapter) Upsert(ctx context.Context, agg *domain.SenderAggregate) error {
	tally, err := json.Marshal(agg.ProviderCategoryTally)
	if err != nil {
		return fmt.Errorf("failed to encode category tally: %w", err)
	}
	subjects, err := json.Marshal(agg.SubjectsSeen)
	if err != nil {
		return fmt.Errorf("failed to encode subject set: %w", err)
	}
	threads, err := json.Marshal(agg.ThreadDirections)
	if err != nil {
		return fmt.Errorf("failed to encode thread directions: %w", err)
	}

	query := `
		INSERT INTO sender_aggregates (
			user_id, sender_address, sender_name, email_count, distinct_subject_count,
			first_seen_at, last_seen_at, interval_samples,
			saw_list_unsubscribe, saw_one_click,
			last_list_unsubscribe, last_list_unsubscribe_post, last_body_unsubscribe_url,
			category_tally, has_two_way_conversation, personalization_hits,
			recent_subjects, subjects_seen, thread_directions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (user_id, sender_address) DO UPDATE SET
			sender_name = EXCLUDED.sender_name,
			email_count = EXCLUDED.email_count,
			distinct_subject_count = EXCLUDED.distinct_subject_count,
			first_seen_at = EXCLUDED.first_seen_at,
			last_seen_at = EXCLUDED.last_seen_at,
			interval_samples = EXCLUDED.interval_samples,
			saw_list_unsubscribe = EXCLUDED.saw_list_unsubscribe,
			saw_one_click = EXCLUDED.saw_one_click,
			last_list_unsubscribe = EXCLUDED.last_list_unsubscribe,
			last_list_unsubscribe_post = EXCLUDED.last_list_unsubscribe_post,
			last_body_unsubscribe_url = EXCLUDED.last_body_unsubscribe_url,
			category_tally = EXCLUDED.category_tally,
			has_two_way_conversation = EXCLUDED.has_two_way_conversation,
			personalization_hits = EXCLUDED.personalization_hits,
			recent_subjects = EXCLUDED.recent_subjects,
			subjects_seen = EXCLUDED.subjects_seen,
			thread_directions = EXCLUDED.thread_directions,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = a.db.QueryRowContext(
		ctx, query,
		agg.UserID,
		agg.SenderAddress,
		nullString(agg.SenderName),
		agg.EmailCount,
		agg.DistinctSubjectCount,
		nullTime(agg.FirstSeenAt),
		nullTime(agg.LastSeenAt),
		pq.Float64Array(agg.IntervalSamples),
		agg.SawListUnsubscribe,
		agg.SawOneClick,
		nullString(agg.LastListUnsubscribe),
		nullString(agg.LastListUnsubscribePost),
		nullString(agg.LastBodyUnsubscribeURL),
		tally,
		agg.HasTwoWayConversation,
		agg.PersonalizationHits,
		pq.StringArray(agg.RecentSubjects),
		subjects,
		threads,
	).Scan(&agg.ID, &agg.CreatedAt, &agg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sender aggregate: %w", err)
	}
	return nil
}

// deferredRow represents a parked sender update awaiting retry.
type deferredRow struct {
	ID            int64          `db:"id"`
	UserID        uuid.UUID      `db:"user_id"`
	SenderAddress string         `db:"sender_address"`
	MessageID     string         `db:"message_id"`
	Attempts      int            `db:"attempts"`
	LastError     sql.NullString `db:"last_error"`
	NextRetryAt   time.Time      `db:"next_retry_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

// MarkDeferred parks a failed update. Re-deferring the same message bumps
// its attempt count and pushes the retry time out.
func (a *SenderAggregateAdapter) MarkDeferred(ctx context.Context, d *domain.DeferredUpdate) error {
	query := `
		INSERT INTO deferred_updates (user_id, sender_address, message_id, attempts, last_error, next_retry_at)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			attempts = deferred_updates.attempts + 1,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at
		RETURNING id, attempts`

	err := a.db.QueryRowContext(
		ctx, query,
		d.UserID, d.SenderAddress, d.MessageID,
		nullString(d.LastError), d.NextRetryAt,
	).Scan(&d.ID, &d.Attempts)
	if err != nil {
		return fmt.Errorf("failed to defer sender update: %w", err)
	}
	return nil
}

// ListDeferred returns deferred updates due at or before the given time.
func (a *SenderAggregateAdapter) ListDeferred(ctx context.Context, due time.Time, limit int) ([]*domain.DeferredUpdate, error) {
	var rows []deferredRow
	query := `
		SELECT * FROM deferred_updates
		WHERE next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &rows, query, due, limit); err != nil {
		return nil, fmt.Errorf("failed to list deferred updates: %w", err)
	}

	out := make([]*domain.DeferredUpdate, len(rows))
	for i, r := range rows {
		out[i] = &domain.DeferredUpdate{
			ID:            r.ID,
			UserID:        r.UserID,
			SenderAddress: r.SenderAddress,
			MessageID:     r.MessageID,
			Attempts:      r.Attempts,
			LastError:     r.LastError.String,
			NextRetryAt:   r.NextRetryAt,
			CreatedAt:     r.CreatedAt,
		}
	}
	return out, nil
}

// ClearDeferred removes a deferred update after a successful retry.
func (a *SenderAggregateAdapter) ClearDeferred(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM deferred_updates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear deferred update: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
