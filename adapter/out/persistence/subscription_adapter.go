package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsweep/core/domain"
	"mailsweep/pkg/apperr"
)

// SubscriptionAdapter implements domain.SubscriptionRepository using
// PostgreSQL.
type SubscriptionAdapter struct {
	db *sqlx.DB
}

func NewSubscriptionAdapter(db *sqlx.DB) *SubscriptionAdapter {
	return &SubscriptionAdapter{db: db}
}

type subscriptionRow struct {
	ID             int64          `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	SenderAddress  string         `db:"sender_address"`
	SenderName     sql.NullString `db:"sender_name"`
	Confidence     float64        `db:"confidence"`
	ConfidenceTier string         `db:"confidence_tier"`
	Category       string         `db:"category"`
	FrequencyClass string         `db:"frequency_class"`
	Signals        pq.StringArray `db:"signals"`
	EmailCount     int            `db:"email_count"`
	FirstSeenAt    sql.NullTime   `db:"first_seen_at"`
	LastSeenAt     sql.NullTime   `db:"last_seen_at"`
	RecentSubjects pq.StringArray `db:"recent_subjects"`
	Method         []byte         `db:"method"`
	Status         string         `db:"status"`
	StatusReason   sql.NullString `db:"status_reason"`
	AttemptCount   int            `db:"attempt_count"`
	TriedMethods   pq.StringArray `db:"tried_methods"`
	LastAttemptAt  sql.NullTime   `db:"last_attempt_at"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *subscriptionRow) toEntity() (*domain.SubscriptionRecord, error) {
	rec := &domain.SubscriptionRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		SenderAddress:  r.SenderAddress,
		SenderName:     r.SenderName.String,
		Confidence:     r.Confidence,
		ConfidenceTier: domain.ConfidenceTier(r.ConfidenceTier),
		Category:       domain.SubscriptionCategory(r.Category),
		FrequencyClass: domain.FrequencyClass(r.FrequencyClass),
		Signals:        []string(r.Signals),
		EmailCount:     r.EmailCount,
		RecentSubjects: []string(r.RecentSubjects),
		Status:         domain.UnsubscribeStatus(r.Status),
		StatusReason:   r.StatusReason.String,
		AttemptCount:   r.AttemptCount,
		TriedMethods:   []string(r.TriedMethods),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.FirstSeenAt.Valid {
		rec.FirstSeenAt = r.FirstSeenAt.Time
	}
	if r.LastSeenAt.Valid {
		rec.LastSeenAt = r.LastSeenAt.Time
	}
	if r.LastAttemptAt.Valid {
		t := r.LastAttemptAt.Time
		rec.LastAttemptAt = &t
	}
	if len(r.Method) > 0 {
		if err := json.Unmarshal(r.Method, &rec.Method); err != nil {
			return nil, fmt.Errorf("failed to decode unsubscribe method: %w", err)
		}
	}
	if rec.Method.Kind == "" {
		rec.Method.Kind = domain.MethodUnknown
	}
	return rec, nil
}

func (a *SubscriptionAdapter) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error) {
	var row subscriptionRow
	query := `SELECT * FROM subscriptions WHERE user_id = $1 AND id = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return row.toEntity()
}

func (a *SubscriptionAdapter) GetBySender(ctx context.Context, userID uuid.UUID, senderAddress string) (*domain.SubscriptionRecord, error) {
	var row subscriptionRow
	query := `SELECT * FROM subscriptions WHERE user_id = $1 AND sender_address = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, senderAddress); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription by sender: %w", err)
	}
	return row.toEntity()
}

// List returns matching records ordered by confidence, highest first.
func (a *SubscriptionAdapter) List(ctx context.Context, userID uuid.UUID, filter domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error) {
	conditions := []string{"user_id = $1"}
	args := []interface{}{userID}

	addArg := func(cond string, val interface{}) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Tier != "" {
		addArg("confidence_tier = $%d", string(filter.Tier))
	}
	if filter.Category != "" {
		addArg("category = $%d", string(filter.Category))
	}
	if filter.Status != "" {
		addArg("status = $%d", string(filter.Status))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}

	query := fmt.Sprintf(
		`SELECT * FROM subscriptions WHERE %s ORDER BY confidence DESC, email_count DESC`,
		strings.Join(conditions, " AND "),
	)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []subscriptionRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	records := make([]*domain.SubscriptionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Upsert writes the detection fields of a record keyed on
// (user_id, sender_address). Lifecycle fields are written too so a reset
// status sticks; concurrent status changes go through UpdateStatus instead.
func (a *SubscriptionAdapter) Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error {
	method, err := json.Marshal(rec.Method)
	if err != nil {
		return fmt.Errorf("failed to encode unsubscribe method: %w", err)
	}

	query := `
		INSERT INTO subscriptions (
			user_id, sender_address, sender_name,
			confidence, confidence_tier, category, frequency_class, signals,
			email_count, first_seen_at, last_seen_at, recent_subjects,
			method, status, status_reason, attempt_count, tried_methods, last_attempt_at,
			is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (user_id, sender_address) DO UPDATE SET
			sender_name = EXCLUDED.sender_name,
			confidence = EXCLUDED.confidence,
			confidence_tier = EXCLUDED.confidence_tier,
			category = EXCLUDED.category,
			frequency_class = EXCLUDED.frequency_class,
			signals = EXCLUDED.signals,
			email_count = EXCLUDED.email_count,
			first_seen_at = EXCLUDED.first_seen_at,
			last_seen_at = EXCLUDED.last_seen_at,
			recent_subjects = EXCLUDED.recent_subjects,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			status_reason = EXCLUDED.status_reason,
			attempt_count = EXCLUDED.attempt_count,
			tried_methods = EXCLUDED.tried_methods,
			last_attempt_at = EXCLUDED.last_attempt_at,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = a.db.QueryRowContext(
		ctx, query,
		rec.UserID,
		rec.SenderAddress,
		nullString(rec.SenderName),
		rec.Confidence,
		string(rec.ConfidenceTier),
		string(rec.Category),
		string(rec.FrequencyClass),
		pq.StringArray(rec.Signals),
		rec.EmailCount,
		nullTime(rec.FirstSeenAt),
		nullTime(rec.LastSeenAt),
		pq.StringArray(rec.RecentSubjects),
		method,
		string(rec.Status),
		nullString(rec.StatusReason),
		rec.AttemptCount,
		pq.StringArray(rec.TriedMethods),
		nullTimePtr(rec.LastAttemptAt),
		rec.IsActive,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateStatus persists a lifecycle change. The stored status is re-checked
// in the WHERE clause so a concurrent writer cannot make the row skip a
// state; zero rows updated means the transition lost the race.
func (a *SubscriptionAdapter) UpdateStatus(ctx context.Context, rec *domain.SubscriptionRecord) error {
	method, err := json.Marshal(rec.Method)
	if err != nil {
		return fmt.Errorf("failed to encode unsubscribe method: %w", err)
	}

	allowedFrom := transitionSources(rec.Status)
	query := `
		UPDATE subscriptions SET
			method = $1,
			status = $2,
			status_reason = $3,
			attempt_count = $4,
			tried_methods = $5,
			last_attempt_at = $6,
			updated_at = NOW()
		WHERE user_id = $7 AND id = $8 AND status = ANY($9)`

	result, err := a.db.ExecContext(
		ctx, query,
		method,
		string(rec.Status),
		nullString(rec.StatusReason),
		rec.AttemptCount,
		pq.StringArray(rec.TriedMethods),
		nullTimePtr(rec.LastAttemptAt),
		rec.UserID,
		rec.ID,
		pq.StringArray(allowedFrom),
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	if affected == 0 {
		return apperr.Conflict("subscription status changed concurrently")
	}
	return nil
}

// transitionSources returns the statuses a row may hold for a transition
// into the target status to be legal, including the target itself so
// idempotent rewrites of reason and attempt fields succeed.
func transitionSources(target domain.UnsubscribeStatus) []string {
	sources := []string{string(target)}
	for _, from := range []domain.UnsubscribeStatus{
		domain.StatusNotRequested,
		domain.StatusPending,
		domain.StatusSucceeded,
		domain.StatusFailed,
	} {
		if from != target && domain.CanTransition(from, target) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

// SetActiveBySender flips visibility for all records of a sender address.
func (a *SubscriptionAdapter) SetActiveBySender(ctx context.Context, userID uuid.UUID, senderAddress string, active bool) error {
	query := `UPDATE subscriptions SET is_active = $1, updated_at = NOW() WHERE user_id = $2 AND sender_address = $3`
	if _, err := a.db.ExecContext(ctx, query, active, userID, senderAddress); err != nil {
		return fmt.Errorf("failed to set subscription active flag: %w", err)
	}
	return nil
}

// Stats aggregates counts for a user's active subscriptions.
func (a *SubscriptionAdapter) Stats(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionStats, error) {
	var rows []struct {
		Tier     string `db:"confidence_tier"`
		Category string `db:"category"`
		Status   string `db:"status"`
		Count    int    `db:"count"`
	}
	query := `
		SELECT confidence_tier, category, status, COUNT(*) AS count
		FROM subscriptions
		WHERE user_id = $1 AND is_active = TRUE
		GROUP BY confidence_tier, category, status`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to aggregate subscription stats: %w", err)
	}

	stats := &domain.SubscriptionStats{
		ByTier:     make(map[domain.ConfidenceTier]int),
		ByCategory: make(map[domain.SubscriptionCategory]int),
		ByStatus:   make(map[domain.UnsubscribeStatus]int),
	}
	for _, r := range rows {
		stats.Total += r.Count
		stats.ByTier[domain.ConfidenceTier(r.Tier)] += r.Count
		stats.ByCategory[domain.SubscriptionCategory(r.Category)] += r.Count
		stats.ByStatus[domain.UnsubscribeStatus(r.Status)] += r.Count
		if r.Status == string(domain.StatusSucceeded) {
			stats.Unsubscribed += r.Count
		}
	}
	return stats, nil
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
