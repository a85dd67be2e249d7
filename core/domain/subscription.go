package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailsweep/pkg/apperr"
)

// ConfidenceTier buckets a confidence score for display and filtering.
type ConfidenceTier string

const (
	TierConfirmed ConfidenceTier = "confirmed" // >= 0.8
	TierLikely    ConfidenceTier = "likely"    // >= 0.6
	TierPossible  ConfidenceTier = "possible"  // >= 0.4
	TierUnlikely  ConfidenceTier = "unlikely"
)

// TierForConfidence maps a score to its tier. Boundaries are inclusive on the
// lower edge.
func TierForConfidence(score float64) ConfidenceTier {
	switch {
	case score >= 0.8:
		return TierConfirmed
	case score >= 0.6:
		return TierLikely
	case score >= 0.4:
		return TierPossible
	default:
		return TierUnlikely
	}
}

// SubscriptionCategory is the kind of recurring sender detected.
type SubscriptionCategory string

const (
	CategoryNewsletter   SubscriptionCategory = "newsletter"
	CategoryMarketing    SubscriptionCategory = "marketing"
	CategoryNotification SubscriptionCategory = "notification"
	CategorySocial       SubscriptionCategory = "social"
	CategoryOther        SubscriptionCategory = "other"
)

// FrequencyClass describes how regularly a sender mails.
type FrequencyClass string

const (
	FrequencyDaily     FrequencyClass = "daily"
	FrequencyWeekly    FrequencyClass = "weekly"
	FrequencyMonthly   FrequencyClass = "monthly"
	FrequencyIrregular FrequencyClass = "irregular"
)

// UnsubscribeMethodKind identifies how an unsubscribe can be performed.
type UnsubscribeMethodKind string

const (
	MethodLink    UnsubscribeMethodKind = "link"   // GET to an http(s) URL
	MethodHeader  UnsubscribeMethodKind = "header" // RFC 8058 one-click POST
	MethodMailto  UnsubscribeMethodKind = "mailto" // send an unsubscribe mail
	MethodFilter  UnsubscribeMethodKind = "filter" // provider-side auto-archive
	MethodUnknown UnsubscribeMethodKind = "unknown"
)

// UnsubscribeMethod is the resolved way to unsubscribe from a sender. Exactly
// the fields relevant to Kind are populated.
type UnsubscribeMethod struct {
	Kind    UnsubscribeMethodKind `json:"kind"`
	URL     string                `json:"url,omitempty"`     // link, header
	Address string                `json:"address,omitempty"` // mailto
	Subject string                `json:"subject,omitempty"` // mailto
}

// UnsubscribeStatus is the lifecycle state of an unsubscribe attempt.
type UnsubscribeStatus string

const (
	StatusNotRequested UnsubscribeStatus = "not_requested"
	StatusPending      UnsubscribeStatus = "pending"
	StatusSucceeded    UnsubscribeStatus = "succeeded"
	StatusFailed       UnsubscribeStatus = "failed"
)

// legal status transitions. Succeeded moves back to NotRequested when the
// user resubscribes; the reset is informational only.
var statusTransitions = map[UnsubscribeStatus][]UnsubscribeStatus{
	StatusNotRequested: {StatusPending},
	StatusPending:      {StatusSucceeded, StatusFailed},
	StatusFailed:       {StatusPending},
	StatusSucceeded:    {StatusNotRequested},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to UnsubscribeStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubscriptionRecord is the per-sender detection result exposed to clients.
type SubscriptionRecord struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	SenderAddress string    `json:"sender_address"`
	SenderName    string    `json:"sender_name,omitempty"`

	Confidence     float64              `json:"confidence"`
	ConfidenceTier ConfidenceTier       `json:"confidence_tier"`
	Category       SubscriptionCategory `json:"category"`
	FrequencyClass FrequencyClass       `json:"frequency_class"`
	Signals        []string             `json:"signals,omitempty"`

	EmailCount     int       `json:"email_count"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	RecentSubjects []string  `json:"recent_subjects,omitempty"`

	Method UnsubscribeMethod `json:"method"`

	Status       UnsubscribeStatus `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	AttemptCount int               `json:"attempt_count"`
	// TriedMethods lists method kinds already attempted since the last reset,
	// so a failed method is never auto-retried.
	TriedMethods  []string   `json:"tried_methods,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// IsActive is false for whitelisted senders. Inactive records are kept so
	// whitelist removal can restore them without a rescan.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the record to a new status, enforcing the state machine.
func (r *SubscriptionRecord) Transition(to UnsubscribeStatus) error {
	if !CanTransition(r.Status, to) {
		return apperr.InvalidTransition(string(r.Status), string(to))
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}

// HasTriedMethod reports whether a method kind was already attempted since
// the last reset.
func (r *SubscriptionRecord) HasTriedMethod(kind UnsubscribeMethodKind) bool {
	for _, m := range r.TriedMethods {
		if m == string(kind) {
			return true
		}
	}
	return false
}

// NoteAttempt records an attempt with the given method kind.
func (r *SubscriptionRecord) NoteAttempt(kind UnsubscribeMethodKind) {
	now := time.Now()
	r.AttemptCount++
	r.LastAttemptAt = &now
	if !r.HasTriedMethod(kind) {
		r.TriedMethods = append(r.TriedMethods, string(kind))
	}
}

// ResetUnsubscribeState returns the record to NotRequested and clears attempt
// tracking. Confidence, category and the resolved method are untouched.
func (r *SubscriptionRecord) ResetUnsubscribeState() {
	r.Status = StatusNotRequested
	r.StatusReason = ""
	r.AttemptCount = 0
	r.TriedMethods = nil
	r.LastAttemptAt = nil
	r.UpdatedAt = time.Now()
}

// SubscriptionListFilter narrows List results. Zero values mean no filter.
type SubscriptionListFilter struct {
	Tier       ConfidenceTier       `json:"tier,omitempty"`
	Category   SubscriptionCategory `json:"category,omitempty"`
	Status     UnsubscribeStatus    `json:"status,omitempty"`
	ActiveOnly bool                 `json:"active_only,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Offset     int                  `json:"offset,omitempty"`
}

// SubscriptionStats summarizes a user's detected subscriptions.
type SubscriptionStats struct {
	Total        int                          `json:"total"`
	ByTier       map[ConfidenceTier]int       `json:"by_tier"`
	ByCategory   map[SubscriptionCategory]int `json:"by_category"`
	ByStatus     map[UnsubscribeStatus]int    `json:"by_status"`
	Unsubscribed int                          `json:"unsubscribed"`
}

// SubscriptionRepository stores detection results and unsubscribe state.
type SubscriptionRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID, id int64) (*SubscriptionRecord, error)
	GetBySender(ctx context.Context, userID uuid.UUID, senderAddress string) (*SubscriptionRecord, error)
	List(ctx context.Context, userID uuid.UUID, filter SubscriptionListFilter) ([]*SubscriptionRecord, error)
	Upsert(ctx context.Context, rec *SubscriptionRecord) error

	// UpdateStatus persists a status change with its reason and attempt
	// bookkeeping. Implementations must re-check transition legality against
	// the stored row so concurrent writers cannot skip states.
	UpdateStatus(ctx context.Context, rec *SubscriptionRecord) error

	// SetActiveBySender flips IsActive for all records of a sender address,
	// used when a whitelist entry is added or removed.
	SetActiveBySender(ctx context.Context, userID uuid.UUID, senderAddress string, active bool) error

	Stats(ctx context.Context, userID uuid.UUID) (*SubscriptionStats, error)
}

// WhitelistEntry exempts a sender address or a whole domain from detection.
type WhitelistEntry struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	// Pattern is a full address ("news@shop.com") or a domain ("shop.com").
	Pattern   string    `json:"pattern"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WhitelistRepository stores whitelist entries.
type WhitelistRepository interface {
	List(ctx context.Context, userID uuid.UUID) ([]*WhitelistEntry, error)
	Add(ctx context.Context, entry *WhitelistEntry) (*WhitelistEntry, error)
	Remove(ctx context.Context, userID uuid.UUID, id int64) (*WhitelistEntry, error)
}
