package in

import (
	"context"

	"mailsweep/core/domain"

	"github.com/google/uuid"
)

// SubscriptionService exposes detected subscriptions and drives the
// unsubscribe lifecycle.
type SubscriptionService interface {
	// Query
	ListSubscriptions(ctx context.Context, userID uuid.UUID, filter domain.SubscriptionListFilter) ([]*domain.SubscriptionRecord, error)
	GetSubscription(ctx context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionStats, error)

	// Unsubscribe lifecycle
	Unsubscribe(ctx context.Context, userID uuid.UUID, id int64) (*UnsubscribeOutcome, error)
	BulkUnsubscribe(ctx context.Context, userID uuid.UUID, ids []int64) (*BulkUnsubscribeResult, error)
	MarkResubscribed(ctx context.Context, userID uuid.UUID, id int64) (*domain.SubscriptionRecord, error)
}

// UnsubscribeOutcome reports one unsubscribe attempt.
type UnsubscribeOutcome struct {
	SubscriptionID int64                        `json:"subscription_id"`
	Status         domain.UnsubscribeStatus     `json:"status"`
	Method         domain.UnsubscribeMethodKind `json:"method"`
	Reason         string                       `json:"reason,omitempty"`
}

// BulkUnsubscribeResult carries one outcome per requested subscription;
// failures never abort the remaining items.
type BulkUnsubscribeResult struct {
	Requested int                   `json:"requested"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	Outcomes  []*UnsubscribeOutcome `json:"outcomes"`
}

// WhitelistService manages sender exemptions.
type WhitelistService interface {
	ListWhitelist(ctx context.Context, userID uuid.UUID) ([]*domain.WhitelistEntry, error)
	AddWhitelist(ctx context.Context, userID uuid.UUID, pattern, note string) (*domain.WhitelistEntry, error)
	RemoveWhitelist(ctx context.Context, userID uuid.UUID, id int64) error
}
