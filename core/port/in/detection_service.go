package in

import (
	"context"

	"mailsweep/core/domain"

	"github.com/google/uuid"
)

// DetectionService drives subscription detection over a user's mailbox.
type DetectionService interface {
	// Detect runs a full synchronous scan of the user's mailbox and returns
	// the resulting subscription records, highest confidence first.
	Detect(ctx context.Context, userID uuid.UUID) (*DetectResult, error)

	// ProcessMessage folds a single message into its sender's aggregate and
	// refreshes the detection result for that sender. Used by the worker for
	// incremental updates as new mail arrives.
	ProcessMessage(ctx context.Context, userID uuid.UUID, msg *domain.NormalizedMessage) error

	// RetryDeferred reprocesses sender updates that previously failed against
	// storage. Returns the number retried and the number that succeeded.
	RetryDeferred(ctx context.Context, limit int) (retried, succeeded int, err error)
}

type DetectResult struct {
	ScannedMessages int                          `json:"scanned_messages"`
	SendersSeen     int                          `json:"senders_seen"`
	Subscriptions   []*domain.SubscriptionRecord `json:"subscriptions"`
}
