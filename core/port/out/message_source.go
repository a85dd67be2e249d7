// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"mailsweep/core/domain"

	"github.com/google/uuid"
)

// MessagePage is one page of normalized messages from a mailbox.
type MessagePage struct {
	Messages      []*domain.NormalizedMessage
	NextPageToken string
}

// ListMessagesOptions narrows a mailbox listing.
type ListMessagesOptions struct {
	PageToken string
	PageSize  int
	// IncludeSent also returns messages the user sent, flagged IsSentByUser.
	IncludeSent bool
}

// MessageSourcePort reads a user's mailbox in normalized form. Implementations
// wrap a provider API (Gmail) and hide its wire format.
type MessageSourcePort interface {
	// ListMessages returns one page of messages in received order.
	ListMessages(ctx context.Context, userID uuid.UUID, opts *ListMessagesOptions) (*MessagePage, error)

	// GetMessage fetches a single message by provider ID.
	GetMessage(ctx context.Context, userID uuid.UUID, messageID string) (*domain.NormalizedMessage, error)

	// ThreadHasUserReply reports whether the user has sent a message in the
	// given thread.
	ThreadHasUserReply(ctx context.Context, userID uuid.UUID, threadID string) (bool, error)
}

// MailActionPort performs provider-side actions used by unsubscribe methods
// that cannot be done over plain HTTP.
type MailActionPort interface {
	// SendUnsubscribeMail sends an empty mail to a mailto: unsubscribe target.
	SendUnsubscribeMail(ctx context.Context, userID uuid.UUID, to, subject string) error

	// CreateSenderFilter creates a provider filter that archives future mail
	// from the sender. Returns the provider's filter ID.
	CreateSenderFilter(ctx context.Context, userID uuid.UUID, senderAddress string) (string, error)
}
