// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailsweep/core/domain"
	"mailsweep/core/port/out"
	"mailsweep/pkg/logger"
)

// metadataHeaders are the headers requested from the Gmail API. Everything
// the classifier consumes must be listed here.
var metadataHeaders = []string{
	"From", "To", "Subject", "Date",
	"Message-ID", "In-Reply-To", "References",
	"List-Unsubscribe",      // RFC 2369
	"List-Unsubscribe-Post", // RFC 8058
	"List-Id",               // RFC 2919
	"Precedence",
}

// categoryLabels maps Gmail category labels to provider categories.
var categoryLabels = map[string]domain.ProviderCategory{
	"CATEGORY_PERSONAL":   domain.ProviderCategoryPersonal,
	"CATEGORY_PROMOTIONS": domain.ProviderCategoryPromotions,
	"CATEGORY_SOCIAL":     domain.ProviderCategorySocial,
	"CATEGORY_UPDATES":    domain.ProviderCategoryUpdates,
	"CATEGORY_FORUMS":     domain.ProviderCategoryForums,
}

// TokenStore resolves the stored OAuth token for a user.
type TokenStore interface {
	TokenForUser(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error)
}

// GmailConfig holds OAuth client settings for the Gmail adapter.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GmailAdapter implements the message source and mail action ports on the
// Gmail API.
type GmailAdapter struct {
	config *oauth2.Config
	tokens TokenStore
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

var (
	_ out.MessageSourcePort = (*GmailAdapter)(nil)
	_ out.MailActionPort    = (*GmailAdapter)(nil)
)

func NewGmailAdapter(cfg *GmailConfig, tokens TokenStore, log *logger.Logger) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailSettingsBasicScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]any{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &GmailAdapter{
		config: config,
		tokens: tokens,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		log:    log,
	}
}

func (a *GmailAdapter) service(ctx context.Context, userID uuid.UUID) (*gmail.Service, error) {
	token, err := a.tokens.TokenForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return gmail.NewService(ctx, option.WithTokenSource(a.config.TokenSource(ctx, token)))
}

// ListMessages returns one page of the mailbox in normalized form. Listing
// yields IDs only; each message is fetched in metadata format, which carries
// the requested headers plus the snippet and labels.
func (a *GmailAdapter) ListMessages(ctx context.Context, userID uuid.UUID, opts *out.ListMessagesOptions) (*out.MessagePage, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Messages.List("me").Context(ctx)
	if opts.PageSize > 0 {
		call = call.MaxResults(int64(opts.PageSize))
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if !opts.IncludeSent {
		call = call.Q("-in:sent")
	}

	var listResp *gmail.ListMessagesResponse
	err = a.execute(ctx, "messages.list", func() error {
		listResp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &out.MessagePage{NextPageToken: listResp.NextPageToken}
	for _, ref := range listResp.Messages {
		msg, err := a.GetMessage(ctx, userID, ref.Id)
		if err != nil {
			a.log.WithError(err).WithField("message_id", ref.Id).Warn("message fetch failed, skipping")
			continue
		}
		if msg != nil {
			page.Messages = append(page.Messages, msg)
		}
	}
	return page, nil
}

// GetMessage fetches one message in metadata format and normalizes it.
func (a *GmailAdapter) GetMessage(ctx context.Context, userID uuid.UUID, messageID string) (*domain.NormalizedMessage, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	var gm *gmail.Message
	err = a.execute(ctx, "messages.get", func() error {
		gm, err = svc.Users.Messages.Get("me", messageID).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeMessage(gm), nil
}

// ThreadHasUserReply reports whether any message in the thread carries the
// SENT label.
func (a *GmailAdapter) ThreadHasUserReply(ctx context.Context, userID uuid.UUID, threadID string) (bool, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return false, err
	}

	var thread *gmail.Thread
	err = a.execute(ctx, "threads.get", func() error {
		thread, err = svc.Users.Threads.Get("me", threadID).Format("minimal").Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, err
	}

	for _, m := range thread.Messages {
		for _, label := range m.LabelIds {
			if label == "SENT" {
				return true, nil
			}
		}
	}
	return false, nil
}

// SendUnsubscribeMail sends an empty mail to a mailto: unsubscribe target.
func (a *GmailAdapter) SendUnsubscribeMail(ctx context.Context, userID uuid.UUID, to, subject string) error {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return err
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n", to, subject)
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	return a.execute(ctx, "messages.send", func() error {
		_, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		return err
	})
}

// CreateSenderFilter creates a filter that archives future mail from the
// sender.
func (a *GmailAdapter) CreateSenderFilter(ctx context.Context, userID uuid.UUID, senderAddress string) (string, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return "", err
	}

	filter := &gmail.Filter{
		Criteria: &gmail.FilterCriteria{From: senderAddress},
		Action:   &gmail.FilterAction{RemoveLabelIds: []string{"INBOX"}},
	}

	var created *gmail.Filter
	err = a.execute(ctx, "filters.create", func() error {
		created, err = svc.Users.Settings.Filters.Create("me", filter).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// execute wraps an API call with circuit breaker protection. Server-side and
// quota errors trip the breaker; client errors pass through without counting.
func (a *GmailAdapter) execute(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		a.log.WithError(err).WithFields(map[string]any{
			"operation": operation,
			"state":     a.cb.State().String(),
		}).Warn("gmail api call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (e *nonCircuitError) Unwrap() error { return e.err }

// normalizeMessage converts a Gmail metadata message to the engine's shape.
func normalizeMessage(gm *gmail.Message) *domain.NormalizedMessage {
	if gm == nil || gm.Payload == nil {
		return nil
	}

	headers := make(domain.HeaderMap, len(gm.Payload.Headers))
	for _, h := range gm.Payload.Headers {
		headers.Set(h.Name, h.Value)
	}

	sentByUser := false
	category := domain.ProviderCategoryUnknown
	for _, label := range gm.LabelIds {
		if label == "SENT" {
			sentByUser = true
		}
		if cat, ok := categoryLabels[label]; ok {
			category = cat
		}
	}

	// The counterpart is From for inbound mail, the first To for sent mail.
	counterpartHeader := headers.Get("From")
	if sentByUser {
		counterpartHeader = headers.Get("To")
	}
	address, name := parseAddress(counterpartHeader)

	return &domain.NormalizedMessage{
		ID:               gm.Id,
		SenderAddress:    address,
		SenderName:       name,
		Subject:          headers.Get("Subject"),
		BodySnippet:      gm.Snippet,
		Headers:          headers,
		ReceivedAt:       time.UnixMilli(gm.InternalDate),
		IsSentByUser:     sentByUser,
		ThreadID:         gm.ThreadId,
		ProviderCategory: category,
	}
}

// parseAddress extracts the first address and display name from a header
// value, falling back to the raw value on parse errors.
func parseAddress(value string) (address, name string) {
	if value == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddressList(value)
	if err != nil || len(parsed) == 0 {
		return strings.ToLower(strings.TrimSpace(value)), ""
	}
	return strings.ToLower(parsed[0].Address), parsed[0].Name
}
