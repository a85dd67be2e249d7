package domain

import (
	"net/textproto"
	"time"
)

// ProviderCategory is the category assigned by the mail provider, when available.
type ProviderCategory string

const (
	ProviderCategoryPersonal   ProviderCategory = "personal"
	ProviderCategoryPromotions ProviderCategory = "promotions"
	ProviderCategorySocial     ProviderCategory = "social"
	ProviderCategoryUpdates    ProviderCategory = "updates"
	ProviderCategoryForums     ProviderCategory = "forums"
	ProviderCategoryUnknown    ProviderCategory = ""
)

// Known header names. Header access goes through the typed accessors below
// rather than free-form lookups.
const (
	HeaderListUnsubscribe     = "List-Unsubscribe"
	HeaderListUnsubscribePost = "List-Unsubscribe-Post"
	HeaderListID              = "List-Id"
	HeaderPrecedence          = "Precedence"
	HeaderInReplyTo           = "In-Reply-To"
	HeaderReferences          = "References"
)

// HeaderMap is a case-insensitive string-keyed header map. Keys are
// canonicalized on insert, so lookups are O(1) regardless of the casing the
// provider delivered.
type HeaderMap map[string]string

// NewHeaderMap builds a HeaderMap from raw key/value pairs.
func NewHeaderMap(raw map[string]string) HeaderMap {
	h := make(HeaderMap, len(raw))
	for k, v := range raw {
		h[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return h
}

// Set stores a header value under its canonical key.
func (h HeaderMap) Set(name, value string) {
	h[textproto.CanonicalMIMEHeaderKey(name)] = value
}

// Get returns the value for a header name, case-insensitively.
func (h HeaderMap) Get(name string) string {
	if h == nil {
		return ""
	}
	return h[textproto.CanonicalMIMEHeaderKey(name)]
}

// Has reports whether a header is present with a non-empty value.
func (h HeaderMap) Has(name string) bool {
	return h.Get(name) != ""
}

// ListUnsubscribe returns the raw List-Unsubscribe header value.
func (h HeaderMap) ListUnsubscribe() string { return h.Get(HeaderListUnsubscribe) }

// ListUnsubscribePost returns the raw List-Unsubscribe-Post header value
// (RFC 8058 one-click marker).
func (h HeaderMap) ListUnsubscribePost() string { return h.Get(HeaderListUnsubscribePost) }

// ListID returns the raw List-Id header value.
func (h HeaderMap) ListID() string { return h.Get(HeaderListID) }

// Precedence returns the raw Precedence header value.
func (h HeaderMap) Precedence() string { return h.Get(HeaderPrecedence) }

// InReplyTo returns the raw In-Reply-To header value.
func (h HeaderMap) InReplyTo() string { return h.Get(HeaderInReplyTo) }

// References returns the raw References header value.
func (h HeaderMap) References() string { return h.Get(HeaderReferences) }

// NormalizedMessage is one message as delivered by the ingestion collaborator.
// Immutable from the engine's point of view.
//
// SenderAddress always names the counterpart: the From address for inbound
// mail, the primary To address for mail the user sent.
type NormalizedMessage struct {
	ID               string           `json:"id"`
	SenderAddress    string           `json:"sender_address"`
	SenderName       string           `json:"sender_name,omitempty"`
	Subject          string           `json:"subject"`
	BodySnippet      string           `json:"body_snippet,omitempty"`
	Headers          HeaderMap        `json:"headers,omitempty"`
	ReceivedAt       time.Time        `json:"received_at"`
	IsSentByUser     bool             `json:"is_sent_by_user"`
	ThreadID         string           `json:"thread_id,omitempty"`
	ProviderCategory ProviderCategory `json:"provider_category,omitempty"`
}
