// Package detection classifies senders as recurring subscriptions from the
// signals accumulated in their aggregates.
package detection

import (
	"regexp"
	"strings"

	"mailsweep/core/domain"
)

// Signal weights. A signal either fires with its weight or contributes
// nothing; the scorer averages the fired weights.
const (
	WeightOneClick      = 0.95 // RFC 8058 List-Unsubscribe-Post
	WeightListUnsub     = 0.90 // List-Unsubscribe header
	WeightProviderPromo = 0.70 // provider filed it under promotions/updates
	WeightBodyUnsubURL  = 0.70 // unsubscribe wording near a URL in the body
	WeightNoReplySender = 0.60 // automated local-part
	WeightFrequency     = 0.50 // more than 4 messages per month, base
	WeightBulkSubject   = 0.40 // promotional subject patterns
)

// FrequencyBonusCap bounds the volume bonus added on top of WeightFrequency.
const FrequencyBonusCap = 0.3

// Signal is one piece of evidence that a sender is a subscription.
type Signal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

var (
	noReplyLocalPart = regexp.MustCompile(`(?i)^(no-?reply|donotreply|newsletter|updates|notifications|marketing)`)

	bulkSubjectPatterns = regexp.MustCompile(`(?i)(\d+%\s*off|sale|newsletter|digest|weekly|monthly|unsubscribe|special offer|limited time|don't miss)`)

	// unsubscribe wording within a short window before an http(s) URL
	bodyUnsubNearURL = regexp.MustCompile(`(?i)(unsubscribe|opt[ -]?out|manage (?:your )?preferences|email preferences)[^<>]{0,120}?(https?://[^\s"'<>]+)`)

	// a bare URL shortly after unsubscribe wording, angle-bracket style
	bodyURLAfterUnsub = regexp.MustCompile(`(?i)(https?://[^\s"'<>]*unsub[^\s"'<>]*)`)
)

// ExtractBodyUnsubscribeURL returns the first unsubscribe URL found in a body
// snippet, or "" when none is present.
func ExtractBodyUnsubscribeURL(body string) string {
	if body == "" {
		return ""
	}
	if m := bodyUnsubNearURL.FindStringSubmatch(body); m != nil {
		return m[2]
	}
	if m := bodyURLAfterUnsub.FindString(body); m != "" {
		return m
	}
	return ""
}

// HasBulkSubject reports whether a subject matches promotional patterns.
func HasBulkSubject(subject string) bool {
	return bulkSubjectPatterns.MatchString(subject)
}

// IsNoReplyAddress reports whether an address has an automated local part.
func IsNoReplyAddress(address string) bool {
	local, _, found := strings.Cut(address, "@")
	if !found {
		return false
	}
	return noReplyLocalPart.MatchString(local)
}

// isPromotionalCategory reports whether a provider category indicates bulk
// mail.
func isPromotionalCategory(cat domain.ProviderCategory) bool {
	switch cat {
	case domain.ProviderCategoryPromotions, domain.ProviderCategoryUpdates,
		domain.ProviderCategorySocial, domain.ProviderCategoryForums:
		return true
	default:
		return false
	}
}
