package detection

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"mailsweep/core/domain"
)

// Confidence ceilings applied by guard rules.
const (
	TwoWayConfidenceCap          = 0.2
	PersonalizationConfidenceCap = 0.1
)

// GuardDecision is the guard's adjustment to a raw score.
type GuardDecision struct {
	Confidence float64
	// Vetoed means the sender must not be recorded as a subscription at all.
	Vetoed bool
	// Whitelisted keeps the record but marks it inactive.
	Whitelisted bool
	AppliedRule string
}

// Guard applies false-positive rules on top of the scorer. Rules run in a
// fixed order and the first match wins.
type Guard struct {
	whitelist whitelistMatcher
}

// whitelistMatcher answers whether a sender address is exempt. Implemented by
// the whitelist service with its cache in front.
type whitelistMatcher interface {
	IsWhitelisted(ctx context.Context, userID uuid.UUID, senderAddress string) bool
}

func NewGuard(whitelist whitelistMatcher) *Guard {
	return &Guard{whitelist: whitelist}
}

// Apply runs the guard rules for one scored sender.
func (g *Guard) Apply(ctx context.Context, userID uuid.UUID, agg *domain.SenderAggregate, confidence float64) GuardDecision {
	// A sender the user writes to but never receives from is not a
	// subscription, whatever the headers say.
	if agg.EmailCount == 0 {
		return GuardDecision{Vetoed: true, AppliedRule: "sent_only"}
	}

	if agg.HasTwoWayConversation && confidence > TwoWayConfidenceCap {
		return GuardDecision{Confidence: TwoWayConfidenceCap, AppliedRule: "two_way_conversation"}
	}

	if agg.PersonalizationHits > 0 && confidence > PersonalizationConfidenceCap {
		return GuardDecision{Confidence: PersonalizationConfidenceCap, AppliedRule: "personalized"}
	}

	if g.whitelist != nil && g.whitelist.IsWhitelisted(ctx, userID, agg.SenderAddress) {
		return GuardDecision{Confidence: confidence, Whitelisted: true, AppliedRule: "whitelisted"}
	}

	return GuardDecision{Confidence: confidence}
}

// greeting line containing a capture slot for the user's first name
var greetingPattern = regexp.MustCompile(`(?im)^\s*(hi|hello|hey|dear)[ ,]+([a-z][a-z'\-]+)`)

// LooksPersonalized reports whether a message body opens with a greeting
// naming the user and the message carries reply threading headers. Both are
// required: templated mail greets by name too, but it never threads onto the
// user's own messages.
func LooksPersonalized(msg *domain.NormalizedMessage, userFirstName string) bool {
	if userFirstName == "" || msg.BodySnippet == "" {
		return false
	}
	if msg.Headers.InReplyTo() == "" && msg.Headers.References() == "" {
		return false
	}
	m := greetingPattern.FindStringSubmatch(msg.BodySnippet)
	if m == nil {
		return false
	}
	return strings.EqualFold(m[2], userFirstName)
}
