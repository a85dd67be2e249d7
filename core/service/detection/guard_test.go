package detection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
)

type staticWhitelist map[string]bool

func (w staticWhitelist) IsWhitelisted(_ context.Context, _ uuid.UUID, sender string) bool {
	return w[sender]
}

func TestGuardRuleOrder(t *testing.T) {
	userID := uuid.New()
	ctx := context.Background()

	tests := []struct {
		name       string
		agg        func() *domain.SenderAggregate
		confidence float64
		whitelist  staticWhitelist
		wantVeto   bool
		wantWl     bool
		wantConf   float64
		wantRule   string
	}{
		{
			name: "sent-only sender is vetoed",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "friend@example.com")
				a.Fold(&domain.NormalizedMessage{ID: "o1", IsSentByUser: true, ThreadID: "t", ReceivedAt: time.Now()})
				return a
			},
			confidence: 0.9,
			wantVeto:   true,
			wantRule:   "sent_only",
		},
		{
			name: "two-way conversation caps confidence",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "colleague@example.com")
				a.EmailCount = 5
				a.HasTwoWayConversation = true
				return a
			},
			confidence: 0.85,
			wantConf:   TwoWayConfidenceCap,
			wantRule:   "two_way_conversation",
		},
		{
			name: "two-way does not raise a low score",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "colleague@example.com")
				a.EmailCount = 5
				a.HasTwoWayConversation = true
				return a
			},
			confidence: 0.1,
			wantConf:   0.1,
		},
		{
			name: "personalization caps harder",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "assistant@example.com")
				a.EmailCount = 3
				a.PersonalizationHits = 1
				return a
			},
			confidence: 0.7,
			wantConf:   PersonalizationConfidenceCap,
			wantRule:   "personalized",
		},
		{
			name: "two-way wins over personalization",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "mixed@example.com")
				a.EmailCount = 3
				a.HasTwoWayConversation = true
				a.PersonalizationHits = 2
				return a
			},
			confidence: 0.7,
			wantConf:   TwoWayConfidenceCap,
			wantRule:   "two_way_conversation",
		},
		{
			name: "whitelisted keeps confidence",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "deals@shop.example.com")
				a.EmailCount = 10
				return a
			},
			confidence: 0.92,
			whitelist:  staticWhitelist{"deals@shop.example.com": true},
			wantWl:     true,
			wantConf:   0.92,
			wantRule:   "whitelisted",
		},
		{
			name: "clean sender passes through",
			agg: func() *domain.SenderAggregate {
				a := domain.NewSenderAggregate(userID, "news@press.example.com")
				a.EmailCount = 8
				return a
			},
			confidence: 0.88,
			wantConf:   0.88,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(tt.whitelist)
			got := guard.Apply(ctx, userID, tt.agg(), tt.confidence)

			if got.Vetoed != tt.wantVeto {
				t.Errorf("Vetoed = %v, want %v", got.Vetoed, tt.wantVeto)
			}
			if got.Whitelisted != tt.wantWl {
				t.Errorf("Whitelisted = %v, want %v", got.Whitelisted, tt.wantWl)
			}
			if !tt.wantVeto && got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.AppliedRule != tt.wantRule {
				t.Errorf("AppliedRule = %q, want %q", got.AppliedRule, tt.wantRule)
			}
		})
	}
}

func TestLooksPersonalized(t *testing.T) {
	threaded := domain.NewHeaderMap(map[string]string{"In-Reply-To": "<x@example.com>"})

	tests := []struct {
		name      string
		msg       *domain.NormalizedMessage
		firstName string
		want      bool
	}{
		{
			name: "greeting plus threading",
			msg: &domain.NormalizedMessage{
				BodySnippet: "Hi Jordan, following up on your question from yesterday.",
				Headers:     threaded,
			},
			firstName: "Jordan",
			want:      true,
		},
		{
			name: "greeting without threading is template mail",
			msg: &domain.NormalizedMessage{
				BodySnippet: "Hi Jordan, here are this week's top stories.",
				Headers:     domain.NewHeaderMap(nil),
			},
			firstName: "Jordan",
			want:      false,
		},
		{
			name: "greeting names someone else",
			msg: &domain.NormalizedMessage{
				BodySnippet: "Hello Sam, thanks for reaching out.",
				Headers:     threaded,
			},
			firstName: "Jordan",
			want:      false,
		},
		{
			name: "no first name known",
			msg: &domain.NormalizedMessage{
				BodySnippet: "Hi Jordan, quick question.",
				Headers:     threaded,
			},
			firstName: "",
			want:      false,
		},
		{
			name: "case-insensitive match",
			msg: &domain.NormalizedMessage{
				BodySnippet: "hey jordan - got a minute?",
				Headers:     threaded,
			},
			firstName: "Jordan",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksPersonalized(tt.msg, tt.firstName); got != tt.want {
				t.Errorf("LooksPersonalized() = %v, want %v", got, tt.want)
			}
		})
	}
}
