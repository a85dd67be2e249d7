package detection

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
)

// buildAggregate folds n inbound messages at a fixed interval, applying extra
// headers and category to every message.
func buildAggregate(sender string, n int, interval time.Duration, headers map[string]string, cat domain.ProviderCategory) *domain.SenderAggregate {
	agg := domain.NewSenderAggregate(uuid.New(), sender)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		msg := &domain.NormalizedMessage{
			ID:               fmt.Sprintf("m%d", i),
			SenderAddress:    sender,
			Subject:          fmt.Sprintf("Issue %d", i),
			Headers:          domain.NewHeaderMap(headers),
			ReceivedAt:       base.Add(time.Duration(i) * interval),
			ProviderCategory: cat,
		}
		agg.Fold(msg)
	}
	return agg
}

func TestScoreOneClickSender(t *testing.T) {
	agg := buildAggregate("deals@shop.example.com", 6, 48*time.Hour, map[string]string{
		"List-Unsubscribe":      "<https://shop.example.com/unsub>",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}, domain.ProviderCategoryPromotions)

	result := NewScorer().Score(agg)

	if result.Confidence < 0.8 {
		t.Errorf("one-click sender confidence = %v, want >= 0.8", result.Confidence)
	}
	if result.Tier != domain.TierConfirmed {
		t.Errorf("tier = %v, want confirmed", result.Tier)
	}
	if result.Confidence >= 1 {
		t.Errorf("confidence must stay below 1, got %v", result.Confidence)
	}
}

func TestScoreWeeklyNewsletter(t *testing.T) {
	agg := buildAggregate("newsletter@press.example.com", 12, 7*24*time.Hour, map[string]string{
		"List-Unsubscribe": "<mailto:unsub@press.example.com>",
	}, domain.ProviderCategoryUnknown)

	result := NewScorer().Score(agg)

	if result.Tier != domain.TierLikely {
		t.Errorf("weekly newsletter tier = %v (confidence %v), want likely", result.Tier, result.Confidence)
	}
	if result.FrequencyClass != domain.FrequencyWeekly {
		t.Errorf("frequency class = %v, want weekly", result.FrequencyClass)
	}
	if result.Category != domain.CategoryNewsletter {
		t.Errorf("category = %v, want newsletter", result.Category)
	}
}

func TestScoreSubjectOnlySender(t *testing.T) {
	agg := domain.NewSenderAggregate(uuid.New(), "contact@boutique.example.com")
	agg.Fold(&domain.NormalizedMessage{
		ID:            "m1",
		SenderAddress: "contact@boutique.example.com",
		Subject:       "Spring SALE starts now",
		ReceivedAt:    time.Now(),
	})

	result := NewScorer().Score(agg)

	if result.Confidence != WeightBulkSubject {
		t.Errorf("subject-only confidence = %v, want exactly %v", result.Confidence, WeightBulkSubject)
	}
	if result.Tier != domain.TierPossible {
		t.Errorf("tier = %v, want possible", result.Tier)
	}
}

func TestScoreAveragesFiredWeights(t *testing.T) {
	// Promotional category, automated local part, bulk subject; no headers,
	// no volume history. Three mid-strength signals must average out to a
	// possible-tier score, not compound toward confirmed.
	agg := domain.NewSenderAggregate(uuid.New(), "noreply@store.example.com")
	agg.Fold(&domain.NormalizedMessage{
		ID:               "m1",
		SenderAddress:    "noreply@store.example.com",
		Subject:          "Weekly deals inside",
		ReceivedAt:       time.Now(),
		ProviderCategory: domain.ProviderCategoryPromotions,
	})

	result := NewScorer().Score(agg)

	want := (WeightProviderPromo + WeightNoReplySender + WeightBulkSubject) / 3
	if math.Abs(result.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", result.Confidence, want)
	}
	if result.Tier != domain.TierPossible {
		t.Errorf("tier = %v, want possible", result.Tier)
	}
}

func TestScoreEmptyAggregate(t *testing.T) {
	agg := domain.NewSenderAggregate(uuid.New(), "quiet@example.com")

	result := NewScorer().Score(agg)

	if result.Confidence != 0 {
		t.Errorf("no-signal confidence = %v, want 0", result.Confidence)
	}
	if result.Tier != domain.TierUnlikely {
		t.Errorf("tier = %v, want unlikely", result.Tier)
	}
	if len(result.Signals) != 0 {
		t.Errorf("signals = %v, want none", result.Signals)
	}
}

func TestScoreMonotoneInEvidence(t *testing.T) {
	weak := domain.NewSenderAggregate(uuid.New(), "updates@app.example.com")
	weak.Fold(&domain.NormalizedMessage{
		ID:            "m1",
		SenderAddress: "updates@app.example.com",
		Subject:       "hello",
		ReceivedAt:    time.Now(),
	})

	strong := buildAggregate("updates@app.example.com", 10, 24*time.Hour, map[string]string{
		"List-Unsubscribe": "<https://app.example.com/unsub>",
	}, domain.ProviderCategoryUpdates)

	scorer := NewScorer()
	if w, s := scorer.Score(weak).Confidence, scorer.Score(strong).Confidence; s <= w {
		t.Errorf("more evidence must not lower confidence: weak=%v strong=%v", w, s)
	}
}

func TestDeriveCategoryFromProvider(t *testing.T) {
	tests := []struct {
		cat  domain.ProviderCategory
		want domain.SubscriptionCategory
	}{
		{domain.ProviderCategorySocial, domain.CategorySocial},
		{domain.ProviderCategoryPromotions, domain.CategoryMarketing},
		{domain.ProviderCategoryUpdates, domain.CategoryNotification},
		{domain.ProviderCategoryForums, domain.CategoryNewsletter},
	}
	for _, tt := range tests {
		agg := buildAggregate("x@example.com", 3, 24*time.Hour, nil, tt.cat)
		result := NewScorer().Score(agg)
		if result.Category != tt.want {
			t.Errorf("category for %v = %v, want %v", tt.cat, result.Category, tt.want)
		}
	}
}
