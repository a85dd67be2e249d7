package detection

import (
	"fmt"
	"strings"

	"mailsweep/core/domain"
)

// ScoreResult is the classification outcome for one sender.
type ScoreResult struct {
	Confidence     float64
	Tier           domain.ConfidenceTier
	Category       domain.SubscriptionCategory
	FrequencyClass domain.FrequencyClass
	Signals        []Signal
}

// Scorer turns a sender aggregate into a confidence score and category.
type Scorer struct {
	// FrequencyThreshold is the monthly message count above which the
	// frequency signal fires.
	FrequencyThreshold float64
}

func NewScorer() *Scorer {
	return &Scorer{FrequencyThreshold: 4}
}

// Score evaluates every signal against the aggregate and averages the fired
// weights: the sum of the fired weights divided by the number of signals that
// fired. A sender with no signals at all scores 0.
func (s *Scorer) Score(agg *domain.SenderAggregate) *ScoreResult {
	signals := s.collectSignals(agg)
	freqClass := ClassifyFrequency(agg.IntervalSamples)

	confidence := 0.0
	if len(signals) > 0 {
		sum := 0.0
		for _, sig := range signals {
			sum += sig.Weight
		}
		confidence = sum / float64(len(signals))
	}

	return &ScoreResult{
		Confidence:     confidence,
		Tier:           domain.TierForConfidence(confidence),
		Category:       deriveCategory(agg, signals, freqClass),
		FrequencyClass: freqClass,
		Signals:        signals,
	}
}

func (s *Scorer) collectSignals(agg *domain.SenderAggregate) []Signal {
	var signals []Signal

	if agg.SawOneClick {
		signals = append(signals, Signal{
			Name:   "header:one_click",
			Weight: WeightOneClick,
			Detail: "List-Unsubscribe-Post present",
		})
	}
	if agg.SawListUnsubscribe {
		signals = append(signals, Signal{
			Name:   "header:list_unsubscribe",
			Weight: WeightListUnsub,
			Detail: "List-Unsubscribe present",
		})
	}

	if cat := agg.DominantProviderCategory(); isPromotionalCategory(cat) {
		signals = append(signals, Signal{
			Name:   "provider:category",
			Weight: WeightProviderPromo,
			Detail: string(cat),
		})
	}

	if agg.LastBodyUnsubscribeURL != "" {
		signals = append(signals, Signal{
			Name:   "body:unsubscribe_url",
			Weight: WeightBodyUnsubURL,
			Detail: agg.LastBodyUnsubscribeURL,
		})
	}

	if IsNoReplyAddress(agg.SenderAddress) {
		signals = append(signals, Signal{
			Name:   "sender:no_reply",
			Weight: WeightNoReplySender,
		})
	}

	if freq := agg.MonthlyFrequency(); freq > s.FrequencyThreshold {
		bonus := freq / 20
		if bonus > FrequencyBonusCap {
			bonus = FrequencyBonusCap
		}
		signals = append(signals, Signal{
			Name:   "volume:frequency",
			Weight: WeightFrequency + bonus,
			Detail: fmt.Sprintf("%.1f/month", freq),
		})
	}

	if subjectsMatchBulk(agg.RecentSubjects) {
		signals = append(signals, Signal{
			Name:   "subject:bulk_pattern",
			Weight: WeightBulkSubject,
		})
	}

	return signals
}

// subjectsMatchBulk fires when any recent subject looks promotional.
func subjectsMatchBulk(subjects []string) bool {
	for _, s := range subjects {
		if HasBulkSubject(s) {
			return true
		}
	}
	return false
}

// deriveCategory picks the subscription category from the strongest evidence
// available. Provider categories win; subject and header hints break ties.
func deriveCategory(agg *domain.SenderAggregate, signals []Signal, freqClass domain.FrequencyClass) domain.SubscriptionCategory {
	switch agg.DominantProviderCategory() {
	case domain.ProviderCategorySocial:
		return domain.CategorySocial
	case domain.ProviderCategoryPromotions:
		return domain.CategoryMarketing
	case domain.ProviderCategoryUpdates:
		return domain.CategoryNotification
	case domain.ProviderCategoryForums:
		return domain.CategoryNewsletter
	}

	for _, s := range agg.RecentSubjects {
		if hasNewsletterSubject(s) {
			return domain.CategoryNewsletter
		}
	}
	if subjectsMatchBulk(agg.RecentSubjects) {
		return domain.CategoryMarketing
	}
	if agg.SawListUnsubscribe || agg.SawOneClick {
		if freqClass == domain.FrequencyDaily || freqClass == domain.FrequencyWeekly {
			return domain.CategoryNewsletter
		}
		return domain.CategoryMarketing
	}
	return domain.CategoryOther
}

var newsletterSubjectWords = []string{"newsletter", "digest", "weekly", "monthly", "roundup", "edition", "issue #"}

func hasNewsletterSubject(subject string) bool {
	lower := strings.ToLower(subject)
	for _, w := range newsletterSubjectWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
