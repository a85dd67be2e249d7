package detection

import (
	"math"
	"time"

	"mailsweep/core/domain"
)

// Cadence classification cutoffs on the mean inter-arrival interval.
var (
	dailyMeanMax   = (3 * 24 * time.Hour).Seconds()
	weeklyMeanMax  = (14 * 24 * time.Hour).Seconds()
	monthlyMeanMax = (45 * 24 * time.Hour).Seconds()
)

// ClassifyFrequency buckets a sender's cadence by the mean of its
// inter-arrival samples; the spread only decides whether the cadence counts
// as regular at all. Fewer than two samples is irregular.
func ClassifyFrequency(samples []float64) domain.FrequencyClass {
	if len(samples) < 2 {
		return domain.FrequencyIrregular
	}

	if regularityScore(samples) <= 0 {
		return domain.FrequencyIrregular
	}
	mean := meanOf(samples)
	switch {
	case mean < dailyMeanMax:
		return domain.FrequencyDaily
	case mean < weeklyMeanMax:
		return domain.FrequencyWeekly
	case mean < monthlyMeanMax:
		return domain.FrequencyMonthly
	default:
		return domain.FrequencyIrregular
	}
}

// regularityScore measures cadence consistency in [0, 1]. 1 means perfectly
// even spacing; 0 means the spread is as large as the mean or larger, which
// disqualifies the cadence from any regular bucket.
func regularityScore(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := meanOf(samples)
	if mean <= 0 {
		return 0
	}
	score := 1 - populationStddev(samples)/mean
	if score < 0 {
		return 0
	}
	return score
}

func meanOf(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func populationStddev(samples []float64) float64 {
	mean := meanOf(samples)
	variance := 0.0
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance)
}
