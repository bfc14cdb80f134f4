// Package churn estimates the probability that a customer has lapsed,
// using an exponential decay model over days past the customer's
// expected reorder interval.
package churn

import (
	"math"
	"sort"
	"time"

	"merchpulse.io/pulse/internal/domain"
)

// RiskLevel bands a churn probability for operators.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Probability cutoffs for the risk bands. MediumThreshold doubles as
// the isChurnRisk flag cutoff during tenant sweeps.
const (
	MediumThreshold   = 0.3
	HighThreshold     = 0.6
	CriticalThreshold = 0.8
)

// Per-segment base decay rates. Engaged segments decay slowly, lapsed
// ones fast.
var segmentDecayRates = map[domain.RFMSegment]float64{
	domain.SegmentChampions:         0.005,
	domain.SegmentLoyal:             0.008,
	domain.SegmentPotentialLoyalist: 0.015,
	domain.SegmentNewCustomers:      0.020,
	domain.SegmentPromising:         0.025,
	domain.SegmentNeedAttention:     0.030,
	domain.SegmentAboutToSleep:      0.035,
	domain.SegmentAtRisk:            0.040,
	domain.SegmentCannotLose:        0.045,
	domain.SegmentHibernating:       0.050,
	domain.SegmentLost:              0.060,
}

// defaultDecayRate applies to customers not yet classified by an RFM run.
const defaultDecayRate = 0.030

// highValueDampener slows decay for customers flagged high-value.
const highValueDampener = 0.7

// decayRate returns the adjusted λ for a customer: the segment base
// rate, scaled by the RFM-mean multiplier and the high-value dampener.
func decayRate(segment domain.RFMSegment, scores domain.RFMScores, isHighValue bool) float64 {
	base, ok := segmentDecayRates[segment]
	if !ok {
		base = defaultDecayRate
	}

	rate := base * scoreMultiplier(scores.Mean())
	if isHighValue {
		rate *= highValueDampener
	}
	return rate
}

// scoreMultiplier maps the mean RFM score onto a decay multiplier,
// linear from 1.5x at mean 1 down to 0.5x at mean 5. Unscored customers
// (mean 0) get the neutral 1.0x.
func scoreMultiplier(mean float64) float64 {
	if mean <= 0 {
		return 1.0
	}
	if mean < 1 {
		mean = 1
	}
	if mean > 5 {
		mean = 5
	}
	return 1.75 - 0.25*mean
}

// probability evaluates P = 1 − e^(−λ·t) for t days overdue.
func probability(lambda float64, daysOverdue int) float64 {
	if daysOverdue <= 0 {
		return 0
	}
	return 1 - math.Exp(-lambda*float64(daysOverdue))
}

// bandFor assigns the risk band for a probability.
func bandFor(p float64) RiskLevel {
	switch {
	case p >= CriticalThreshold:
		return RiskCritical
	case p >= HighThreshold:
		return RiskHigh
	case p >= MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// medianGapDays returns the median day gap between consecutive order
// dates. The bool is false when fewer than two orders exist.
func medianGapDays(dates []time.Time) (float64, bool) {
	if len(dates) < 2 {
		return 0, false
	}

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]).Hours()/24)
	}
	sort.Float64s(gaps)

	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid], true
	}
	return (gaps[mid-1] + gaps[mid]) / 2, true
}
