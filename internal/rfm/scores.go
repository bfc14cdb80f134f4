// Package rfm scores customers on recency, frequency and monetary value
// and classifies them into behavioral segments.
package rfm

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"merchpulse.io/pulse/internal/domain"
)

// rankable is one customer's raw axis values plus its id for
// deterministic tie-breaking.
type rankable struct {
	id         uuid.UUID
	days       int
	orders     int
	totalSpent decimal.Decimal
}

// ntileBucket returns the 1-based NTILE bucket for position idx among n
// rows split into `buckets` groups. Earlier buckets take the remainder
// rows, matching SQL NTILE.
func ntileBucket(idx, n, buckets int) int {
	if n <= 0 {
		return 0
	}
	base := n / buckets
	rem := n % buckets
	// First rem buckets hold base+1 rows.
	cutover := rem * (base + 1)
	if idx < cutover {
		return idx/(base+1) + 1
	}
	if base == 0 {
		return buckets
	}
	return rem + (idx-cutover)/base + 1
}

// cutPoints are the quintile boundaries of one ranked population,
// captured so later single-customer rescoring can bucket without
// re-ranking. recencyDays[i] is the fewest days in bucket i+1 (recency
// ranks days descending); frequencyOrders[i] and monetarySpend[i] are
// the largest value in bucket i+1.
type cutPoints struct {
	recencyDays     [4]int
	frequencyOrders [4]int
	monetarySpend   [4]decimal.Decimal
}

// scorePopulation assigns 1–5 scores to every customer and returns the
// quintile cut points alongside. Recency ranks daysSinceLastOrder
// descending so the most recent buyers land in bucket 5; frequency and
// monetary rank ascending. Ties are broken by customer id ascending so
// repeated runs over identical data produce identical scores.
func scorePopulation(customers []rankable) (map[uuid.UUID]domain.RFMScores, cutPoints) {
	n := len(customers)
	scores := make(map[uuid.UUID]domain.RFMScores, n)
	var cuts cutPoints
	if n == 0 {
		return scores, cuts
	}

	byRecency := make([]rankable, n)
	copy(byRecency, customers)
	sort.Slice(byRecency, func(i, j int) bool {
		if byRecency[i].days != byRecency[j].days {
			return byRecency[i].days > byRecency[j].days
		}
		return lessID(byRecency[i].id, byRecency[j].id)
	})

	byFrequency := make([]rankable, n)
	copy(byFrequency, customers)
	sort.Slice(byFrequency, func(i, j int) bool {
		if byFrequency[i].orders != byFrequency[j].orders {
			return byFrequency[i].orders < byFrequency[j].orders
		}
		return lessID(byFrequency[i].id, byFrequency[j].id)
	})

	byMonetary := make([]rankable, n)
	copy(byMonetary, customers)
	sort.Slice(byMonetary, func(i, j int) bool {
		if cmp := byMonetary[i].totalSpent.Cmp(byMonetary[j].totalSpent); cmp != 0 {
			return cmp < 0
		}
		return lessID(byMonetary[i].id, byMonetary[j].id)
	})

	var recSet, freqSet, monSet [4]bool
	for idx, c := range byRecency {
		s := scores[c.id]
		s.Recency = ntileBucket(idx, n, 5)
		scores[c.id] = s
		if s.Recency <= 4 {
			// Last row of each bucket wins: the fewest days in it.
			cuts.recencyDays[s.Recency-1] = c.days
			recSet[s.Recency-1] = true
		}
	}
	for idx, c := range byFrequency {
		s := scores[c.id]
		s.Frequency = ntileBucket(idx, n, 5)
		scores[c.id] = s
		if s.Frequency <= 4 {
			cuts.frequencyOrders[s.Frequency-1] = c.orders
			freqSet[s.Frequency-1] = true
		}
	}
	for idx, c := range byMonetary {
		s := scores[c.id]
		s.Monetary = ntileBucket(idx, n, 5)
		scores[c.id] = s
		if s.Monetary <= 4 {
			cuts.monetarySpend[s.Monetary-1] = c.totalSpent
			monSet[s.Monetary-1] = true
		}
	}

	// Tiny populations leave some buckets empty; carry the previous cut
	// so bucketing stays monotonic.
	for i := 1; i < 4; i++ {
		if !recSet[i] && recSet[i-1] {
			cuts.recencyDays[i] = cuts.recencyDays[i-1]
			recSet[i] = true
		}
		if !freqSet[i] && freqSet[i-1] {
			cuts.frequencyOrders[i] = cuts.frequencyOrders[i-1]
			freqSet[i] = true
		}
		if !monSet[i] && monSet[i-1] {
			cuts.monetarySpend[i] = cuts.monetarySpend[i-1]
			monSet[i] = true
		}
	}
	return scores, cuts
}

// bucketRecency buckets a days-since-last-order value against stored
// cut points. More days means an older customer and a lower score.
func bucketRecency(days int, cuts [4]int) int {
	for i, c := range cuts {
		if days >= c {
			return i + 1
		}
	}
	return 5
}

// bucketAscInt buckets an ascending-ranked integer axis value.
func bucketAscInt(v int, cuts [4]int) int {
	for i, c := range cuts {
		if v <= c {
			return i + 1
		}
	}
	return 5
}

// bucketAscDecimal buckets an ascending-ranked decimal axis value.
func bucketAscDecimal(v decimal.Decimal, cuts [4]decimal.Decimal) int {
	for i := range cuts {
		if v.Cmp(cuts[i]) <= 0 {
			return i + 1
		}
	}
	return 5
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Classify maps the three scores to a segment. Rules are checked in
// priority order; the first match wins.
func Classify(s domain.RFMScores) domain.RFMSegment {
	r, f, m := s.Recency, s.Frequency, s.Monetary
	switch {
	case r >= 4 && f >= 4 && m >= 4:
		return domain.SegmentChampions
	case r >= 3 && f >= 4 && m >= 3:
		return domain.SegmentLoyal
	case r <= 2 && f >= 4 && m >= 4:
		return domain.SegmentCannotLose
	case r >= 2 && r <= 3 && f >= 3 && m >= 3:
		return domain.SegmentAtRisk
	case r >= 4 && f == 1 && m <= 2:
		return domain.SegmentNewCustomers
	case r >= 4 && f <= 2 && m <= 2:
		return domain.SegmentPromising
	case r >= 3 && f >= 2 && f <= 3 && m >= 2:
		return domain.SegmentPotentialLoyalist
	case r >= 2 && r <= 3 && f >= 2 && f <= 3 && m >= 2 && m <= 3:
		return domain.SegmentNeedAttention
	case r >= 2 && r <= 3 && f <= 2 && m <= 2:
		return domain.SegmentAboutToSleep
	case r <= 2 && f <= 2 && m <= 2 && !(r == 1 && f == 1 && m == 1):
		return domain.SegmentHibernating
	default:
		return domain.SegmentLost
	}
}

// sortDecimals sorts values ascending in place.
func sortDecimals(values []decimal.Decimal) {
	sort.Slice(values, func(i, j int) bool { return values[i].Cmp(values[j]) < 0 })
}

// nearestRankThreshold returns the value at percentile p over sorted
// ascending values, using the nearest-rank method.
func nearestRankThreshold(sorted []decimal.Decimal, p float64) (decimal.Decimal, bool) {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero, false
	}
	rank := int(math.Ceil(float64(n) * p))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1], true
}
