package segmentation

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

// VIPThresholds are the cut-offs above which a customer is VIP.
type VIPThresholds struct {
	Spend      decimal.Decimal `json:"spend"`
	Visits     int             `json:"visits"`
	Population int             `json:"population"`
	Fallback   bool            `json:"fallback"`
}

// IsVIP reports whether the 12 month values reach either threshold. A
// customer without a visit in the last 12 months is never VIP.
func (t VIPThresholds) IsVIP(spent12m decimal.Decimal, visits12m int) bool {
	if visits12m <= 0 {
		return false
	}
	return spent12m.GreaterThanOrEqual(t.Spend) || visits12m >= t.Visits
}

// ComputeVIPThresholds resolves the thresholds for a restaurant. The
// population is every customer with a visit in the last 12 months; below
// VIPMinPopulation the fixed fallback values are used instead of percentiles.
func ComputeVIPThresholds(histories []models.CustomerHistory, now time.Time, settings models.SegmentationSettings) VIPThresholds {
	cutoff := now.Add(-year)

	spends := make([]decimal.Decimal, 0, len(histories))
	visits := make([]int, 0, len(histories))
	for _, h := range histories {
		count := 0
		spent := decimal.Zero
		for _, v := range h.Visits {
			if v.VisitedAt.After(cutoff) {
				count++
				spent = spent.Add(v.Amount)
			}
		}
		if count == 0 {
			continue
		}
		spends = append(spends, spent)
		visits = append(visits, count)
	}

	if len(spends) < settings.VIPMinPopulation {
		return VIPThresholds{
			Spend:      settings.VIPFallbackSpend,
			Visits:     settings.VIPFallbackVisits,
			Population: len(spends),
			Fallback:   true,
		}
	}

	sort.Slice(spends, func(i, j int) bool { return spends[i].LessThan(spends[j]) })
	sort.Ints(visits)

	idx := nearestRank(settings.VIPPercentile, len(spends))
	return VIPThresholds{
		Spend:      spends[idx],
		Visits:     visits[idx],
		Population: len(spends),
	}
}

// nearestRank returns the zero-based index of the p-th percentile in a sorted
// slice of length n.
func nearestRank(p float64, n int) int {
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return rank - 1
}
