package pricing

import (
	"cmp"
	"slices"
)

// RateForRevenue returns the commission rate of the highest revenue floor
// not above revenue. Floors are sorted here, so callers may pass them in
// any order; their slice is left untouched. Revenue below the lowest floor
// still gets the lowest tier's rate. No tiers means no commission.
func RateForRevenue(revenue float64, tiers []RevenueTier) float64 {
	if len(tiers) == 0 {
		return 0
	}

	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b RevenueTier) int {
		return cmp.Compare(a.Min, b.Min)
	})

	rate := sorted[0].Rate
	for _, t := range sorted {
		if revenue < t.Min {
			break
		}
		rate = t.Rate
	}
	return rate
}
