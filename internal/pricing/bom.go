package pricing

// BOMLine is one consumable of a procedure's bill of materials.
type BOMLine struct {
	ProductCode string  `json:"product_code"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UnitCost    float64 `json:"unit_cost"`
}

// BaseCost sums quantity times unit cost over lines, rounded to cents.
func BaseCost(lines []BOMLine) float64 {
	total := 0.0
	for _, l := range lines {
		total += l.Qty * l.UnitCost
	}
	return RoundMoney(total)
}

// MinPriceForMarkup is the catalog's quick floor price: direct cost,
// overhead and gateway fee marked up by markupPercent, plus any fixed
// commission. It ignores percentage commissions; use SolvePrice for those.
func MinPriceForMarkup(baseCost, overhead, gatewayFee, markupPercent, fixedCommission float64) float64 {
	if markupPercent <= 0 {
		return 0
	}
	k := 1 + markupPercent/100
	return RoundMoney((baseCost+overhead+gatewayFee)*k + fixedCommission)
}
