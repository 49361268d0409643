package pricing

import "strings"

// Overhead allocates indirect costs to a single procedure sale. Strategies
// read either the BOM cost or the sale price depending on their convention.
type Overhead interface {
	Amount(baseCost, salePrice float64) float64
}

// OverheadModel names an allocation convention of the procedure catalog.
type OverheadModel string

const (
	OverheadNone       OverheadModel = "none"
	OverheadPerHour    OverheadModel = "per_hour"
	OverheadPerSession OverheadModel = "per_session"
	OverheadPerRevenue OverheadModel = "per_revenue"
)

// AllocationOverhead is the catalog convention: by duration, flat per
// session, or as a share of the sale price.
type AllocationOverhead struct {
	Model           OverheadModel `json:"model"`
	RateValue       float64       `json:"rate_value"`
	DurationMinutes float64       `json:"duration_minutes"`
}

func (o AllocationOverhead) Amount(_, salePrice float64) float64 {
	switch OverheadModel(strings.ToLower(string(o.Model))) {
	case OverheadPerHour:
		return o.RateValue * o.DurationMinutes / 60
	case OverheadPerSession:
		return o.RateValue
	case OverheadPerRevenue:
		return o.RateValue * salePrice
	default:
		return 0
	}
}

// BOMOverhead is the unit pricing and portfolio convention: a fixed amount
// plus a share of the BOM cost.
type BOMOverhead struct {
	Fixed float64 `json:"fixed"`
	Rate  float64 `json:"rate"`
}

func (o BOMOverhead) Amount(baseCost, _ float64) float64 {
	return o.Fixed + o.Rate*baseCost
}
