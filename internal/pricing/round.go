package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RoundMoney rounds a currency amount to cents, half away from zero.
func RoundMoney(v float64) float64 {
	return roundPlaces(v, 2)
}

// RoundRate rounds a rate or percentage to the internal precision of 4 places.
func RoundRate(v float64) float64 {
	return roundPlaces(v, 4)
}

// FormatPercent renders a percentage for display with 2 decimal places.
func FormatPercent(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprintf("%v%%", v)
	}
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

func roundPlaces(v float64, places int32) float64 {
	// decimal cannot represent infinities; break-even results rely on them.
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
