package pricing

import "testing"

func TestFees_DiscountAppliesBeforeRates(t *testing.T) {
	fees, pad := Fees(1000, 0.03, 0.10, 0.05)

	nearlyEqual(t, "priceAfterDiscount", pad, 900)
	nearlyEqual(t, "fees", fees, 72)
}

func TestFlatGatewayFees(t *testing.T) {
	fees, pad := FlatGatewayFees(300, 12, 0, 0)
	nearlyEqual(t, "no taxes fees", fees, 12)
	nearlyEqual(t, "no discount pad", pad, 300)

	fees, pad = FlatGatewayFees(1000, 5, 0.10, 0.05)
	nearlyEqual(t, "taxed fees", fees, 50)
	nearlyEqual(t, "discounted pad", pad, 900)
}

func TestAllocationOverhead(t *testing.T) {
	cases := []struct {
		name string
		o    AllocationOverhead
		want float64
	}{
		{"per hour", AllocationOverhead{Model: OverheadPerHour, RateValue: 120, DurationMinutes: 45}, 90},
		{"per hour upper case", AllocationOverhead{Model: "PER_HOUR", RateValue: 60, DurationMinutes: 30}, 30},
		{"per session", AllocationOverhead{Model: OverheadPerSession, RateValue: 35, DurationMinutes: 90}, 35},
		{"per revenue", AllocationOverhead{Model: OverheadPerRevenue, RateValue: 0.1}, 30},
		{"none", AllocationOverhead{Model: OverheadNone, RateValue: 99}, 0},
		{"unknown", AllocationOverhead{Model: "per_day", RateValue: 99}, 0},
	}

	for _, tc := range cases {
		nearlyEqual(t, tc.name, tc.o.Amount(1000, 300), tc.want)
	}
}

func TestBOMOverhead(t *testing.T) {
	o := BOMOverhead{Fixed: 10, Rate: 0.2}

	nearlyEqual(t, "overhead", o.Amount(50, 9999), 20)
	nearlyEqual(t, "zero bom", o.Amount(0, 9999), 10)
}
