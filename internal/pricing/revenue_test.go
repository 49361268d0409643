package pricing

import "testing"

func clinicRevenueTiers() []RevenueTier {
	return []RevenueTier{
		{Min: 0, Rate: 0.10},
		{Min: 25000, Rate: 0.125},
		{Min: 60000, Rate: 0.175},
		{Min: 100000, Rate: 0.225},
	}
}

func TestRateForRevenue_HighestFloorWins(t *testing.T) {
	tiers := clinicRevenueTiers()

	nearlyEqual(t, "24999", RateForRevenue(24999, tiers), 0.10)
	nearlyEqual(t, "25000", RateForRevenue(25000, tiers), 0.125)
	nearlyEqual(t, "59999.99", RateForRevenue(59999.99, tiers), 0.125)
	nearlyEqual(t, "60000", RateForRevenue(60000, tiers), 0.175)
	nearlyEqual(t, "150000", RateForRevenue(150000, tiers), 0.225)
}

func TestRateForRevenue_SortsWithoutTouchingCaller(t *testing.T) {
	tiers := []RevenueTier{
		{Min: 100000, Rate: 0.225},
		{Min: 0, Rate: 0.10},
		{Min: 60000, Rate: 0.175},
		{Min: 25000, Rate: 0.125},
	}

	nearlyEqual(t, "70000", RateForRevenue(70000, tiers), 0.175)
	if tiers[0].Min != 100000 || tiers[3].Min != 25000 {
		t.Fatalf("caller slice was reordered: %+v", tiers)
	}
}

func TestRateForRevenue_EdgeCases(t *testing.T) {
	nearlyEqual(t, "no tiers", RateForRevenue(50000, nil), 0)
	nearlyEqual(t, "below lowest floor", RateForRevenue(10, []RevenueTier{{Min: 1000, Rate: 0.05}, {Min: 5000, Rate: 0.08}}), 0.05)
}
