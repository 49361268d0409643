package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
)

func twoProcedureScenario() Scenario {
	return Scenario{
		Procedures: []Procedure{
			{Name: "Limpeza de pele", Price: 50, Mix: 0.5},
			{Name: "Peeling", Price: 30, Mix: 0.5},
		},
		FixedCosts: 10000,
		Mode:       QuantityByMix,
	}
}

func TestSimulate_PlannedBreakEven(t *testing.T) {
	out, err := Simulate(twoProcedureScenario())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	nearlyEqual(t, "contribution[0]", out.Lines[0].Contribution, 50)
	nearlyEqual(t, "contribution[1]", out.Lines[1].Contribution, 30)
	nearlyEqual(t, "avgPlanned", out.AvgContributionPlanned, 40)
	nearlyEqual(t, "breakEvenUnits", out.BreakEvenUnitsPlanned, 250)
	nearlyEqual(t, "avgEffective without sales", out.AvgContributionActual, 40)
	nearlyEqual(t, "shortfall", out.Shortfall, 10000)
	nearlyEqual(t, "additional planned", out.AdditionalUnitsPlanned, 250)
	nearlyEqual(t, "attainment", out.AttainmentPercent, 0)
}

func TestSimulate_TotalUnitsSpreadByMix(t *testing.T) {
	s := twoProcedureScenario()
	s.Procedures[0].Mix = 2
	s.Procedures[1].Mix = 6
	s.TotalUnits = 200

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	nearlyEqual(t, "mix[0]", out.Lines[0].Mix, 0.25)
	nearlyEqual(t, "qty[0]", out.Lines[0].Quantity, 50)
	nearlyEqual(t, "qty[1]", out.Lines[1].Quantity, 150)
	nearlyEqual(t, "gross", out.GrossRevenue, 50*50+30*150)
	nearlyEqual(t, "avgPlanned", out.AvgContributionPlanned, 35)
}

func TestSimulate_ZeroMixFallsBackToUniform(t *testing.T) {
	s := twoProcedureScenario()
	s.Procedures[0].Mix = 0
	s.Procedures[1].Mix = -3

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "mix[0]", out.Lines[0].Mix, 0.5)
	nearlyEqual(t, "mix[1]", out.Lines[1].Mix, 0.5)
}

func TestSimulate_ExplicitQuantities(t *testing.T) {
	s := twoProcedureScenario()
	s.Mode = QuantityExplicit
	s.TotalUnits = 999
	s.Procedures[0].Quantity = 100
	s.Procedures[1].Quantity = 50

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	nearlyEqual(t, "units", out.UnitsSold, 150)
	nearlyEqual(t, "gross", out.GrossRevenue, 6500)
	nearlyEqual(t, "contribution", out.Contribution, 6500)
	nearlyEqual(t, "shortfall", out.Shortfall, 3500)
	nearlyEqual(t, "avgEffective", out.AvgContributionActual, 43.33)
	within(t, "additional effective", out.AdditionalUnitsEffective, 3500/(6500.0/150), 1e-3)
	nearlyEqual(t, "additional planned", out.AdditionalUnitsPlanned, 87.5)
	nearlyEqual(t, "attainment", out.AttainmentPercent, 65)
	nearlyEqual(t, "realized margin", out.RealizedMarginPercent, 100)
}

func TestSimulate_BreakEvenReachedNeedsNoMoreUnits(t *testing.T) {
	s := twoProcedureScenario()
	s.TotalUnits = 1000

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "shortfall", out.Shortfall, 0)
	nearlyEqual(t, "additional", out.AdditionalUnitsEffective, 0)
	nearlyEqual(t, "attainment capped", out.AttainmentPercent, 100)
}

func TestSimulate_NonPositiveContributionIsUnreachable(t *testing.T) {
	s := Scenario{
		Procedures: []Procedure{{Name: "Laser", Price: 10, BaseCost: 20, Mix: 1}},
		FixedCosts: 5000,
	}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !math.IsInf(out.BreakEvenUnitsPlanned, 1) {
		t.Fatalf("break-even = %v, want +Inf", out.BreakEvenUnitsPlanned)
	}
	if !math.IsInf(out.AdditionalUnitsPlanned, 1) || !math.IsInf(out.AdditionalUnitsEffective, 1) {
		t.Fatalf("additional units should be +Inf, got %v / %v", out.AdditionalUnitsPlanned, out.AdditionalUnitsEffective)
	}
}

func TestSimulate_EmptyPortfolio(t *testing.T) {
	out, err := Simulate(Scenario{FixedCosts: 100})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(out.Lines) != 0 || !math.IsInf(out.BreakEvenUnitsPlanned, 1) {
		t.Fatalf("unexpected empty portfolio result: %+v", out)
	}
}

func TestSimulate_ContributionExcludesFixedOverhead(t *testing.T) {
	s := Scenario{Procedures: []Procedure{{
		Name:     "Botox",
		Price:    200,
		BaseCost: 50,
		Overhead: BOMOverhead{Fixed: 30, Rate: 0.1},
		Mix:      1,
	}}}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "overhead", out.Lines[0].Overhead, 35)
	nearlyEqual(t, "profit", out.Lines[0].Profit, 115)
	nearlyEqual(t, "contribution", out.Lines[0].Contribution, 145)
	nearlyEqual(t, "margin", out.Lines[0].MarginPercent, 57.5)
}

func TestSimulate_RevenueTiersReplaceProcedureCommission(t *testing.T) {
	s := Scenario{
		Procedures: []Procedure{
			{Name: "Preenchimento", Price: 1000, Commission: PercentCommission{Rate: 0.5}, Mix: 1},
			{Name: "Microagulhamento", Price: 500, Commission: FixedCommission{Value: 300}, Mix: 1},
		},
		TotalUnits:      40,
		UseRevenueTiers: true,
		RevenueTiers:    clinicRevenueTiers(),
	}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	nearlyEqual(t, "gross", out.GrossRevenue, 30000)
	if out.EffectiveCommissionRate == nil {
		t.Fatalf("expected effective commission rate")
	}
	nearlyEqual(t, "rate", *out.EffectiveCommissionRate, 0.125)
	nearlyEqual(t, "commission[0]", out.Lines[0].Commission, 125)
	nearlyEqual(t, "commission[1]", out.Lines[1].Commission, 62.5)
	nearlyEqual(t, "contribution", out.Contribution, 26250)
	nearlyEqual(t, "profit", out.Profit, 26250)
	if out.Lines[1].CommissionModel != CommissionPercent {
		t.Fatalf("expected percent model under revenue tiers, got %q", out.Lines[1].CommissionModel)
	}
}

func TestSimulate_ProjectedRevenueSelectsTier(t *testing.T) {
	s := Scenario{
		Procedures:       []Procedure{{Name: "Preenchimento", Price: 1000, Mix: 1}},
		TotalUnits:       10,
		UseRevenueTiers:  true,
		RevenueTiers:     clinicRevenueTiers(),
		ProjectedRevenue: 70000,
	}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "rate", *out.EffectiveCommissionRate, 0.175)
	nearlyEqual(t, "revenue for tier", out.RevenueForTier, 70000)
	nearlyEqual(t, "gross", out.GrossRevenue, 10000)
	nearlyEqual(t, "commission", out.Lines[0].Commission, 175)
}

func TestSimulate_UnknownModeIsValidationError(t *testing.T) {
	s := twoProcedureScenario()
	s.Mode = "weekly"

	_, err := Simulate(s)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "mode" {
		t.Fatalf("expected mode validation error, got %v", err)
	}
}

func TestSimulate_UnknownCommissionWarns(t *testing.T) {
	s := twoProcedureScenario()
	s.Procedures[0].Commission = UnknownCommission{Name: "bonus"}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Code != CodeUnknownCommissionModel {
		t.Fatalf("expected one warning, got %+v", out.Messages)
	}
}

func TestScenario_SwitchModeResetsQuantities(t *testing.T) {
	s := twoProcedureScenario()
	s.Mode = QuantityExplicit
	s.Procedures[0].Quantity = 12

	same := s.SwitchMode(QuantityExplicit)
	nearlyEqual(t, "same mode keeps quantity", same.Procedures[0].Quantity, 12)

	switched := s.SwitchMode(QuantityByMix)
	if switched.Mode != QuantityByMix {
		t.Fatalf("mode = %q", switched.Mode)
	}
	nearlyEqual(t, "switched quantity", switched.Procedures[0].Quantity, 0)
	nearlyEqual(t, "original untouched", s.Procedures[0].Quantity, 12)
}

func overrideScenario() Scenario {
	return Scenario{
		Procedures: []Procedure{{
			Name:         "Botox",
			Price:        100,
			BaseCost:     20,
			DiscountRate: 0.1,
			Overhead:     BOMOverhead{Fixed: 10},
			Commission:   PercentCommission{Rate: 0.2},
			Mix:          1,
		}},
		Mode: QuantityByMix,
	}
}

func TestSimulate_PositiveOverridesWin(t *testing.T) {
	s := overrideScenario()
	s.Overrides = Overrides{GatewayRate: 0.05, CommissionRate: 0.3, OverheadFixed: 15}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "fees", out.Lines[0].Fees, 4.5)
	nearlyEqual(t, "commission", out.Lines[0].Commission, 30)
	nearlyEqual(t, "overhead", out.Lines[0].Overhead, 15)
	// 90 - 4.5 - (20 + 15 + 30)
	nearlyEqual(t, "profit", out.Lines[0].Profit, 20.5)
	if _, ok := s.Procedures[0].Commission.(PercentCommission); !ok || s.Procedures[0].GatewayRate != 0 {
		t.Fatalf("scenario rows were modified: %+v", s.Procedures[0])
	}
}

func TestSimulate_ZeroOverridesKeepRowValues(t *testing.T) {
	base, err := Simulate(overrideScenario())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	s := overrideScenario()
	s.Overrides = Overrides{DiscountRate: 0, TaxesRate: -1, CommissionRate: 0}
	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "price after discount", out.Lines[0].PriceAfterDiscount, 90)
	nearlyEqual(t, "commission", out.Lines[0].Commission, 20)
	nearlyEqual(t, "profit", out.Lines[0].Profit, base.Lines[0].Profit)
	nearlyEqual(t, "profit value", out.Lines[0].Profit, 40)
}

func TestSimulate_CommissionModelOverride(t *testing.T) {
	s := overrideScenario()
	s.Overrides = Overrides{CommissionModel: "fixed", CommissionFixed: 15}

	out, err := Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if out.Lines[0].CommissionModel != CommissionFixed {
		t.Fatalf("commission model = %q", out.Lines[0].CommissionModel)
	}
	nearlyEqual(t, "commission", out.Lines[0].Commission, 15)

	s.Overrides = Overrides{CommissionModel: "tiered", CommissionTiers: []Tier{Bounded(0, 50, 0.1), OpenEnded(50, 0.25)}}
	out, err = Simulate(s)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	nearlyEqual(t, "tiered commission", out.Lines[0].Commission, 25)
}

func TestOverrides_DecodeErrorNamesTierIndex(t *testing.T) {
	var o Overrides
	if err := json.Unmarshal([]byte(`{"gateway_rate":0.03,"commission_tiers":[{"min":0,"rate":"0.1"}]}`), &o); err != nil {
		t.Fatalf("decode valid overrides: %v", err)
	}
	nearlyEqual(t, "gateway", o.GatewayRate, 0.03)
	nearlyEqual(t, "tier rate", o.CommissionTiers[0].Rate, 0.1)

	err := json.Unmarshal([]byte(`{"commission_tiers":[{"min":0,"rate":0.1},{"min":10,"rate":""}]}`), &o)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("decode error = %v, want *ValidationError", err)
	}
	if verr.Field != "commission_tiers[1].rate" {
		t.Fatalf("field = %q", verr.Field)
	}
}
