package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// QuantityMode selects how sold quantities are derived in a Scenario.
type QuantityMode string

const (
	// QuantityByMix spreads Scenario.TotalUnits over the normalised mix.
	QuantityByMix QuantityMode = "mix"
	// QuantityExplicit reads Procedure.Quantity.
	QuantityExplicit QuantityMode = "explicit"
)

// Procedure is one row of a pricing portfolio.
type Procedure struct {
	Name         string
	Category     string
	Price        float64
	BaseCost     float64
	DiscountRate float64
	GatewayRate  float64
	TaxesRate    float64
	Overhead     BOMOverhead
	Commission   Commission
	Mix          float64
	Quantity     float64
}

// Scenario is a month of planned or realised sales against fixed costs.
type Scenario struct {
	Procedures []Procedure
	FixedCosts float64
	Mode       QuantityMode
	TotalUnits float64

	// When UseRevenueTiers is set, one commission rate chosen from
	// RevenueTiers replaces every procedure's own commission.
	UseRevenueTiers bool
	RevenueTiers    []RevenueTier
	// ProjectedRevenue selects the tier; zero means use realised revenue.
	ProjectedRevenue float64

	Overrides Overrides
}

// Overrides replaces row values for every procedure of a Scenario. A value
// greater than zero wins over the row's own; zero keeps the row value.
type Overrides struct {
	DiscountRate    float64 `json:"discount_rate"`
	GatewayRate     float64 `json:"gateway_rate"`
	TaxesRate       float64 `json:"taxes_rate"`
	OverheadFixed   float64 `json:"overhead_fixed"`
	OverheadRate    float64 `json:"overhead_rate"`
	CommissionModel string  `json:"commission_model,omitempty"`
	CommissionRate  float64 `json:"commission_rate"`
	CommissionFixed float64 `json:"commission_fixed"`
	CommissionTiers []Tier  `json:"commission_tiers,omitempty"`
}

// UnmarshalJSON decodes commission tiers through ParseTiers so that errors
// name the offending tier, as in "commission_tiers[0].rate".
func (o *Overrides) UnmarshalJSON(b []byte) error {
	var raw struct {
		DiscountRate    float64         `json:"discount_rate"`
		GatewayRate     float64         `json:"gateway_rate"`
		TaxesRate       float64         `json:"taxes_rate"`
		OverheadFixed   float64         `json:"overhead_fixed"`
		OverheadRate    float64         `json:"overhead_rate"`
		CommissionModel string          `json:"commission_model"`
		CommissionRate  float64         `json:"commission_rate"`
		CommissionFixed float64         `json:"commission_fixed"`
		CommissionTiers json.RawMessage `json:"commission_tiers"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	tiers, err := ParseTiers(string(raw.CommissionTiers))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Field = "commission_" + verr.Field
		}
		return err
	}
	*o = Overrides{
		DiscountRate:    raw.DiscountRate,
		GatewayRate:     raw.GatewayRate,
		TaxesRate:       raw.TaxesRate,
		OverheadFixed:   raw.OverheadFixed,
		OverheadRate:    raw.OverheadRate,
		CommissionModel: raw.CommissionModel,
		CommissionRate:  raw.CommissionRate,
		CommissionFixed: raw.CommissionFixed,
		CommissionTiers: tiers,
	}
	return nil
}

func (o Overrides) touchesCommission() bool {
	return o.CommissionModel != "" || o.CommissionRate > 0 || o.CommissionFixed > 0 || len(o.CommissionTiers) > 0
}

func overrideValue(row, override float64) float64 {
	if override > 0 {
		return override
	}
	return row
}

func (o Overrides) apply(p Procedure) (Procedure, error) {
	p.DiscountRate = overrideValue(p.DiscountRate, o.DiscountRate)
	p.GatewayRate = overrideValue(p.GatewayRate, o.GatewayRate)
	p.TaxesRate = overrideValue(p.TaxesRate, o.TaxesRate)
	p.Overhead.Fixed = overrideValue(p.Overhead.Fixed, o.OverheadFixed)
	p.Overhead.Rate = overrideValue(p.Overhead.Rate, o.OverheadRate)
	if !o.touchesCommission() {
		return p, nil
	}

	spec := SpecOf(p.Commission)
	if m := strings.TrimSpace(o.CommissionModel); m != "" {
		spec.Model = m
	}
	spec.Rate = overrideValue(spec.Rate, o.CommissionRate)
	spec.FixedValue = overrideValue(spec.FixedValue, o.CommissionFixed)
	if len(o.CommissionTiers) > 0 {
		spec.Tiers = o.CommissionTiers
	}
	c, err := spec.Resolve()
	if err != nil {
		return Procedure{}, err
	}
	p.Commission = c
	return p, nil
}

// SwitchMode returns s in mode m. Explicit quantities belong to the
// explicit table only and are cleared whenever the mode changes.
func (s Scenario) SwitchMode(m QuantityMode) Scenario {
	if s.Mode == m {
		return s
	}
	procs := make([]Procedure, len(s.Procedures))
	copy(procs, s.Procedures)
	for i := range procs {
		procs[i].Quantity = 0
	}
	s.Procedures = procs
	s.Mode = m
	return s
}

// PortfolioLine is the unit and monthly economics of one procedure.
type PortfolioLine struct {
	Name               string          `json:"name"`
	Category           string          `json:"category,omitempty"`
	Price              float64         `json:"price"`
	PriceAfterDiscount float64         `json:"price_after_discount"`
	Fees               float64         `json:"fees"`
	Overhead           float64         `json:"overhead"`
	Commission         float64         `json:"commission"`
	CommissionModel    CommissionModel `json:"commission_model,omitempty"`
	Profit             float64         `json:"profit"`
	MarginPercent      float64         `json:"margin_percent"`
	Contribution       float64         `json:"contribution"`
	Mix                float64         `json:"mix"`
	Quantity           float64         `json:"quantity"`
	GrossRevenue       float64         `json:"gross_revenue"`
	FeesTotal          float64         `json:"fees_total"`
	OverheadTotal      float64         `json:"overhead_total"`
	CommissionTotal    float64         `json:"commission_total"`
	ProfitTotal        float64         `json:"profit_total"`
	ContributionTotal  float64         `json:"contribution_total"`
}

// Portfolio is the result of Simulate. Break-even figures are +Inf when the
// average contribution is not positive.
type Portfolio struct {
	Lines []PortfolioLine `json:"lines"`

	GrossRevenue           float64 `json:"gross_revenue"`
	RevenueForTier         float64 `json:"revenue_for_tier"`
	Profit                 float64 `json:"profit"`
	RealizedMarginPercent  float64 `json:"realized_margin_percent"`
	UnitsSold              float64 `json:"units_sold"`
	Contribution           float64 `json:"contribution"`
	FixedCosts             float64 `json:"fixed_costs"`
	AvgContributionPlanned float64 `json:"avg_contribution_planned"`
	AvgContributionActual  float64 `json:"avg_contribution_effective"`

	BreakEvenUnitsPlanned    float64 `json:"-"`
	Shortfall                float64 `json:"shortfall"`
	AdditionalUnitsEffective float64 `json:"-"`
	AdditionalUnitsPlanned   float64 `json:"-"`
	AttainmentPercent        float64 `json:"attainment_percent"`

	EffectiveCommissionRate *float64 `json:"effective_commission_rate,omitempty"`

	Messages []Message `json:"messages,omitempty"`
}

type unitEconomics struct {
	pad, fees, overhead, commission float64
	model                           CommissionModel
}

func (u unitEconomics) profit(p Procedure) float64 {
	return u.pad - u.fees - (p.BaseCost + u.overhead + u.commission)
}

// contribution leaves out the fixed part of overhead, which is already
// covered by the fixed costs.
func (u unitEconomics) contribution(p Procedure) float64 {
	return u.pad - u.fees - (p.BaseCost + p.Overhead.Rate*p.BaseCost + u.commission)
}

// Simulate computes per-procedure contribution and monthly break-even.
func Simulate(s Scenario) (Portfolio, error) {
	mode := s.Mode
	if mode == "" {
		mode = QuantityByMix
	}
	if mode != QuantityByMix && mode != QuantityExplicit {
		return Portfolio{}, invalid("mode", "unknown quantity mode %q", mode)
	}

	procs := make([]Procedure, len(s.Procedures))
	for i, p := range s.Procedures {
		var err error
		if procs[i], err = s.Overrides.apply(p); err != nil {
			return Portfolio{}, err
		}
	}
	s.Procedures = procs

	n := len(s.Procedures)
	mix := normalizeMix(s.Procedures)
	units := make([]unitEconomics, n)
	qty := make([]float64, n)
	var msgs []Message

	for i, p := range s.Procedures {
		u := unitEconomics{}
		u.fees, u.pad = Fees(p.Price, p.GatewayRate, p.DiscountRate, p.TaxesRate)
		u.overhead = p.Overhead.Amount(p.BaseCost, p.Price)
		if s.UseRevenueTiers {
			u.model = CommissionPercent
		} else {
			applied := ApplyCommission(p.Price, p.Commission)
			u.commission, u.model = applied.Value, applied.Model
			if unk, ok := p.Commission.(UnknownCommission); ok {
				m := unknownModelMessage(unk)
				m.Text = p.Name + ": " + m.Text
				msgs = append(msgs, m)
			}
		}
		units[i] = u

		switch mode {
		case QuantityByMix:
			qty[i] = s.TotalUnits * mix[i]
		case QuantityExplicit:
			qty[i] = max(p.Quantity, 0)
		}
	}

	var gross, unitsSold float64
	for i, p := range s.Procedures {
		gross += p.Price * qty[i]
		unitsSold += qty[i]
	}

	out := Portfolio{
		GrossRevenue:   gross,
		RevenueForTier: gross,
		UnitsSold:      unitsSold,
		FixedCosts:     s.FixedCosts,
		Messages:       msgs,
	}

	if s.UseRevenueTiers {
		if s.ProjectedRevenue > 0 {
			out.RevenueForTier = s.ProjectedRevenue
		}
		rate := RateForRevenue(out.RevenueForTier, s.RevenueTiers)
		for i, p := range s.Procedures {
			units[i].commission = p.Price * rate
		}
		r := RoundRate(rate)
		out.EffectiveCommissionRate = &r
	}

	var profit, contribution, avgPlanned float64
	out.Lines = make([]PortfolioLine, 0, n)
	for i, p := range s.Procedures {
		u := units[i]
		unitProfit := u.profit(p)
		unitContribution := u.contribution(p)

		profit += unitProfit * qty[i]
		contribution += unitContribution * qty[i]
		avgPlanned += unitContribution * mix[i]

		out.Lines = append(out.Lines, PortfolioLine{
			Name:               p.Name,
			Category:           p.Category,
			Price:              RoundMoney(p.Price),
			PriceAfterDiscount: RoundMoney(u.pad),
			Fees:               RoundMoney(u.fees),
			Overhead:           RoundMoney(u.overhead),
			Commission:         RoundMoney(u.commission),
			CommissionModel:    u.model,
			Profit:             RoundMoney(unitProfit),
			MarginPercent:      RoundRate(marginPercent(unitProfit, p.Price, false)),
			Contribution:       RoundMoney(unitContribution),
			Mix:                RoundRate(mix[i]),
			Quantity:           qty[i],
			GrossRevenue:       RoundMoney(p.Price * qty[i]),
			FeesTotal:          RoundMoney(u.fees * qty[i]),
			OverheadTotal:      RoundMoney(u.overhead * qty[i]),
			CommissionTotal:    RoundMoney(u.commission * qty[i]),
			ProfitTotal:        RoundMoney(unitProfit * qty[i]),
			ContributionTotal:  RoundMoney(unitContribution * qty[i]),
		})
	}

	avgActual := avgPlanned
	if unitsSold > 0 {
		avgActual = contribution / unitsSold
	}

	shortfall := max(s.FixedCosts-contribution, 0)

	out.Profit = RoundMoney(profit)
	out.Contribution = RoundMoney(contribution)
	out.RealizedMarginPercent = RoundRate(marginPercent(profit, gross, false))
	out.AvgContributionPlanned = RoundMoney(avgPlanned)
	out.AvgContributionActual = RoundMoney(avgActual)
	out.BreakEvenUnitsPlanned = RoundRate(divideOrInf(s.FixedCosts, avgPlanned))
	out.Shortfall = RoundMoney(shortfall)
	if shortfall > 0 {
		out.AdditionalUnitsEffective = RoundRate(divideOrInf(shortfall, avgActual))
		out.AdditionalUnitsPlanned = RoundRate(divideOrInf(shortfall, avgPlanned))
	}
	if s.FixedCosts > 0 {
		out.AttainmentPercent = RoundRate(min(contribution/s.FixedCosts, 1) * 100)
	}
	out.GrossRevenue = RoundMoney(out.GrossRevenue)
	out.RevenueForTier = RoundMoney(out.RevenueForTier)
	return out, nil
}

// normalizeMix clips negative weights to zero and scales the rest to sum to
// one. An all-zero mix becomes uniform.
func normalizeMix(procs []Procedure) []float64 {
	n := len(procs)
	mix := make([]float64, n)
	sum := 0.0
	for i, p := range procs {
		mix[i] = max(p.Mix, 0)
		sum += mix[i]
	}
	for i := range mix {
		if sum <= 0 {
			mix[i] = 1 / float64(n)
		} else {
			mix[i] /= sum
		}
	}
	return mix
}

func divideOrInf(num, den float64) float64 {
	if den <= 0 {
		return math.Inf(1)
	}
	return num / den
}

// String summarises the break-even position for logs.
func (p Portfolio) String() string {
	return fmt.Sprintf("revenue=%.2f contribution=%.2f fixed=%.2f break_even_units=%v",
		p.GrossRevenue, p.Contribution, p.FixedCosts, p.BreakEvenUnitsPlanned)
}
