package pricing

import "strconv"

// Input holds everything needed to price one procedure sale.
type Input struct {
	SalePrice       float64
	BaseCost        float64
	Commission      Commission
	Overhead        Overhead
	DiscountRate    float64
	GatewayRate     float64
	TaxesRate       float64
	GatewayFeeFixed float64
	FeeMode         FeeMode
}

// WithPrice returns a copy of in priced at price.
func (in Input) WithPrice(price float64) Input {
	in.SalePrice = price
	return in
}

// Result is the priced outcome of an Input. Money is rounded to cents and
// MarginPercent to 4 places.
type Result struct {
	SalePrice          float64         `json:"sale_price"`
	PriceAfterDiscount float64         `json:"price_after_discount"`
	CommissionValue    float64         `json:"commission_value"`
	CommissionModel    CommissionModel `json:"commission_model,omitempty"`
	CommissionRate     float64         `json:"commission_rate"`
	CommissionTier     *Tier           `json:"commission_tier,omitempty"`
	OverheadValue      float64         `json:"overhead_value"`
	FeesTotal          float64         `json:"fees_total"`
	NetProfit          float64         `json:"net_profit"`
	MarginPercent      float64         `json:"margin_percent"`
	Messages           []Message       `json:"messages,omitempty"`
}

type breakdown struct {
	commission         AppliedCommission
	overhead           float64
	fees               float64
	priceAfterDiscount float64
	netProfit          float64
	margin             float64
}

func compute(in Input) breakdown {
	var b breakdown
	b.commission = ApplyCommission(in.SalePrice, in.Commission)
	if in.Overhead != nil {
		b.overhead = in.Overhead.Amount(in.BaseCost, in.SalePrice)
	}

	if in.FeeMode == FeeModeFlatGateway {
		b.fees, b.priceAfterDiscount = FlatGatewayFees(in.SalePrice, in.GatewayFeeFixed, in.DiscountRate, in.TaxesRate)
	} else {
		b.fees, b.priceAfterDiscount = Fees(in.SalePrice, in.GatewayRate, in.DiscountRate, in.TaxesRate)
	}

	b.netProfit = b.priceAfterDiscount - b.fees - in.BaseCost - b.overhead - b.commission.Value
	b.margin = marginPercent(b.netProfit, in.SalePrice, in.FeeMode != FeeModeFlatGateway)
	return b
}

func marginPercent(netProfit, price float64, clamp bool) float64 {
	if price <= 0 {
		return 0
	}
	m := netProfit / price * 100
	if clamp {
		m = max(-100, min(100, m))
	}
	return m
}

// Margin returns the unrounded margin percentage of in.
func Margin(in Input) float64 {
	return compute(in).margin
}

// Evaluate prices in. It never fails: out-of-range values simply flow
// through to the profit figures.
func Evaluate(in Input) Result {
	b := compute(in)

	res := Result{
		SalePrice:          RoundMoney(in.SalePrice),
		PriceAfterDiscount: RoundMoney(b.priceAfterDiscount),
		CommissionValue:    RoundMoney(b.commission.Value),
		CommissionModel:    b.commission.Model,
		CommissionRate:     RoundRate(b.commission.Rate),
		CommissionTier:     b.commission.Tier,
		OverheadValue:      RoundMoney(b.overhead),
		FeesTotal:          RoundMoney(b.fees),
		NetProfit:          RoundMoney(b.netProfit),
		MarginPercent:      RoundRate(b.margin),
	}
	if u, ok := in.Commission.(UnknownCommission); ok {
		res.Messages = append(res.Messages, unknownModelMessage(u))
	}
	return res
}

func unknownModelMessage(u UnknownCommission) Message {
	return Message{
		Level: LevelWarning,
		Code:  CodeUnknownCommissionModel,
		Text:  "unknown commission model " + strconv.Quote(u.Name) + "; commission counted as zero",
	}
}
