package pricing

import (
	"strings"

	"github.com/goccy/go-json"
)

// CommissionModel names a commission variant.
type CommissionModel string

const (
	CommissionPercent CommissionModel = "percent"
	CommissionFixed   CommissionModel = "fixed"
	CommissionTiered  CommissionModel = "tiered"
)

// Commission computes the professional's commission for one sale.
type Commission interface {
	Model() CommissionModel
	apply(price float64) AppliedCommission
}

// PercentCommission pays Rate (0-1) of the sale price.
type PercentCommission struct {
	Rate float64
}

// FixedCommission pays a flat Value per sale.
type FixedCommission struct {
	Value float64
}

// TieredCommission picks the rate of the first tier, in the given order,
// whose closed [min, max] range contains the price. Prices above every
// tier fall back to the last tier's rate.
type TieredCommission struct {
	Tiers []Tier
}

// UnknownCommission carries an unrecognised model name from catalog data.
// It always evaluates to zero and is reported as a warning by the Engine.
type UnknownCommission struct {
	Name string
}

// AppliedCommission records what was actually charged for a sale.
type AppliedCommission struct {
	Value float64         `json:"value"`
	Model CommissionModel `json:"model"`
	Rate  float64         `json:"rate"`
	Tier  *Tier           `json:"tier,omitempty"`
}

func (PercentCommission) Model() CommissionModel   { return CommissionPercent }
func (FixedCommission) Model() CommissionModel     { return CommissionFixed }
func (TieredCommission) Model() CommissionModel    { return CommissionTiered }
func (c UnknownCommission) Model() CommissionModel { return CommissionModel(c.Name) }

func (c PercentCommission) apply(price float64) AppliedCommission {
	return AppliedCommission{Value: c.Rate * price, Model: CommissionPercent, Rate: c.Rate}
}

func (c FixedCommission) apply(float64) AppliedCommission {
	return AppliedCommission{Value: c.Value, Model: CommissionFixed}
}

func (c TieredCommission) apply(price float64) AppliedCommission {
	if len(c.Tiers) == 0 {
		return AppliedCommission{Model: CommissionTiered}
	}
	for _, t := range c.Tiers {
		if t.contains(price) {
			return tierCommission(price, t)
		}
	}
	return tierCommission(price, c.Tiers[len(c.Tiers)-1])
}

func tierCommission(price float64, t Tier) AppliedCommission {
	used := t
	return AppliedCommission{Value: t.Rate * price, Model: CommissionTiered, Rate: t.Rate, Tier: &used}
}

func (c UnknownCommission) apply(float64) AppliedCommission {
	return AppliedCommission{Model: c.Model()}
}

// ApplyCommission evaluates c at price. A non-positive price never earns a
// commission, whatever the model. A nil Commission is treated as none.
func ApplyCommission(price float64, c Commission) AppliedCommission {
	if c == nil {
		return AppliedCommission{}
	}
	if price <= 0 {
		return AppliedCommission{Model: c.Model()}
	}
	return c.apply(price)
}

// CommissionValue returns only the commission amount of ApplyCommission.
func CommissionValue(price float64, c Commission) float64 {
	return ApplyCommission(price, c).Value
}

// CommissionSpec is the loosely typed form of a commission as stored in
// catalog rows and request bodies.
type CommissionSpec struct {
	Model      string  `json:"model"`
	Rate       float64 `json:"rate"`
	FixedValue float64 `json:"fixed_value"`
	Tiers      []Tier  `json:"tiers,omitempty"`
}

// UnmarshalJSON decodes tiers through ParseTiers so that errors name the
// offending tier, as in "tiers[1].min".
func (s *CommissionSpec) UnmarshalJSON(b []byte) error {
	var raw struct {
		Model      string          `json:"model"`
		Rate       float64         `json:"rate"`
		FixedValue float64         `json:"fixed_value"`
		Tiers      json.RawMessage `json:"tiers"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	tiers, err := ParseTiers(string(raw.Tiers))
	if err != nil {
		return err
	}
	*s = CommissionSpec{Model: raw.Model, Rate: raw.Rate, FixedValue: raw.FixedValue, Tiers: tiers}
	return nil
}

// Resolve turns the spec into its typed variant. An empty model defaults to
// percent. Unknown models resolve to UnknownCommission rather than failing.
func (s CommissionSpec) Resolve() (Commission, error) {
	model := strings.ToLower(strings.TrimSpace(s.Model))
	switch CommissionModel(model) {
	case "", CommissionPercent:
		if s.Rate < 0 {
			return nil, invalid("commission.rate", "must not be negative")
		}
		return PercentCommission{Rate: s.Rate}, nil
	case CommissionFixed:
		return FixedCommission{Value: s.FixedValue}, nil
	case CommissionTiered:
		return TieredCommission{Tiers: s.Tiers}, nil
	default:
		return UnknownCommission{Name: model}, nil
	}
}

// SpecOf is the inverse of Resolve, used when persisting a commission.
func SpecOf(c Commission) CommissionSpec {
	switch v := c.(type) {
	case PercentCommission:
		return CommissionSpec{Model: string(CommissionPercent), Rate: v.Rate}
	case FixedCommission:
		return CommissionSpec{Model: string(CommissionFixed), FixedValue: v.Value}
	case TieredCommission:
		return CommissionSpec{Model: string(CommissionTiered), Tiers: v.Tiers}
	case UnknownCommission:
		return CommissionSpec{Model: v.Name}
	default:
		return CommissionSpec{}
	}
}
