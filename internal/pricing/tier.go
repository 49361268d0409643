package pricing

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Tier is a per-sale commission band. Both bounds are inclusive; a nil Max
// leaves the band open-ended.
type Tier struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max,omitempty"`
	Rate float64  `json:"rate"`
}

// Bounded returns a closed tier [min, max].
func Bounded(min, max, rate float64) Tier {
	return Tier{Min: min, Max: &max, Rate: rate}
}

// OpenEnded returns a tier [min, +inf).
func OpenEnded(min, rate float64) Tier {
	return Tier{Min: min, Rate: rate}
}

func (t Tier) upper() float64 {
	if t.Max == nil {
		return math.Inf(1)
	}
	return *t.Max
}

func (t Tier) contains(price float64) bool {
	return t.Min <= price && price <= t.upper()
}

// RevenueTier is a monthly revenue floor and the commission rate that
// applies from that floor up to the next one.
type RevenueTier struct {
	Min  float64 `json:"min"`
	Rate float64 `json:"rate"`
}

// UnmarshalJSON accepts numbers or numeric strings and rejects anything else.
func (t *Tier) UnmarshalJSON(b []byte) error {
	parsed, err := parseTier(b, "tier")
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalJSON accepts numbers or numeric strings and rejects anything else.
func (t *RevenueTier) UnmarshalJSON(b []byte) error {
	parsed, err := parseRevenueTier(b, "revenue_tier")
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTiers decodes a JSON array of per-sale tiers such as
// [{"min":0,"max":500,"rate":0.2},{"min":500,"rate":0.3}].
// Blank input yields no tiers.
func ParseTiers(raw string) ([]Tier, error) {
	items, err := splitArray(raw, "tiers")
	if err != nil || items == nil {
		return nil, err
	}

	tiers := make([]Tier, 0, len(items))
	for i, item := range items {
		t, err := parseTier(item, fmt.Sprintf("tiers[%d]", i))
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// ParseRevenueTiers decodes a JSON array of revenue tiers such as
// [{"min":0,"rate":0.10},{"min":25000,"rate":0.125}].
func ParseRevenueTiers(raw string) ([]RevenueTier, error) {
	items, err := splitArray(raw, "revenue_tiers")
	if err != nil || items == nil {
		return nil, err
	}

	tiers := make([]RevenueTier, 0, len(items))
	for i, item := range items {
		t, err := parseRevenueTier(item, fmt.Sprintf("revenue_tiers[%d]", i))
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func splitArray(raw, field string) ([]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, invalid(field, "expected a JSON array of objects")
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func decodeObject(b []byte, field string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, invalid(field, "expected a JSON object")
	}
	return obj, nil
}

func parseTier(b []byte, field string) (Tier, error) {
	obj, err := decodeObject(b, field)
	if err != nil {
		return Tier{}, err
	}

	min, _, err := numberField(obj, "min", field)
	if err != nil {
		return Tier{}, err
	}
	max, bounded, err := numberField(obj, "max", field)
	if err != nil {
		return Tier{}, err
	}
	rate, ok, err := numberField(obj, "rate", field)
	if err != nil {
		return Tier{}, err
	}
	if !ok {
		return Tier{}, invalid(field+".rate", "is required")
	}

	if !bounded {
		return OpenEnded(min, rate), nil
	}
	if max < min {
		return Tier{}, invalid(field, "max %v is below min %v", max, min)
	}
	return Bounded(min, max, rate), nil
}

func parseRevenueTier(b []byte, field string) (RevenueTier, error) {
	obj, err := decodeObject(b, field)
	if err != nil {
		return RevenueTier{}, err
	}

	var t RevenueTier
	if t.Min, _, err = numberField(obj, "min", field); err != nil {
		return RevenueTier{}, err
	}
	rate, ok, err := numberField(obj, "rate", field)
	if err != nil {
		return RevenueTier{}, err
	}
	if !ok {
		return RevenueTier{}, invalid(field+".rate", "is required")
	}
	t.Rate = rate
	return t, nil
}

// numberField reads key from obj. Absent or null keys report ok=false; an
// empty string is an error, not an absent value.
func numberField(obj map[string]any, key, field string) (float64, bool, error) {
	v, present := obj[key]
	if !present || v == nil {
		return 0, false, nil
	}

	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, invalid(field+"."+key, "must be numeric, got an empty string")
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return 0, false, invalid(field+"."+key, "must be numeric, got %v", v)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, invalid(field+"."+key, "must be numeric, got %v", v)
	}
	return f, true, nil
}
