// Package catalog stores the versioned procedure catalog, the sales
// recorded against it and the monthly revenue commission schedule.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

var ErrNotFound = errors.New("catalog: procedure not found")

// Status filters procedures by their active flag.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusAll      Status = "all"
)

// ParseStatus maps an empty string to StatusActive.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StatusActive, nil
	case StatusActive, StatusInactive, StatusAll:
		return st, nil
	default:
		return "", &pricing.ValidationError{Field: "status", Reason: "must be active, inactive or all"}
	}
}

// ProcedureInput is what an operator submits for a procedure. Derived
// fields (base cost, minimum price, keys, versions) are computed on save.
type ProcedureInput struct {
	Name                string                 `json:"name"`
	Category            string                 `json:"category"`
	DurationMinutes     float64                `json:"duration_minutes"`
	ListPrice           float64                `json:"list_price"`
	MaxDiscountPercent  float64                `json:"max_discount_percent"`
	Commission          pricing.CommissionSpec `json:"commission"`
	BOM                 []pricing.BOMLine      `json:"bom"`
	OverheadModel       pricing.OverheadModel  `json:"overhead_model"`
	OverheadValue       float64                `json:"overhead_value"`
	MarkupTargetPercent float64                `json:"markup_target_percent"`
}

// Procedure is one stored version of a catalog entry.
type Procedure struct {
	ID                  string                 `json:"id"`
	RecordKey           string                 `json:"record_key"`
	Name                string                 `json:"name"`
	CategoryID          int64                  `json:"category_id"`
	Category            string                 `json:"category"`
	DurationMinutes     float64                `json:"duration_minutes"`
	ListPrice           float64                `json:"list_price"`
	MaxDiscountPercent  float64                `json:"max_discount_percent"`
	Commission          pricing.CommissionSpec `json:"commission"`
	BOM                 []pricing.BOMLine      `json:"bom"`
	BaseCost            float64                `json:"base_cost"`
	OverheadModel       pricing.OverheadModel  `json:"overhead_model"`
	OverheadValue       float64                `json:"overhead_value"`
	MarkupTargetPercent float64                `json:"markup_target_percent"`
	PriceMinRecommended float64                `json:"price_min_recommended"`
	Active              bool                   `json:"active"`
	Version             int                    `json:"version"`
	ValidFrom           time.Time              `json:"valid_from"`
	ValidTo             *time.Time             `json:"valid_to,omitempty"`
	IsDeleted           bool                   `json:"is_deleted"`
}

// Overhead returns the allocation strategy of p.
func (p Procedure) Overhead() pricing.AllocationOverhead {
	return pricing.AllocationOverhead{
		Model:           p.OverheadModel,
		RateValue:       p.OverheadValue,
		DurationMinutes: p.DurationMinutes,
	}
}

// RecordKey identifies a procedure across versions: the same name in the
// same category, ignoring case, accents and spacing.
func RecordKey(name, category string) string {
	sum := sha256.Sum256([]byte(dimension.Normalize(name) + "|" + dimension.Normalize(category)))
	return hex.EncodeToString(sum[:])
}

func (in *ProcedureInput) normalize() {
	in.Name = strings.Join(strings.Fields(in.Name), " ")
	in.Category = strings.Join(strings.Fields(in.Category), " ")
	in.Commission.Model = strings.ToLower(strings.TrimSpace(in.Commission.Model))
	if in.Commission.Model == "" {
		in.Commission.Model = string(pricing.CommissionPercent)
	}
	in.OverheadModel = pricing.OverheadModel(strings.ToLower(strings.TrimSpace(string(in.OverheadModel))))
	if in.OverheadModel == "" {
		in.OverheadModel = pricing.OverheadNone
	}
	if in.BOM == nil {
		in.BOM = []pricing.BOMLine{}
	}
}

func (in ProcedureInput) validate() error {
	switch {
	case dimension.Normalize(in.Name) == "":
		return &pricing.ValidationError{Field: "name", Reason: "is required"}
	case dimension.Normalize(in.Category) == "":
		return &pricing.ValidationError{Field: "category", Reason: "is required"}
	case in.ListPrice < 0:
		return &pricing.ValidationError{Field: "list_price", Reason: "must not be negative"}
	case in.DurationMinutes < 0:
		return &pricing.ValidationError{Field: "duration_minutes", Reason: "must not be negative"}
	case in.MaxDiscountPercent < 0 || in.MaxDiscountPercent > 100:
		return &pricing.ValidationError{Field: "max_discount_percent", Reason: "must be between 0 and 100"}
	case in.OverheadValue < 0:
		return &pricing.ValidationError{Field: "overhead_value", Reason: "must not be negative"}
	}

	switch in.OverheadModel {
	case pricing.OverheadNone, pricing.OverheadPerHour, pricing.OverheadPerSession, pricing.OverheadPerRevenue:
	default:
		return &pricing.ValidationError{Field: "overhead_model", Reason: "must be none, per_hour, per_session or per_revenue"}
	}

	c, err := in.Commission.Resolve()
	if err != nil {
		return err
	}
	if _, ok := c.(pricing.UnknownCommission); ok {
		return &pricing.ValidationError{Field: "commission.model", Reason: "must be percent, fixed or tiered"}
	}
	if t, ok := c.(pricing.TieredCommission); ok && len(t.Tiers) == 0 {
		return &pricing.ValidationError{Field: "commission.tiers", Reason: "tiered commission needs at least one tier"}
	}

	for i, l := range in.BOM {
		if l.Qty < 0 || l.UnitCost < 0 {
			return &pricing.ValidationError{Field: "bom", Reason: "line " + strconv.Itoa(i) + " has a negative quantity or cost"}
		}
	}
	return nil
}

// derive fills the computed fields of a new version from in.
func (in ProcedureInput) derive() Procedure {
	p := Procedure{
		Name:                in.Name,
		Category:            in.Category,
		DurationMinutes:     in.DurationMinutes,
		ListPrice:           in.ListPrice,
		MaxDiscountPercent:  in.MaxDiscountPercent,
		Commission:          in.Commission,
		BOM:                 in.BOM,
		BaseCost:            pricing.BaseCost(in.BOM),
		OverheadModel:       in.OverheadModel,
		OverheadValue:       in.OverheadValue,
		MarkupTargetPercent: in.MarkupTargetPercent,
		RecordKey:           RecordKey(in.Name, in.Category),
	}
	if p.Commission.Model != string(pricing.CommissionTiered) {
		p.Commission.Tiers = nil
	}

	fixedCommission := 0.0
	if p.Commission.Model == string(pricing.CommissionFixed) {
		fixedCommission = p.Commission.FixedValue
	}
	overhead := p.Overhead().Amount(p.BaseCost, p.ListPrice)
	p.PriceMinRecommended = pricing.MinPriceForMarkup(p.BaseCost, overhead, 0, p.MarkupTargetPercent, fixedCommission)
	return p
}

// contentHash covers every operator-editable field so that resubmitting an
// unchanged procedure does not create a new version.
func contentHash(p Procedure) (string, error) {
	b, err := json.Marshal(struct {
		Name       string                 `json:"name"`
		Category   string                 `json:"category"`
		Duration   float64                `json:"duration"`
		ListPrice  float64                `json:"list_price"`
		MaxDisc    float64                `json:"max_discount"`
		Commission pricing.CommissionSpec `json:"commission"`
		BOM        []pricing.BOMLine      `json:"bom"`
		OHModel    pricing.OverheadModel  `json:"oh_model"`
		OHValue    float64                `json:"oh_value"`
		Markup     float64                `json:"markup"`
	}{p.Name, dimension.Normalize(p.Category), p.DurationMinutes, p.ListPrice, p.MaxDiscountPercent,
		p.Commission, p.BOM, p.OverheadModel, p.OverheadValue, p.MarkupTargetPercent})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
