package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/zayaclinic/backoffice/internal/pricing"
)

// overheadRequest selects the overhead convention: "bom" (or empty) reads
// Fixed and Rate; none, per_hour, per_session and per_revenue read
// RateValue and DurationMinutes.
type overheadRequest struct {
	Model           string  `json:"model"`
	Fixed           float64 `json:"fixed"`
	Rate            float64 `json:"rate"`
	RateValue       float64 `json:"rate_value"`
	DurationMinutes float64 `json:"duration_minutes"`
}

func (o overheadRequest) resolve() (pricing.Overhead, error) {
	switch model := strings.ToLower(strings.TrimSpace(o.Model)); model {
	case "", "bom":
		return pricing.BOMOverhead{Fixed: o.Fixed, Rate: o.Rate}, nil
	case string(pricing.OverheadNone), string(pricing.OverheadPerHour),
		string(pricing.OverheadPerSession), string(pricing.OverheadPerRevenue):
		return pricing.AllocationOverhead{
			Model:           pricing.OverheadModel(model),
			RateValue:       o.RateValue,
			DurationMinutes: o.DurationMinutes,
		}, nil
	default:
		return nil, &pricing.ValidationError{Field: "overhead.model", Reason: "must be bom, none, per_hour, per_session or per_revenue"}
	}
}

type pricingRequest struct {
	SalePrice    float64                `json:"sale_price"`
	BaseCost     float64                `json:"base_cost"`
	BOM          []pricing.BOMLine      `json:"bom,omitempty"`
	Commission   pricing.CommissionSpec `json:"commission"`
	Overhead     overheadRequest        `json:"overhead"`
	DiscountRate float64                `json:"discount_rate"`
	GatewayRate  float64                `json:"gateway_rate"`
	TaxesRate    float64                `json:"taxes_rate"`
	GatewayFee   float64                `json:"gateway_fee"`
	FeeMode      pricing.FeeMode        `json:"fee_mode"`
}

func (req pricingRequest) input() (pricing.Input, error) {
	commission, err := req.Commission.Resolve()
	if err != nil {
		return pricing.Input{}, err
	}
	overhead, err := req.Overhead.resolve()
	if err != nil {
		return pricing.Input{}, err
	}

	mode := pricing.FeeMode(strings.ToLower(strings.TrimSpace(string(req.FeeMode))))
	switch mode {
	case "":
		mode = pricing.FeeModeRate
	case pricing.FeeModeRate, pricing.FeeModeFlatGateway:
	default:
		return pricing.Input{}, &pricing.ValidationError{Field: "fee_mode", Reason: "must be rate or flat_gateway"}
	}

	baseCost := req.BaseCost
	if baseCost == 0 && len(req.BOM) > 0 {
		baseCost = pricing.BaseCost(req.BOM)
	}

	return pricing.Input{
		SalePrice:       req.SalePrice,
		BaseCost:        baseCost,
		Commission:      commission,
		Overhead:        overhead,
		DiscountRate:    req.DiscountRate,
		GatewayRate:     req.GatewayRate,
		TaxesRate:       req.TaxesRate,
		GatewayFeeFixed: req.GatewayFee,
		FeeMode:         mode,
	}, nil
}

// fillBOM prices BOM lines without a unit cost from recorded purchases.
func (s *server) fillBOM(ctx context.Context, lines []pricing.BOMLine) ([]pricing.BOMLine, error) {
	return s.products.FillBOM(ctx, lines)
}

// inputWithBOM is input with the BOM priced first. The BOM only matters
// when no base cost is given.
func (req pricingRequest) inputWithBOM(ctx context.Context, s *server) (pricing.Input, error) {
	if req.BaseCost == 0 && len(req.BOM) > 0 {
		lines, err := s.fillBOM(ctx, req.BOM)
		if err != nil {
			return pricing.Input{}, err
		}
		req.BOM = lines
	}
	return req.input()
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.inputWithBOM(r.Context(), s)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Evaluate(in))
}

type solveRequest struct {
	pricingRequest
	TargetMarginPercent float64  `json:"target_margin_percent"`
	PriceHint           *float64 `json:"price_hint,omitempty"`
}

func (s *server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.inputWithBOM(r.Context(), s)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hint := s.cfg.PriceHint
	if raw := r.URL.Query().Get("hint"); raw != "" {
		if hint, err = parsePositiveFloat(raw, "hint"); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.PriceHint != nil {
		if *req.PriceHint <= 0 {
			s.writeError(w, r, &pricing.ValidationError{Field: "price_hint", Reason: "must be greater than 0"})
			return
		}
		hint = *req.PriceHint
	}

	writeJSON(w, http.StatusOK, s.engine.SolvePrice(req.TargetMarginPercent, in, hint))
}

type bomRequest struct {
	Lines           []pricing.BOMLine `json:"lines"`
	Overhead        float64           `json:"overhead"`
	GatewayFee      float64           `json:"gateway_fee"`
	MarkupPercent   float64           `json:"markup_percent"`
	FixedCommission float64           `json:"fixed_commission"`
}

type bomResponse struct {
	Lines               []pricing.BOMLine `json:"lines"`
	BaseCost            float64           `json:"base_cost"`
	PriceMinRecommended float64           `json:"price_min_recommended"`
}

func (s *server) handleBOM(w http.ResponseWriter, r *http.Request) {
	var req bomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	lines, err := s.fillBOM(r.Context(), req.Lines)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base := pricing.BaseCost(lines)
	writeJSON(w, http.StatusOK, bomResponse{
		Lines:               lines,
		BaseCost:            base,
		PriceMinRecommended: pricing.MinPriceForMarkup(base, req.Overhead, req.GatewayFee, req.MarkupPercent, req.FixedCommission),
	})
}
