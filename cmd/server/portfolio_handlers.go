package main

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/zayaclinic/backoffice/internal/fixedcost"
	"github.com/zayaclinic/backoffice/internal/importer"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

const maxCSVBody = 5 << 20

// procedureRequest is the wire form of pricing.Procedure.
type procedureRequest struct {
	Name         string                 `json:"name"`
	Category     string                 `json:"category,omitempty"`
	Price        float64                `json:"price"`
	BaseCost     float64                `json:"base_cost"`
	DiscountRate float64                `json:"discount_rate"`
	GatewayRate  float64                `json:"gateway_rate"`
	TaxesRate    float64                `json:"taxes_rate"`
	Overhead     pricing.BOMOverhead    `json:"overhead"`
	Commission   pricing.CommissionSpec `json:"commission"`
	Mix          float64                `json:"mix"`
	Quantity     float64                `json:"quantity"`
}

func (p procedureRequest) procedure() (pricing.Procedure, error) {
	c, err := p.Commission.Resolve()
	if err != nil {
		return pricing.Procedure{}, err
	}
	return pricing.Procedure{
		Name:         p.Name,
		Category:     p.Category,
		Price:        p.Price,
		BaseCost:     p.BaseCost,
		DiscountRate: p.DiscountRate,
		GatewayRate:  p.GatewayRate,
		TaxesRate:    p.TaxesRate,
		Overhead:     p.Overhead,
		Commission:   c,
		Mix:          p.Mix,
		Quantity:     p.Quantity,
	}, nil
}

func procedureToRequest(p pricing.Procedure) procedureRequest {
	return procedureRequest{
		Name:         p.Name,
		Category:     p.Category,
		Price:        p.Price,
		BaseCost:     p.BaseCost,
		DiscountRate: p.DiscountRate,
		GatewayRate:  p.GatewayRate,
		TaxesRate:    p.TaxesRate,
		Overhead:     p.Overhead,
		Commission:   pricing.SpecOf(p.Commission),
		Mix:          p.Mix,
		Quantity:     p.Quantity,
	}
}

type simulateRequest struct {
	Procedures []procedureRequest `json:"procedures"`
	// FixedCosts overrides the stored fixed costs of Month.
	FixedCosts *float64             `json:"fixed_costs,omitempty"`
	Month      string               `json:"month,omitempty"`
	Mode       pricing.QuantityMode `json:"mode"`
	// PreviousMode is the mode the quantities were entered in. When it
	// differs from Mode, explicit quantities are discarded.
	PreviousMode     pricing.QuantityMode `json:"previous_mode,omitempty"`
	TotalUnits       float64              `json:"total_units"`
	UseRevenueTiers  bool                 `json:"use_revenue_tiers"`
	RevenueTiers     json.RawMessage      `json:"revenue_tiers,omitempty"`
	ProjectedRevenue float64              `json:"projected_revenue"`
	Overrides        pricing.Overrides    `json:"overrides"`
}

type portfolioResponse struct {
	pricing.Portfolio
	Month                    string   `json:"month,omitempty"`
	BreakEvenUnitsPlanned    *float64 `json:"break_even_units_planned"`
	BreakEvenReachable       bool     `json:"break_even_reachable"`
	AdditionalUnitsEffective *float64 `json:"additional_units_effective"`
	AdditionalUnitsPlanned   *float64 `json:"additional_units_planned"`
}

func newPortfolioResponse(p pricing.Portfolio, month string) portfolioResponse {
	be := finite(p.BreakEvenUnitsPlanned)
	return portfolioResponse{
		Portfolio:                p,
		Month:                    month,
		BreakEvenUnitsPlanned:    be,
		BreakEvenReachable:       be != nil,
		AdditionalUnitsEffective: finite(p.AdditionalUnitsEffective),
		AdditionalUnitsPlanned:   finite(p.AdditionalUnitsPlanned),
	}
}

func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	revenueTiers, err := pricing.ParseRevenueTiers(string(req.RevenueTiers))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	scenario := pricing.Scenario{
		Mode:             req.Mode,
		TotalUnits:       req.TotalUnits,
		UseRevenueTiers:  req.UseRevenueTiers,
		RevenueTiers:     revenueTiers,
		ProjectedRevenue: req.ProjectedRevenue,
		Overrides:        req.Overrides,
	}
	for i, pr := range req.Procedures {
		p, err := pr.procedure()
		if err != nil {
			var verr *pricing.ValidationError
			if errors.As(err, &verr) {
				verr.Field = "procedures[" + strconv.Itoa(i) + "]." + verr.Field
			}
			s.writeError(w, r, err)
			return
		}
		scenario.Procedures = append(scenario.Procedures, p)
	}
	if req.PreviousMode != "" {
		scenario.Mode = req.PreviousMode
		scenario = scenario.SwitchMode(req.Mode)
	}

	month := ""
	if req.FixedCosts != nil {
		scenario.FixedCosts = *req.FixedCosts
	} else {
		if month, scenario.FixedCosts, err = s.monthFixedCosts(r, req.Month); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	if scenario.UseRevenueTiers && len(scenario.RevenueTiers) == 0 {
		tiers, err := s.catalog.RevenueTiers(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		scenario.RevenueTiers = tiers
	}

	out, err := s.engine.Simulate(scenario)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPortfolioResponse(out, month))
}

// monthFixedCosts returns the stored total for month, defaulting to the
// current month.
func (s *server) monthFixedCosts(r *http.Request, month string) (string, float64, error) {
	if month == "" {
		month = fixedcost.MonthOf(s.now())
	}
	month, err := fixedcost.ParseMonth(month)
	if err != nil {
		return "", 0, err
	}
	total, err := s.costs.Total(r.Context(), month)
	if err != nil {
		return "", 0, err
	}
	return month, total, nil
}

type importResponse struct {
	Procedures []procedureRequest  `json:"procedures"`
	Errors     []importer.RowError `json:"errors"`
	Portfolio  *portfolioResponse  `json:"portfolio,omitempty"`
}

// handleImport parses a CSV portfolio. With ?simulate=true the parsed rows
// are simulated against ?fixed_costs (or the stored costs of ?month) using
// ?mode and ?total_units.
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	procs, rowErrs, err := importer.ParsePortfolioCSV(http.MaxBytesReader(w, r.Body, maxCSVBody))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := importResponse{Procedures: make([]procedureRequest, 0, len(procs)), Errors: rowErrs}
	if resp.Errors == nil {
		resp.Errors = []importer.RowError{}
	}
	for _, p := range procs {
		resp.Procedures = append(resp.Procedures, procedureToRequest(p))
	}

	q := r.URL.Query()
	if q.Get("simulate") == "true" {
		overrides, err := overridesFromQuery(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		scenario := pricing.Scenario{Procedures: procs, Mode: pricing.QuantityMode(q.Get("mode")), Overrides: overrides}
		if raw := q.Get("total_units"); raw != "" {
			if scenario.TotalUnits, err = parseNonNegativeFloat(raw, "total_units"); err != nil {
				s.writeError(w, r, err)
				return
			}
		}

		month := ""
		if raw := q.Get("fixed_costs"); raw != "" {
			if scenario.FixedCosts, err = parseNonNegativeFloat(raw, "fixed_costs"); err != nil {
				s.writeError(w, r, err)
				return
			}
		} else if month, scenario.FixedCosts, err = s.monthFixedCosts(r, q.Get("month")); err != nil {
			s.writeError(w, r, err)
			return
		}

		out, err := s.engine.Simulate(scenario)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		pr := newPortfolioResponse(out, month)
		resp.Portfolio = &pr
	}

	writeJSON(w, http.StatusOK, resp)
}

// overridesFromQuery reads scenario overrides from import query parameters
// named after the JSON fields of pricing.Overrides.
func overridesFromQuery(q url.Values) (pricing.Overrides, error) {
	var o pricing.Overrides
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"discount_rate", &o.DiscountRate},
		{"gateway_rate", &o.GatewayRate},
		{"taxes_rate", &o.TaxesRate},
		{"overhead_fixed", &o.OverheadFixed},
		{"overhead_rate", &o.OverheadRate},
		{"commission_rate", &o.CommissionRate},
		{"commission_fixed", &o.CommissionFixed},
	} {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		v, err := parseNonNegativeFloat(raw, f.key)
		if err != nil {
			return pricing.Overrides{}, err
		}
		*f.dst = v
	}

	o.CommissionModel = q.Get("commission_model")
	tiers, err := pricing.ParseTiers(q.Get("commission_tiers"))
	if err != nil {
		return pricing.Overrides{}, err
	}
	o.CommissionTiers = tiers
	return o, nil
}
