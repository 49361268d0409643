package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/zayaclinic/backoffice/internal/catalog"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

func (s *server) handleProceduresList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := catalog.ParseStatus(q.Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	procs, err := s.catalog.List(r.Context(), catalog.Filter{
		Category: q.Get("category"),
		Status:   status,
		Name:     q.Get("name"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *server) handleProceduresUpsert(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProcedureInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.catalog.Upsert(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Action == catalog.ActionInserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *server) handleProceduresBatch(w http.ResponseWriter, r *http.Request) {
	var inputs []catalog.ProcedureInput
	if err := decodeJSON(w, r, &inputs); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.catalog.UpsertMany(r.Context(), inputs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type purgeRequest struct {
	IDs []string `json:"ids"`
}

func (s *server) handleProceduresPurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.catalog.HardDelete(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *server) handleProcedureGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleProcedureDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type previewRequest struct {
	// SalePrice defaults to the list price less DiscountPercent.
	SalePrice       *float64 `json:"sale_price,omitempty"`
	DiscountPercent float64  `json:"discount_percent"`
	GatewayFee      float64  `json:"gateway_fee"`
}

type previewResponse struct {
	pricing.Result
	MarginLabel string `json:"margin_label"`
}

func (s *server) handleProcedurePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		s.writeError(w, r, &pricing.ValidationError{Field: "discount_percent", Reason: "must be between 0 and 100"})
		return
	}

	p, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	price := pricing.RoundMoney(p.ListPrice * (1 - req.DiscountPercent/100))
	if req.SalePrice != nil {
		price = *req.SalePrice
	}
	res, err := s.catalog.Preview(p, price, req.GatewayFee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Result: res, MarginLabel: pricing.FormatPercent(res.MarginPercent)})
}

func (s *server) handleSaleCreate(w http.ResponseWriter, r *http.Request) {
	var in catalog.SaleInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	sale, err := s.catalog.RecordSale(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (s *server) handleSalesList(w http.ResponseWriter, r *http.Request) {
	sales, err := s.catalog.ListSales(r.Context(), saleFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func saleFilter(r *http.Request) catalog.SaleFilter {
	q := r.URL.Query()
	return catalog.SaleFilter{
		Category:     q.Get("category"),
		Name:         q.Get("name"),
		Professional: q.Get("professional"),
	}
}

func (s *server) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.catalog.SalesReport(r.Context(), saleFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type revenueTiersPayload struct {
	Tiers []pricing.RevenueTier `json:"tiers"`
}

// UnmarshalJSON decodes tiers through ParseRevenueTiers so that errors name
// the offending tier.
func (p *revenueTiersPayload) UnmarshalJSON(b []byte) error {
	var raw struct {
		Tiers json.RawMessage `json:"tiers"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	tiers, err := pricing.ParseRevenueTiers(string(raw.Tiers))
	if err != nil {
		return err
	}
	p.Tiers = tiers
	return nil
}

func (s *server) handleRevenueTiersGet(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.catalog.RevenueTiers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revenueTiersPayload{Tiers: tiers})
}

func (s *server) handleRevenueTiersPut(w http.ResponseWriter, r *http.Request) {
	var req revenueTiersPayload
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.catalog.ReplaceRevenueTiers(r.Context(), req.Tiers); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleRevenueTiersGet(w, r)
}
