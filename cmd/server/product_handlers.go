package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zayaclinic/backoffice/internal/pricing"
	"github.com/zayaclinic/backoffice/internal/product"
)

func (s *server) handlePurchasesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purchases, err := s.products.List(r.Context(), product.Filter{
		From:     q.Get("from"),
		To:       q.Get("to"),
		Name:     q.Get("name"),
		Category: q.Get("category"),
		Vendor:   q.Get("vendor"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

func (s *server) handlePurchaseRecord(w http.ResponseWriter, r *http.Request) {
	var in product.Input
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.products.Record(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Action == product.ActionInserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *server) handlePurchasesBatch(w http.ResponseWriter, r *http.Request) {
	var inputs []product.Input
	if err := decodeJSON(w, r, &inputs); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.products.RecordMany(r.Context(), inputs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handlePurchaseUpdate(w http.ResponseWriter, r *http.Request) {
	var in product.Input
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.products.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handlePurchasesDelete(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.products.SoftDelete(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type averageCostResponse struct {
	Product  string  `json:"product"`
	UnitCost float64 `json:"unit_cost"`
}

func (s *server) handleAverageCost(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("product")
	if code == "" {
		s.writeError(w, r, &pricing.ValidationError{Field: "product", Reason: "is required"})
		return
	}
	cost, ok, err := s.products.AverageUnitCost(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no purchases recorded for " + code})
		return
	}
	writeJSON(w, http.StatusOK, averageCostResponse{Product: code, UnitCost: cost})
}
