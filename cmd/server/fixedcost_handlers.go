package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/fixedcost"
)

type fixedCostsResponse struct {
	Month string           `json:"month"`
	Total float64          `json:"total"`
	Costs []fixedcost.Cost `json:"costs"`
}

func (s *server) handleFixedCostsList(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = fixedcost.MonthOf(s.now())
	}

	costs, err := s.costs.List(r.Context(), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.costs.Total(r.Context(), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	month, _ = fixedcost.ParseMonth(month)
	writeJSON(w, http.StatusOK, fixedCostsResponse{Month: month, Total: total, Costs: costs})
}

func (s *server) handleFixedCostsCreate(w http.ResponseWriter, r *http.Request) {
	var in fixedcost.Input
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Month == "" {
		in.Month = fixedcost.MonthOf(s.now())
	}

	c, err := s.costs.Add(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleFixedCostDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.costs.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dimensionRequest struct {
	Label string `json:"label"`
}

func (s *server) handleDimensionList(w http.ResponseWriter, r *http.Request) {
	dim, err := dimension.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.dims.List(r.Context(), dim)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleDimensionCreate(w http.ResponseWriter, r *http.Request) {
	dim, err := dimension.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req dimensionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, created, err := s.dims.Ensure(r.Context(), dim, req.Label)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	label, err := s.dims.Label(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dimension.Entry{ID: id, Dimension: dim, Label: label, Normalized: dimension.Normalize(label)})
}

func (s *server) handleFixedCostsBatch(w http.ResponseWriter, r *http.Request) {
	var inputs []fixedcost.Input
	if err := decodeJSON(w, r, &inputs); err != nil {
		s.writeError(w, r, err)
		return
	}
	month := fixedcost.MonthOf(s.now())
	for i := range inputs {
		if inputs[i].Month == "" {
			inputs[i].Month = month
		}
	}

	res, err := s.costs.AddMany(r.Context(), inputs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleFixedCostUpdate(w http.ResponseWriter, r *http.Request) {
	var in fixedcost.Input
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.costs.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
