package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/zayaclinic/backoffice/internal/catalog"
	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/fixedcost"
	"github.com/zayaclinic/backoffice/internal/importer"
	"github.com/zayaclinic/backoffice/internal/pricing"
	"github.com/zayaclinic/backoffice/internal/product"
)

const maxJSONBody = 1 << 20

// badRequest marks errors caused by a malformed request body or query.
type badRequest struct {
	msg string
}

func (e badRequest) Error() string { return e.msg }

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		if errors.Is(err, io.EOF) {
			return badRequest{msg: "request body is empty"}
		}
		return badRequest{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without details.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *pricing.ValidationError
		bad  badRequest
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.As(err, &bad):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: bad.msg})
	case errors.Is(err, dimension.ErrInvalidLabel),
		errors.Is(err, dimension.ErrUnknownDimension),
		errors.Is(err, importer.ErrMissingPriceColumn):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, fixedcost.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, dimension.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func parseNonNegativeFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &pricing.ValidationError{Field: field, Reason: "must be numeric"}
	}
	if value < 0 {
		return 0, &pricing.ValidationError{Field: field, Reason: "must be greater than or equal to 0"}
	}
	return value, nil
}

func parsePositiveFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &pricing.ValidationError{Field: field, Reason: "must be numeric"}
	}
	if value <= 0 {
		return 0, &pricing.ValidationError{Field: field, Reason: "must be greater than 0"}
	}
	return value, nil
}

// finite turns the infinities used for unreachable break-even into nulls.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
