// Package importer reads pricing portfolios exported from spreadsheets.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

var ErrMissingPriceColumn = errors.New("importer: no price column found")

// RowError describes a rejected data row. Row counts data rows from 1,
// not counting the header.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

type column int

const (
	colName column = iota
	colCategory
	colPrice
	colDiscount
	colGateway
	colTaxes
	colBOM
	colOverheadFixed
	colOverheadRate
	colCommissionModel
	colCommissionRate
	colCommissionFixed
	colCommissionTiers
	colMix
	colQuantity
)

// aliases lists accepted headers per column in priority order. Headers are
// compared after normalisation, so case and accents do not matter.
var aliases = map[column][]string{
	colName:            {"procedimento", "nome", "name", "procedure"},
	colCategory:        {"categoria", "category"},
	colPrice:           {"preco", "price", "valor", "tabela"},
	colDiscount:        {"desconto", "discount", "disc"},
	colGateway:         {"gateway", "taxa_gateway", "adquirente"},
	colTaxes:           {"impostos", "iss", "taxes"},
	colBOM:             {"custo_bom", "bom", "custo_insumos", "insumos", "custo_direto"},
	colOverheadFixed:   {"overhead_fixo", "oh_fixo", "custo_indireto_fixo"},
	colOverheadRate:    {"overhead_pct", "oh_pct", "overhead_percent"},
	colCommissionModel: {"modelo_comissao", "commission_model", "modelo"},
	colCommissionRate:  {"comissao_pct", "commission_pct", "comissao", "commission"},
	colCommissionFixed: {"comissao_fixa", "commission_fixed"},
	colCommissionTiers: {"faixas_comissao", "commission_tiers"},
	colMix:             {"mix", "participacao"},
	colQuantity:        {"quantidade", "qtd", "quantity", "qty"},
}

var columnNames = map[column]string{
	colName: "name", colCategory: "category", colPrice: "price", colDiscount: "discount",
	colGateway: "gateway", colTaxes: "taxes", colBOM: "bom", colOverheadFixed: "overhead_fixed",
	colOverheadRate: "overhead_rate", colCommissionModel: "commission_model",
	colCommissionRate: "commission_rate", colCommissionFixed: "commission_fixed",
	colCommissionTiers: "commission_tiers", colMix: "mix", colQuantity: "quantity",
}

// ParsePortfolioCSV reads a portfolio table with a header row. Comma and
// semicolon delimiters are detected from the header. Bad cells reject only
// their row; the error return is reserved for unreadable input or a table
// without a price column.
func ParsePortfolioCSV(r io.Reader) ([]pricing.Procedure, []RowError, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read portfolio csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = detectDelimiter(raw)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrMissingPriceColumn
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read portfolio header: %w", err)
	}
	index := mapHeader(header)
	if _, ok := index[colPrice]; !ok {
		return nil, nil, ErrMissingPriceColumn
	}

	var (
		procs   []pricing.Procedure
		rowErrs []RowError
	)
	for row := 1; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read portfolio row %d: %w", row, err)
		}
		if blank(record) {
			continue
		}

		p, rerr := parseRow(row, record, index)
		if rerr != nil {
			rowErrs = append(rowErrs, *rerr)
			continue
		}
		procs = append(procs, p)
	}
	return procs, rowErrs, nil
}

func detectDelimiter(raw []byte) rune {
	line, _, _ := bytes.Cut(raw, []byte("\n"))
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func mapHeader(header []string) map[column]int {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[column]int)
	for col, names := range aliases {
		for _, name := range names {
			if i, ok := positions[headerKey(name)]; ok {
				index[col] = i
				break
			}
		}
	}
	return index
}

func headerKey(s string) string {
	return strings.ReplaceAll(dimension.Normalize(s), "-", "_")
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type rowReader struct {
	row    int
	record []string
	index  map[column]int
	err    *RowError
}

func (rr *rowReader) text(c column) string {
	i, ok := rr.index[c]
	if !ok || i >= len(rr.record) {
		return ""
	}
	return strings.TrimSpace(rr.record[i])
}

func (rr *rowReader) number(c column) float64 {
	if rr.err != nil {
		return 0
	}
	s := rr.text(c)
	if s == "" {
		return 0
	}
	v, err := ParseNumber(s)
	if err != nil {
		rr.err = &RowError{Row: rr.row, Column: columnNames[c], Message: err.Error()}
		return 0
	}
	return v
}

func parseRow(row int, record []string, index map[column]int) (pricing.Procedure, *RowError) {
	rr := &rowReader{row: row, record: record, index: index}

	p := pricing.Procedure{
		Name:         rr.text(colName),
		Category:     rr.text(colCategory),
		Price:        rr.number(colPrice),
		DiscountRate: rr.number(colDiscount),
		GatewayRate:  rr.number(colGateway),
		TaxesRate:    rr.number(colTaxes),
		BaseCost:     rr.number(colBOM),
		Overhead: pricing.BOMOverhead{
			Fixed: rr.number(colOverheadFixed),
			Rate:  rr.number(colOverheadRate),
		},
		Mix:      rr.number(colMix),
		Quantity: rr.number(colQuantity),
	}
	spec := pricing.CommissionSpec{
		Model:      rr.text(colCommissionModel),
		Rate:       rr.number(colCommissionRate),
		FixedValue: rr.number(colCommissionFixed),
	}
	if rr.err != nil {
		return pricing.Procedure{}, rr.err
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("row %d", row)
	}
	if p.Price < 0 {
		return pricing.Procedure{}, &RowError{Row: row, Column: "price", Message: "must not be negative"}
	}

	if raw := rr.text(colCommissionTiers); raw != "" {
		tiers, err := pricing.ParseTiers(raw)
		if err != nil {
			return pricing.Procedure{}, &RowError{Row: row, Column: "commission_tiers", Message: err.Error()}
		}
		spec.Tiers = tiers
	}
	c, err := spec.Resolve()
	if err != nil {
		return pricing.Procedure{}, &RowError{Row: row, Column: "commission_rate", Message: err.Error()}
	}
	p.Commission = c
	return p, nil
}

// ParseNumber accepts plain numbers, Brazilian formatting ("1.234,56"),
// currency prefixes and percentages ("12,5%" is 0.125).
func ParseNumber(s string) (float64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "R$")
	v = strings.ReplaceAll(v, " ", "")

	scale := 1.0
	if strings.HasSuffix(v, "%") {
		v = strings.TrimSuffix(v, "%")
		scale = 0.01
	}

	lastDot, lastComma := strings.LastIndex(v, "."), strings.LastIndex(v, ",")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		v = strings.ReplaceAll(v, ".", "")
		v = strings.Replace(v, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		v = strings.ReplaceAll(v, ",", "")
	case lastComma >= 0:
		v = strings.Replace(v, ",", ".", 1)
	case strings.Count(v, ".") > 1:
		v = strings.ReplaceAll(v, ".", "")
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return f * scale, nil
}
