package catalog

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/zayaclinic/backoffice/internal/pricing"
)

const topProceduresLimit = 20

// ProcedureSummary aggregates the sales of one procedure name within a
// category.
type ProcedureSummary struct {
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Sales         int     `json:"sales"`
	Revenue       float64 `json:"revenue"`
	Commission    float64 `json:"commission"`
	NetProfit     float64 `json:"net_profit"`
	MarginPercent float64 `json:"margin_percent"`
}

type CategorySummary struct {
	Category      string  `json:"category"`
	Sales         int     `json:"sales"`
	Revenue       float64 `json:"revenue"`
	NetProfit     float64 `json:"net_profit"`
	MarginPercent float64 `json:"margin_percent"`
}

// SalesReport summarises the sales matched by a SaleFilter. Margins are
// net profit over revenue and are zero when there is no revenue.
type SalesReport struct {
	Sales            int                `json:"sales"`
	Revenue          float64            `json:"revenue"`
	Commission       float64            `json:"commission"`
	NetProfit        float64            `json:"net_profit"`
	AvgMarginPercent float64            `json:"avg_margin_percent"`
	TopByMargin      []ProcedureSummary `json:"top_by_margin"`
	ByCategory       []CategorySummary  `json:"by_category"`
}

type totals struct {
	sales                          int
	revenue, commission, netProfit decimal.Decimal
}

func (t *totals) add(s Sale) {
	t.sales++
	t.revenue = t.revenue.Add(decimal.NewFromFloat(s.SalePrice))
	t.commission = t.commission.Add(decimal.NewFromFloat(s.CommissionValue))
	t.netProfit = t.netProfit.Add(decimal.NewFromFloat(s.NetProfit))
}

func (t totals) margin() float64 {
	if t.revenue.IsZero() {
		return 0
	}
	return pricing.RoundRate(t.netProfit.Div(t.revenue).Mul(decimal.NewFromInt(100)).InexactFloat64())
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// SalesReport aggregates the sales matched by f.
func (s *Service) SalesReport(ctx context.Context, f SaleFilter) (SalesReport, error) {
	sales, err := s.ListSales(ctx, f)
	if err != nil {
		return SalesReport{}, err
	}

	type procedureKey struct{ name, category string }
	var (
		all         totals
		byProcedure = map[procedureKey]*totals{}
		byCategory  = map[string]*totals{}
	)
	for _, sale := range sales {
		all.add(sale)

		pk := procedureKey{sale.ProcedureName, sale.Category}
		if byProcedure[pk] == nil {
			byProcedure[pk] = &totals{}
		}
		byProcedure[pk].add(sale)

		if byCategory[sale.Category] == nil {
			byCategory[sale.Category] = &totals{}
		}
		byCategory[sale.Category].add(sale)
	}

	report := SalesReport{
		Sales:            all.sales,
		Revenue:          money(all.revenue),
		Commission:       money(all.commission),
		NetProfit:        money(all.netProfit),
		AvgMarginPercent: all.margin(),
		TopByMargin:      make([]ProcedureSummary, 0, len(byProcedure)),
		ByCategory:       make([]CategorySummary, 0, len(byCategory)),
	}

	for k, t := range byProcedure {
		report.TopByMargin = append(report.TopByMargin, ProcedureSummary{
			Name:          k.name,
			Category:      k.category,
			Sales:         t.sales,
			Revenue:       money(t.revenue),
			Commission:    money(t.commission),
			NetProfit:     money(t.netProfit),
			MarginPercent: t.margin(),
		})
	}
	slices.SortFunc(report.TopByMargin, func(a, b ProcedureSummary) int {
		return cmp.Or(
			cmp.Compare(b.MarginPercent, a.MarginPercent),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Category, b.Category),
		)
	})
	if len(report.TopByMargin) > topProceduresLimit {
		report.TopByMargin = report.TopByMargin[:topProceduresLimit]
	}

	for category, t := range byCategory {
		report.ByCategory = append(report.ByCategory, CategorySummary{
			Category:      category,
			Sales:         t.sales,
			Revenue:       money(t.revenue),
			NetProfit:     money(t.netProfit),
			MarginPercent: t.margin(),
		})
	}
	slices.SortFunc(report.ByCategory, func(a, b CategorySummary) int {
		return cmp.Or(cmp.Compare(b.Revenue, a.Revenue), cmp.Compare(a.Category, b.Category))
	})
	return report, nil
}
