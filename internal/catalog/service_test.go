package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zayaclinic/backoffice/internal/dbtest"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewStore(dbtest.Open(t)), pricing.NewEngine(zaptest.NewLogger(t)))
}

func laserInput() ProcedureInput {
	return ProcedureInput{
		Name:            "Depilação a Laser",
		Category:        "Laser",
		DurationMinutes: 30,
		ListPrice:       500,
		Commission:      pricing.CommissionSpec{Model: "percent", Rate: 0.10},
		BOM:             []pricing.BOMLine{{ProductCode: "GEL", Qty: 4, UnitCost: 25}},
		OverheadModel:   pricing.OverheadPerHour,
		OverheadValue:   60,
	}
}

func TestPreviewUsesFlatGatewayFee(t *testing.T) {
	svc := newService(t)
	res, err := svc.Upsert(context.Background(), laserInput())
	require.NoError(t, err)

	got, err := svc.Preview(res.Procedure, 450, 10)
	require.NoError(t, err)
	// 450 - 10 gateway - 100 base - 30 overhead - 45 commission
	assert.InDelta(t, 265.0, got.NetProfit, 1e-9)
	assert.InDelta(t, 58.8889, got.MarginPercent, 1e-9)
	assert.InDelta(t, 10.0, got.FeesTotal, 1e-9)
	assert.Equal(t, pricing.CommissionPercent, got.CommissionModel)
}

func TestPreviewDoesNotClampLosses(t *testing.T) {
	svc := newService(t)
	res, err := svc.Upsert(context.Background(), laserInput())
	require.NoError(t, err)

	got, err := svc.Preview(res.Procedure, 50, 0)
	require.NoError(t, err)
	// 50 - 100 - 30 - 5 = -85
	assert.InDelta(t, -85.0, got.NetProfit, 1e-9)
	assert.InDelta(t, -170.0, got.MarginPercent, 1e-9)
}

func TestPreviewTieredCommissionReportsTier(t *testing.T) {
	svc := newService(t)
	in := laserInput()
	in.Commission = pricing.CommissionSpec{Model: "tiered", Tiers: []pricing.Tier{
		pricing.Bounded(0, 300, 0.05),
		pricing.OpenEnded(300, 0.10),
	}}
	res, err := svc.Upsert(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Procedure.Commission.Tiers, 2)

	got, err := svc.Preview(res.Procedure, 250, 0)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, got.CommissionValue, 1e-9)
	require.NotNil(t, got.CommissionTier)
	assert.Equal(t, 0.05, got.CommissionTier.Rate)
}

func TestRecordSaleStoresSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	res, err := svc.Upsert(ctx, laserInput())
	require.NoError(t, err)

	soldAt := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	sale, err := svc.RecordSale(ctx, res.Procedure.ID, SaleInput{
		SoldAt:          soldAt,
		DiscountPercent: 10,
		GatewayFee:      10,
		Professional:    " Dra. Ana ",
	})
	require.NoError(t, err)
	assert.InDelta(t, 450.0, sale.SalePrice, 1e-9)
	assert.InDelta(t, 45.0, sale.CommissionValue, 1e-9)
	assert.InDelta(t, 265.0, sale.NetProfit, 1e-9)
	assert.Equal(t, "Dra. Ana", sale.Professional)

	// A later price change must not alter the recorded sale.
	changed := laserInput()
	changed.ListPrice = 900
	_, err = svc.Upsert(ctx, changed)
	require.NoError(t, err)

	sales, err := svc.ListSales(ctx, SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, sale.ID, sales[0].ID)
	assert.InDelta(t, 500.0, sales[0].ListPrice, 1e-9)
	assert.InDelta(t, 58.8889, sales[0].MarginPercent, 1e-9)
	assert.True(t, soldAt.Equal(sales[0].SoldAt))
	assert.Equal(t, "Laser", sales[0].Category)
}

func TestRecordSaleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	res, err := svc.Upsert(ctx, laserInput())
	require.NoError(t, err)

	var verr *pricing.ValidationError
	_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{DiscountPercent: 101})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "discount_percent", verr.Field)

	_, err = svc.RecordSale(ctx, "missing", SaleInput{})
	assert.ErrorIs(t, err, ErrNotFound)

	changed := laserInput()
	changed.ListPrice = 600
	_, err = svc.Upsert(ctx, changed)
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "procedure_id", verr.Field)
}

func TestListSalesFilters(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	laser, err := svc.Upsert(ctx, laserInput())
	require.NoError(t, err)
	facial, err := svc.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	older := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	_, err = svc.RecordSale(ctx, laser.Procedure.ID, SaleInput{SoldAt: older})
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, facial.Procedure.ID, SaleInput{SoldAt: newer})
	require.NoError(t, err)

	all, err := svc.ListSales(ctx, SaleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Peeling Químico", all[0].ProcedureName)

	lasers, err := svc.ListSales(ctx, SaleFilter{Category: "laser"})
	require.NoError(t, err)
	require.Len(t, lasers, 1)
	assert.Equal(t, "Depilação a Laser", lasers[0].ProcedureName)

	byName, err := svc.ListSales(ctx, SaleFilter{Name: "PEELING"})
	require.NoError(t, err)
	assert.Len(t, byName, 1)
}

func TestListSalesFiltersByProfessional(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	res, err := svc.Upsert(ctx, laserInput())
	require.NoError(t, err)

	_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{Professional: "Dra. Ana"})
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{Professional: "Dr. Bruno"})
	require.NoError(t, err)

	ana, err := svc.ListSales(ctx, SaleFilter{Professional: "ana"})
	require.NoError(t, err)
	require.Len(t, ana, 1)
	assert.Equal(t, "Dra. Ana", ana[0].Professional)
}

func TestSalesReportAggregates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	laser, err := svc.Upsert(ctx, laserInput())
	require.NoError(t, err)
	facial, err := svc.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	_, err = svc.RecordSale(ctx, laser.Procedure.ID, SaleInput{DiscountPercent: 10, GatewayFee: 10})
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, facial.Procedure.ID, SaleInput{})
	require.NoError(t, err)

	report, err := svc.SalesReport(ctx, SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sales)
	assert.InDelta(t, 750.0, report.Revenue, 1e-9)
	assert.InDelta(t, 60.0, report.Commission, 1e-9)
	// 265 + (300 - 61 - 20 - 15)
	assert.InDelta(t, 469.0, report.NetProfit, 1e-9)
	assert.InDelta(t, 62.5333, report.AvgMarginPercent, 1e-9)

	require.Len(t, report.TopByMargin, 2)
	assert.Equal(t, "Peeling Químico", report.TopByMargin[0].Name)
	assert.InDelta(t, 68.0, report.TopByMargin[0].MarginPercent, 1e-9)
	assert.Equal(t, "Depilação a Laser", report.TopByMargin[1].Name)
	assert.InDelta(t, 58.8889, report.TopByMargin[1].MarginPercent, 1e-9)

	require.Len(t, report.ByCategory, 2)
	assert.Equal(t, "Laser", report.ByCategory[0].Category)
	assert.InDelta(t, 450.0, report.ByCategory[0].Revenue, 1e-9)
	assert.Equal(t, "Facial", report.ByCategory[1].Category)
}

func TestSalesReportWithoutRevenue(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	report, err := svc.SalesReport(ctx, SaleFilter{Professional: "ninguém"})
	require.NoError(t, err)
	assert.Zero(t, report.Sales)
	assert.Zero(t, report.AvgMarginPercent)
	assert.Empty(t, report.TopByMargin)

	free := laserInput()
	free.ListPrice = 0
	res, err := svc.Upsert(ctx, free)
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{})
	require.NoError(t, err)

	report, err = svc.SalesReport(ctx, SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sales)
	assert.Zero(t, report.AvgMarginPercent)
	require.Len(t, report.TopByMargin, 1)
	assert.Zero(t, report.TopByMargin[0].MarginPercent)
}

func TestSalesReportKeepsTopTwenty(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for i := range 22 {
		in := laserInput()
		in.Name = fmt.Sprintf("Laser %02d", i)
		in.ListPrice = float64(200 + i*10)
		res, err := svc.Upsert(ctx, in)
		require.NoError(t, err)
		_, err = svc.RecordSale(ctx, res.Procedure.ID, SaleInput{})
		require.NoError(t, err)
	}

	report, err := svc.SalesReport(ctx, SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 22, report.Sales)
	require.Len(t, report.TopByMargin, 20)
	assert.Equal(t, "Laser 21", report.TopByMargin[0].Name)
	for i := 1; i < len(report.TopByMargin); i++ {
		assert.GreaterOrEqual(t, report.TopByMargin[i-1].MarginPercent, report.TopByMargin[i].MarginPercent)
	}
	require.Len(t, report.ByCategory, 1)
	assert.Equal(t, 22, report.ByCategory[0].Sales)
}
