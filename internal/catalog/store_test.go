package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zayaclinic/backoffice/internal/dbtest"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

func peelingInput() ProcedureInput {
	return ProcedureInput{
		Name:            "Peeling Químico",
		Category:        "Facial",
		DurationMinutes: 45,
		ListPrice:       300,
		Commission:      pricing.CommissionSpec{Model: "fixed", FixedValue: 15},
		BOM: []pricing.BOMLine{
			{ProductCode: "AC-01", Description: "ácido", Qty: 2, UnitCost: 25.5},
			{ProductCode: "GZ-02", Description: "gaze", Qty: 1, UnitCost: 10},
		},
		OverheadModel:       pricing.OverheadPerSession,
		OverheadValue:       20,
		MarkupTargetPercent: 50,
	}
}

func TestUpsertInsertsDerivedFields(t *testing.T) {
	store := NewStore(dbtest.Open(t))

	res, err := store.Upsert(context.Background(), peelingInput())
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, res.Action)

	p := res.Procedure
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 1, p.Version)
	assert.True(t, p.Active)
	assert.Nil(t, p.ValidTo)
	assert.Equal(t, "Facial", p.Category)
	assert.Equal(t, RecordKey("peeling quimico", "FACIAL"), p.RecordKey)
	assert.InDelta(t, 61.0, p.BaseCost, 1e-9)
	// (61 + 20) * 1.5 + 15
	assert.InDelta(t, 136.5, p.PriceMinRecommended, 1e-9)
	assert.Len(t, p.BOM, 2)
	assert.Equal(t, "fixed", p.Commission.Model)
}

func TestUpsertIdenticalContentIsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	first, err := store.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	again := peelingInput()
	again.Name = "  Peeling   Químico "
	again.Category = "FACIAL"
	second, err := store.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, second.Action)
	assert.Equal(t, first.Procedure.ID, second.Procedure.ID)

	all, err := store.List(ctx, Filter{Status: StatusAll})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertChangedContentCreatesVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	first, err := store.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	changed := peelingInput()
	changed.Category = "facial"
	changed.ListPrice = 350
	second, err := store.Upsert(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, 2, second.Procedure.Version)
	assert.Equal(t, first.Procedure.RecordKey, second.Procedure.RecordKey)
	assert.NotEqual(t, first.Procedure.ID, second.Procedure.ID)

	old, err := store.Get(ctx, first.Procedure.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	require.NotNil(t, old.ValidTo)

	active, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 350.0, active[0].ListPrice)

	inactive, err := store.List(ctx, Filter{Status: StatusInactive})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, first.Procedure.ID, inactive[0].ID)

	all, err := store.List(ctx, Filter{Status: StatusAll})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Version)
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	store := NewStore(dbtest.Open(t))

	cases := map[string]func(*ProcedureInput){
		"name":                 func(in *ProcedureInput) { in.Name = "  " },
		"category":             func(in *ProcedureInput) { in.Category = "" },
		"list_price":           func(in *ProcedureInput) { in.ListPrice = -1 },
		"max_discount_percent": func(in *ProcedureInput) { in.MaxDiscountPercent = 120 },
		"overhead_model":       func(in *ProcedureInput) { in.OverheadModel = "per_week" },
		"commission.model":     func(in *ProcedureInput) { in.Commission = pricing.CommissionSpec{Model: "bonus"} },
		"commission.tiers":     func(in *ProcedureInput) { in.Commission = pricing.CommissionSpec{Model: "tiered"} },
		"commission.rate":      func(in *ProcedureInput) { in.Commission = pricing.CommissionSpec{Model: "percent", Rate: -0.1} },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := peelingInput()
			mutate(&in)
			_, err := store.Upsert(context.Background(), in)
			var verr *pricing.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestUpsertManyCollectsRowErrors(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	botox := peelingInput()
	botox.Name = "Toxina Botulínica"
	botox.Category = "Injetável"
	bad := peelingInput()
	bad.ListPrice = -10

	res, err := store.UpsertMany(ctx, []ProcedureInput{peelingInput(), bad, botox, peelingInput()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "list_price")
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	botox := peelingInput()
	botox.Name = "Toxina Botulínica"
	botox.Category = "Injetável"
	_, err := store.UpsertMany(ctx, []ProcedureInput{peelingInput(), botox})
	require.NoError(t, err)

	byCategory, err := store.List(ctx, Filter{Category: "INJETAVEL"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "Toxina Botulínica", byCategory[0].Name)

	byName, err := store.List(ctx, Filter{Name: "peeling"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Facial", byName[0].Category)

	none, err := store.List(ctx, Filter{Name: "100%"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSoftDeleteHidesAndRestartsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	first, err := store.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	require.NoError(t, store.SoftDelete(ctx, first.Procedure.ID))
	assert.ErrorIs(t, store.SoftDelete(ctx, first.Procedure.ID), ErrNotFound)

	_, err = store.Get(ctx, first.Procedure.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx, Filter{Status: StatusAll})
	require.NoError(t, err)
	assert.Empty(t, all)

	again, err := store.Upsert(ctx, peelingInput())
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, again.Action)
	assert.Equal(t, 2, again.Procedure.Version)
}

func TestHardDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	res, err := store.Upsert(ctx, peelingInput())
	require.NoError(t, err)

	n, err := store.HardDelete(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.HardDelete(ctx, []string{res.Procedure.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, res.Procedure.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevenueTiers(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t))

	tiers, err := store.RevenueTiers(ctx)
	require.NoError(t, err)
	assert.Empty(t, tiers)

	require.NoError(t, store.ReplaceRevenueTiers(ctx, []pricing.RevenueTier{
		{Min: 60000, Rate: 0.175},
		{Min: 0, Rate: 0.10},
		{Min: 25000, Rate: 0.125},
	}))
	tiers, err = store.RevenueTiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pricing.RevenueTier{
		{Min: 0, Rate: 0.10},
		{Min: 25000, Rate: 0.125},
		{Min: 60000, Rate: 0.175},
	}, tiers)

	err = store.ReplaceRevenueTiers(ctx, []pricing.RevenueTier{{Min: 0, Rate: 0.1}, {Min: 0, Rate: 0.2}})
	var verr *pricing.ValidationError
	require.ErrorAs(t, err, &verr)

	tiers, err = store.RevenueTiers(ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 3)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	st, err = ParseStatus(" ALL ")
	require.NoError(t, err)
	assert.Equal(t, StatusAll, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

type fixedUnitCosts map[string]float64

func (c fixedUnitCosts) FillBOM(_ context.Context, lines []pricing.BOMLine) ([]pricing.BOMLine, error) {
	out := make([]pricing.BOMLine, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.UnitCost != 0 {
			continue
		}
		cost, ok := c[l.ProductCode]
		if !ok {
			return nil, &pricing.ValidationError{Field: "bom.product_code", Reason: "unknown product"}
		}
		out[i].UnitCost = cost
	}
	return out, nil
}

func TestUpsertFillsBOMUnitCosts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.Open(t), WithUnitCosts(fixedUnitCosts{"AC-01": 30}))

	in := peelingInput()
	in.BOM[0].UnitCost = 0
	res, err := store.Upsert(ctx, in)
	require.NoError(t, err)
	assert.InDelta(t, 30, res.Procedure.BOM[0].UnitCost, 1e-9)
	assert.InDelta(t, 10, res.Procedure.BOM[1].UnitCost, 1e-9)
	assert.InDelta(t, 70.0, res.Procedure.BaseCost, 1e-9)

	unknown := peelingInput()
	unknown.BOM[1].UnitCost = 0
	unknown.BOM[1].ProductCode = "XX"
	_, err = store.Upsert(ctx, unknown)
	var verr *pricing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bom.product_code", verr.Field)
}
