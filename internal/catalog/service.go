package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

// Service prices catalog procedures and records their sales.
type Service struct {
	*Store
	engine *pricing.Engine
}

func NewService(store *Store, engine *pricing.Engine) *Service {
	return &Service{Store: store, engine: engine}
}

// SaleInput is a sale being recorded against a procedure version.
type SaleInput struct {
	SoldAt          time.Time `json:"sold_at"`
	DiscountPercent float64   `json:"discount_percent"`
	GatewayFee      float64   `json:"gateway_fee"`
	Professional    string    `json:"professional"`
	Notes           string    `json:"notes"`
}

// Sale is the persisted snapshot of a sale. Procedure figures are copied
// so that later catalog versions do not rewrite history.
type Sale struct {
	ID              string                  `json:"id"`
	ProcedureID     string                  `json:"procedure_id"`
	ProcedureName   string                  `json:"procedure_name"`
	Category        string                  `json:"category"`
	SoldAt          time.Time               `json:"sold_at"`
	Professional    string                  `json:"professional,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	ListPrice       float64                 `json:"list_price"`
	DiscountPercent float64                 `json:"discount_percent"`
	SalePrice       float64                 `json:"sale_price"`
	GatewayFee      float64                 `json:"gateway_fee"`
	BaseCost        float64                 `json:"base_cost"`
	CommissionModel pricing.CommissionModel `json:"commission_model"`
	CommissionRate  float64                 `json:"commission_rate"`
	CommissionValue float64                 `json:"commission_value"`
	CommissionTier  *pricing.Tier           `json:"commission_tier,omitempty"`
	OverheadValue   float64                 `json:"overhead_value"`
	NetProfit       float64                 `json:"net_profit"`
	MarginPercent   float64                 `json:"margin_percent"`
}

// SaleFilter narrows ListSales the same way Filter narrows List.
// Professional is a case-insensitive substring.
type SaleFilter struct {
	Category     string
	Name         string
	Professional string
}

// Preview prices proc at salePrice with a flat gateway fee. The margin is
// left unclamped so that loss-making sales show their real size.
func (s *Service) Preview(proc Procedure, salePrice, gatewayFee float64) (pricing.Result, error) {
	commission, err := proc.Commission.Resolve()
	if err != nil {
		return pricing.Result{}, err
	}
	return s.engine.Evaluate(pricing.Input{
		SalePrice:       salePrice,
		BaseCost:        proc.BaseCost,
		Commission:      commission,
		Overhead:        proc.Overhead(),
		GatewayFeeFixed: gatewayFee,
		FeeMode:         pricing.FeeModeFlatGateway,
	}), nil
}

// RecordSale prices a sale of procedure id at its list price less the
// discount and stores the snapshot.
func (s *Service) RecordSale(ctx context.Context, id string, in SaleInput) (Sale, error) {
	switch {
	case in.DiscountPercent < 0 || in.DiscountPercent > 100:
		return Sale{}, &pricing.ValidationError{Field: "discount_percent", Reason: "must be between 0 and 100"}
	case in.GatewayFee < 0:
		return Sale{}, &pricing.ValidationError{Field: "gateway_fee", Reason: "must not be negative"}
	}

	proc, err := s.Get(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if !proc.Active {
		return Sale{}, &pricing.ValidationError{Field: "procedure_id", Reason: "procedure version is no longer active"}
	}

	salePrice := pricing.RoundMoney(proc.ListPrice * (1 - in.DiscountPercent/100))
	res, err := s.Preview(proc, salePrice, in.GatewayFee)
	if err != nil {
		return Sale{}, err
	}

	soldAt := in.SoldAt
	if soldAt.IsZero() {
		soldAt = s.now()
	}
	sale := Sale{
		ID:              uuid.NewString(),
		ProcedureID:     proc.ID,
		ProcedureName:   proc.Name,
		Category:        proc.Category,
		SoldAt:          soldAt.UTC(),
		Professional:    strings.TrimSpace(in.Professional),
		Notes:           strings.TrimSpace(in.Notes),
		ListPrice:       proc.ListPrice,
		DiscountPercent: in.DiscountPercent,
		SalePrice:       salePrice,
		GatewayFee:      in.GatewayFee,
		BaseCost:        proc.BaseCost,
		CommissionModel: res.CommissionModel,
		CommissionRate:  res.CommissionRate,
		CommissionValue: res.CommissionValue,
		CommissionTier:  res.CommissionTier,
		OverheadValue:   res.OverheadValue,
		NetProfit:       res.NetProfit,
		MarginPercent:   res.MarginPercent,
	}

	tier := ""
	if sale.CommissionTier != nil {
		b, err := json.Marshal(sale.CommissionTier)
		if err != nil {
			return Sale{}, fmt.Errorf("encode commission tier: %w", err)
		}
		tier = string(b)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO procedure_sales (
			id, procedure_id, procedure_name, category_label, sold_at, professional, notes,
			list_price, discount_percent, sale_price, gateway_fee, base_cost,
			commission_model, commission_rate, commission_value, commission_tier,
			overhead_value, net_profit, margin_percent
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sale.ID, sale.ProcedureID, sale.ProcedureName, sale.Category, formatTime(sale.SoldAt),
		sale.Professional, sale.Notes,
		sale.ListPrice, sale.DiscountPercent, sale.SalePrice, sale.GatewayFee, sale.BaseCost,
		string(sale.CommissionModel), sale.CommissionRate, sale.CommissionValue, tier,
		sale.OverheadValue, sale.NetProfit, sale.MarginPercent,
	); err != nil {
		return Sale{}, fmt.Errorf("insert sale: %w", err)
	}
	return sale, nil
}

// ListSales returns recorded sales, newest first.
func (s *Service) ListSales(ctx context.Context, f SaleFilter) ([]Sale, error) {
	var (
		where []string
		args  []any
	)
	if c := dimension.Normalize(f.Category); c != "" {
		where = append(where, `s.procedure_id IN (
			SELECT p.id FROM procedures p JOIN dimensions d ON d.id = p.category_id WHERE d.normalized = ?)`)
		args = append(args, c)
	}
	if n := strings.TrimSpace(f.Name); n != "" {
		where = append(where, "s.procedure_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(n)+"%")
	}
	if p := strings.TrimSpace(f.Professional); p != "" {
		where = append(where, "s.professional LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(p)+"%")
	}
	query := `
		SELECT s.id, s.procedure_id, s.procedure_name, s.category_label, s.sold_at,
			s.professional, s.notes, s.list_price, s.discount_percent, s.sale_price,
			s.gateway_fee, s.base_cost, s.commission_model, s.commission_rate,
			s.commission_value, s.commission_tier, s.overhead_value, s.net_profit,
			s.margin_percent
		FROM procedure_sales s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.sold_at DESC, s.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

func scanSale(rows *sql.Rows) (Sale, error) {
	var (
		sale         Sale
		soldAt, tier string
		model        string
	)
	if err := rows.Scan(
		&sale.ID, &sale.ProcedureID, &sale.ProcedureName, &sale.Category, &soldAt,
		&sale.Professional, &sale.Notes, &sale.ListPrice, &sale.DiscountPercent, &sale.SalePrice,
		&sale.GatewayFee, &sale.BaseCost, &model, &sale.CommissionRate,
		&sale.CommissionValue, &tier, &sale.OverheadValue, &sale.NetProfit,
		&sale.MarginPercent,
	); err != nil {
		return Sale{}, fmt.Errorf("scan sale: %w", err)
	}
	sale.CommissionModel = pricing.CommissionModel(model)

	var err error
	if sale.SoldAt, err = parseTime(soldAt); err != nil {
		return Sale{}, fmt.Errorf("decode sold_at of sale %s: %w", sale.ID, err)
	}
	if tier != "" {
		var t pricing.Tier
		if err := json.Unmarshal([]byte(tier), &t); err != nil {
			return Sale{}, fmt.Errorf("decode commission tier of sale %s: %w", sale.ID, err)
		}
		sale.CommissionTier = &t
	}
	return sale, nil
}
