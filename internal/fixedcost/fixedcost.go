// Package fixedcost records the clinic's monthly fixed costs, the figure the
// portfolio simulator has to cover.
package fixedcost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

const monthLayout = "2006-01"

var ErrNotFound = errors.New("fixedcost: not found")

// Input is a fixed cost as submitted by an operator. CostCenter, Vendor and
// PaymentMethod are optional.
type Input struct {
	Month         string  `json:"month"`
	Description   string  `json:"description"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	CostCenter    string  `json:"cost_center,omitempty"`
	Vendor        string  `json:"vendor,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
}

type Cost struct {
	ID              string     `json:"id"`
	Month           string     `json:"month"`
	Description     string     `json:"description"`
	Amount          float64    `json:"amount"`
	CategoryID      int64      `json:"category_id"`
	Category        string     `json:"category"`
	CostCenterID    *int64     `json:"cost_center_id,omitempty"`
	CostCenter      string     `json:"cost_center,omitempty"`
	VendorID        *int64     `json:"vendor_id,omitempty"`
	Vendor          string     `json:"vendor,omitempty"`
	PaymentMethodID *int64     `json:"payment_method_id,omitempty"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// RowError describes a rejected row of AddMany, numbered from 1.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type BatchResult struct {
	Inserted int        `json:"inserted"`
	Errors   []RowError `json:"errors,omitempty"`
}

// ParseMonth accepts YYYY-MM and returns it in canonical form.
func ParseMonth(s string) (string, error) {
	t, err := time.Parse(monthLayout, strings.TrimSpace(s))
	if err != nil {
		return "", &pricing.ValidationError{Field: "month", Reason: "must be YYYY-MM"}
	}
	return t.Format(monthLayout), nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) string {
	return t.Format(monthLayout)
}

type Store struct {
	db   *sql.DB
	dims *dimension.Resolver
	now  func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:   db,
		dims: dimension.NewResolver(db),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (in Input) validate() (month, description string, err error) {
	month, err = ParseMonth(in.Month)
	if err != nil {
		return "", "", err
	}
	description = strings.TrimSpace(in.Description)
	switch {
	case description == "":
		return "", "", &pricing.ValidationError{Field: "description", Reason: "is required"}
	case in.Amount < 0:
		return "", "", &pricing.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	return month, description, nil
}

type dimensionIDs struct {
	category                          int64
	costCenter, vendor, paymentMethod *int64
}

func resolveDimensions(ctx context.Context, dims *dimension.Resolver, in Input) (dimensionIDs, error) {
	var ids dimensionIDs
	id, err := dims.GetOrCreate(ctx, dimension.FixedCostCategory, in.Category)
	if errors.Is(err, dimension.ErrInvalidLabel) {
		return ids, &pricing.ValidationError{Field: "category", Reason: "is required"}
	}
	if err != nil {
		return ids, fmt.Errorf("resolve fixed cost category: %w", err)
	}
	ids.category = id

	optional := []struct {
		dim   dimension.Dimension
		label string
		dst   **int64
	}{
		{dimension.CostCenter, in.CostCenter, &ids.costCenter},
		{dimension.Vendor, in.Vendor, &ids.vendor},
		{dimension.PaymentMethod, in.PaymentMethod, &ids.paymentMethod},
	}
	for _, o := range optional {
		if strings.TrimSpace(o.label) == "" {
			continue
		}
		id, err := dims.GetOrCreate(ctx, o.dim, o.label)
		if err != nil {
			return ids, fmt.Errorf("resolve %s: %w", o.dim, err)
		}
		*o.dst = &id
	}
	return ids, nil
}

func (s *Store) Add(ctx context.Context, in Input) (Cost, error) {
	month, description, err := in.validate()
	if err != nil {
		return Cost{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cost{}, fmt.Errorf("begin fixed cost transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := resolveDimensions(ctx, s.dims.WithTx(tx), in)
	if err != nil {
		return Cost{}, err
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fixed_costs (id, month, description, amount, category_id, cost_center_id,
			vendor_id, payment_method_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, month, description, pricing.RoundMoney(in.Amount), ids.category, ids.costCenter,
		ids.vendor, ids.paymentMethod, s.now().Format(time.RFC3339Nano)); err != nil {
		return Cost{}, fmt.Errorf("insert fixed cost: %w", err)
	}

	c, err := getCost(ctx, tx, id)
	if err != nil {
		return Cost{}, err
	}
	if err := tx.Commit(); err != nil {
		return Cost{}, fmt.Errorf("commit fixed cost: %w", err)
	}
	return c, nil
}

// AddMany adds each input in its own transaction. Invalid rows are reported
// and skipped; any other failure stops the batch.
func (s *Store) AddMany(ctx context.Context, inputs []Input) (BatchResult, error) {
	var out BatchResult
	for i, in := range inputs {
		_, err := s.Add(ctx, in)
		var verr *pricing.ValidationError
		switch {
		case errors.As(err, &verr):
			out.Errors = append(out.Errors, RowError{Row: i + 1, Field: verr.Field, Message: verr.Reason})
			continue
		case err != nil:
			return out, fmt.Errorf("row %d: %w", i+1, err)
		}
		out.Inserted++
	}
	return out, nil
}

// Update replaces the editable fields of cost id and bumps its version.
func (s *Store) Update(ctx context.Context, id string, in Input) (Cost, error) {
	month, description, err := in.validate()
	if err != nil {
		return Cost{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cost{}, fmt.Errorf("begin fixed cost update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := resolveDimensions(ctx, s.dims.WithTx(tx), in)
	if err != nil {
		return Cost{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE fixed_costs
		SET month = ?, description = ?, amount = ?, category_id = ?, cost_center_id = ?,
			vendor_id = ?, payment_method_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, month, description, pricing.RoundMoney(in.Amount), ids.category, ids.costCenter,
		ids.vendor, ids.paymentMethod, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return Cost{}, fmt.Errorf("update fixed cost %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Cost{}, fmt.Errorf("update fixed cost %s: %w", id, err)
	}
	if n == 0 {
		return Cost{}, ErrNotFound
	}

	c, err := getCost(ctx, tx, id)
	if err != nil {
		return Cost{}, err
	}
	if err := tx.Commit(); err != nil {
		return Cost{}, fmt.Errorf("commit fixed cost update: %w", err)
	}
	return c, nil
}

const costSelect = `
	SELECT f.id, f.month, f.description, f.amount, f.category_id, c.label,
		f.cost_center_id, COALESCE(cc.label, ''),
		f.vendor_id, COALESCE(v.label, ''),
		f.payment_method_id, COALESCE(pm.label, ''),
		f.version, f.created_at, f.updated_at
	FROM fixed_costs f
	JOIN dimensions c ON c.id = f.category_id
	LEFT JOIN dimensions cc ON cc.id = f.cost_center_id
	LEFT JOIN dimensions v ON v.id = f.vendor_id
	LEFT JOIN dimensions pm ON pm.id = f.payment_method_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCost(row rowScanner) (Cost, error) {
	var (
		c                                 Cost
		costCenter, vendor, paymentMethod sql.NullInt64
		createdAt                         string
		updatedAt                         sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Month, &c.Description, &c.Amount, &c.CategoryID, &c.Category,
		&costCenter, &c.CostCenter, &vendor, &c.Vendor, &paymentMethod, &c.PaymentMethod,
		&c.Version, &createdAt, &updatedAt); err != nil {
		return Cost{}, err
	}
	for _, n := range []struct {
		src sql.NullInt64
		dst **int64
	}{{costCenter, &c.CostCenterID}, {vendor, &c.VendorID}, {paymentMethod, &c.PaymentMethodID}} {
		if n.src.Valid {
			v := n.src.Int64
			*n.dst = &v
		}
	}

	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Cost{}, fmt.Errorf("decode created_at of %s: %w", c.ID, err)
	}
	if updatedAt.Valid && updatedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, updatedAt.String)
		if err != nil {
			return Cost{}, fmt.Errorf("decode updated_at of %s: %w", c.ID, err)
		}
		c.UpdatedAt = &t
	}
	return c, nil
}

func getCost(ctx context.Context, q dimension.DBTX, id string) (Cost, error) {
	c, err := scanCost(q.QueryRowContext(ctx, costSelect+` WHERE f.id = ? AND f.is_deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Cost{}, ErrNotFound
	}
	if err != nil {
		return Cost{}, fmt.Errorf("get fixed cost %s: %w", id, err)
	}
	return c, nil
}

// Get returns a fixed cost that has not been deleted.
func (s *Store) Get(ctx context.Context, id string) (Cost, error) {
	return getCost(ctx, s.db, id)
}

// List returns the costs of month ordered by category and description.
func (s *Store) List(ctx context.Context, month string) ([]Cost, error) {
	month, err := ParseMonth(month)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, costSelect+`
		WHERE f.month = ? AND f.is_deleted = 0
		ORDER BY c.normalized, f.description
	`, month)
	if err != nil {
		return nil, fmt.Errorf("list fixed costs: %w", err)
	}
	defer rows.Close()

	costs := []Cost{}
	for rows.Next() {
		c, err := scanCost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fixed cost: %w", err)
		}
		costs = append(costs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fixed costs: %w", err)
	}
	return costs, nil
}

// Total sums the costs of month, rounded to cents.
func (s *Store) Total(ctx context.Context, month string) (float64, error) {
	month, err := ParseMonth(month)
	if err != nil {
		return 0, err
	}
	var total float64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM fixed_costs WHERE month = ? AND is_deleted = 0
	`, month).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum fixed costs: %w", err)
	}
	return pricing.RoundMoney(total), nil
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE fixed_costs SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return fmt.Errorf("delete fixed cost %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fixed cost %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
