// Package product records purchases of consumables and prices bills of
// materials from them.
package product

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	defaultCategory = "Produto"
	defaultVendor   = "Não informado"
)

var ErrNotFound = errors.New("product: purchase not found")

// Input is one purchase line as entered by an operator or read from a
// supplier sheet.
type Input struct {
	PurchaseDate string  `json:"purchase_date"`
	ProductName  string  `json:"product_name"`
	SKU          string  `json:"sku,omitempty"`
	UnitPrice    float64 `json:"unit_price"`
	Quantity     int     `json:"quantity"`
	Category     string  `json:"category,omitempty"`
	Vendor       string  `json:"vendor,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

type Purchase struct {
	ID           string     `json:"id"`
	RecordKey    string     `json:"record_key"`
	ProductCode  string     `json:"product_code"`
	ProductName  string     `json:"product_name"`
	SKU          string     `json:"sku,omitempty"`
	PurchaseDate string     `json:"purchase_date"`
	Month        string     `json:"month"`
	UnitPrice    float64    `json:"unit_price"`
	Quantity     int        `json:"quantity"`
	CategoryID   int64      `json:"category_id"`
	Category     string     `json:"category"`
	VendorID     int64      `json:"vendor_id"`
	Vendor       string     `json:"vendor"`
	Notes        string     `json:"notes,omitempty"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Action reports what Record did.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

type RecordResult struct {
	Action   Action   `json:"action"`
	Purchase Purchase `json:"purchase"`
}

// RowError describes a rejected row of RecordMany, numbered from 1.
type RowError struct {
	Row     int    `json:"row"`
	Name    string `json:"name,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type BatchResult struct {
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Filter narrows List. From and To are inclusive YYYY-MM-DD bounds; Name is a
// case-insensitive substring; Category and Vendor match normalised labels.
type Filter struct {
	From     string
	To       string
	Name     string
	Category string
	Vendor   string
}

// Code is the key purchases are grouped by: the SKU when there is one,
// otherwise the product name, both normalised.
func Code(name, sku string) string {
	if c := dimension.Normalize(sku); c != "" {
		return c
	}
	return dimension.Normalize(name)
}

type purchaseRow struct {
	date, month, name, sku, notes string
	code, nameCode, recordKey     string
	unitPrice                     float64
	quantity                      int
}

func (in Input) validate() (purchaseRow, error) {
	var r purchaseRow

	d, err := time.Parse(dateLayout, strings.TrimSpace(in.PurchaseDate))
	if err != nil {
		return r, &pricing.ValidationError{Field: "purchase_date", Reason: "must be YYYY-MM-DD"}
	}
	r.date, r.month = d.Format(dateLayout), d.Format(monthLayout)

	r.name = strings.Join(strings.Fields(in.ProductName), " ")
	switch {
	case r.name == "":
		return r, &pricing.ValidationError{Field: "product_name", Reason: "is required"}
	case in.UnitPrice < 0:
		return r, &pricing.ValidationError{Field: "unit_price", Reason: "must not be negative"}
	case in.Quantity < 0:
		return r, &pricing.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	r.sku = strings.TrimSpace(in.SKU)
	r.notes = strings.TrimSpace(in.Notes)
	r.unitPrice = in.UnitPrice
	r.quantity = in.Quantity
	r.code = Code(r.name, r.sku)
	r.nameCode = dimension.Normalize(r.name)

	// The same line imported twice must land on the same row.
	sum := sha256.Sum256([]byte(strings.Join([]string{
		r.date, r.nameCode,
		strconv.FormatFloat(r.unitPrice, 'f', 4, 64),
		strconv.Itoa(r.quantity),
		dimension.Normalize(in.Vendor),
		dimension.Normalize(r.sku),
	}, "|")))
	r.recordKey = hex.EncodeToString(sum[:])
	return r, nil
}

func labelOr(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
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

// Record stores a purchase. A purchase with the same date, product, price,
// quantity, vendor and SKU as a stored one updates it instead.
func (s *Store) Record(ctx context.Context, in Input) (RecordResult, error) {
	row, err := in.validate()
	if err != nil {
		return RecordResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecordResult{}, fmt.Errorf("begin purchase transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	categoryID, vendorID, err := s.resolve(ctx, tx, in)
	if err != nil {
		return RecordResult{}, err
	}
	now := s.now().Format(time.RFC3339Nano)

	var (
		id     string
		action = ActionUpdated
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM product_purchases WHERE record_key = ? AND is_deleted = 0
	`, row.recordKey).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, action = uuid.NewString(), ActionInserted
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_purchases (id, record_key, product_code, name_code, product_name, sku,
				purchase_date, month, unit_price, quantity, category_id, vendor_id, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, row.recordKey, row.code, row.nameCode, row.name, row.sku, row.date, row.month,
			row.unitPrice, row.quantity, categoryID, vendorID, row.notes, now, now); err != nil {
			return RecordResult{}, fmt.Errorf("insert purchase: %w", err)
		}
	case err != nil:
		return RecordResult{}, fmt.Errorf("lookup purchase: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_purchases
			SET product_name = ?, sku = ?, unit_price = ?, quantity = ?, notes = ?,
				category_id = ?, vendor_id = ?, version = version + 1, updated_at = ?
			WHERE id = ?
		`, row.name, row.sku, row.unitPrice, row.quantity, row.notes, categoryID, vendorID, now, id); err != nil {
			return RecordResult{}, fmt.Errorf("update purchase %s: %w", id, err)
		}
	}

	p, err := getPurchase(ctx, tx, id)
	if err != nil {
		return RecordResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RecordResult{}, fmt.Errorf("commit purchase: %w", err)
	}
	return RecordResult{Action: action, Purchase: p}, nil
}

// RecordMany records each input in its own transaction. Invalid rows are
// reported and skipped; any other failure stops the batch.
func (s *Store) RecordMany(ctx context.Context, inputs []Input) (BatchResult, error) {
	var out BatchResult
	for i, in := range inputs {
		res, err := s.Record(ctx, in)
		var verr *pricing.ValidationError
		switch {
		case errors.As(err, &verr):
			out.Errors = append(out.Errors, RowError{Row: i + 1, Name: in.ProductName, Field: verr.Field, Message: verr.Reason})
			continue
		case err != nil:
			return out, fmt.Errorf("row %d: %w", i+1, err)
		}
		if res.Action == ActionInserted {
			out.Inserted++
		} else {
			out.Updated++
		}
	}
	return out, nil
}

// Update replaces every field of purchase id and bumps its version.
func (s *Store) Update(ctx context.Context, id string, in Input) (Purchase, error) {
	row, err := in.validate()
	if err != nil {
		return Purchase{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Purchase{}, fmt.Errorf("begin purchase update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	categoryID, vendorID, err := s.resolve(ctx, tx, in)
	if err != nil {
		return Purchase{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE product_purchases
		SET record_key = ?, product_code = ?, name_code = ?, product_name = ?, sku = ?,
			purchase_date = ?, month = ?, unit_price = ?, quantity = ?, notes = ?,
			category_id = ?, vendor_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, row.recordKey, row.code, row.nameCode, row.name, row.sku, row.date, row.month,
		row.unitPrice, row.quantity, row.notes, categoryID, vendorID, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return Purchase{}, &pricing.ValidationError{Field: "purchase", Reason: "an identical purchase is already recorded"}
		}
		return Purchase{}, fmt.Errorf("update purchase %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Purchase{}, fmt.Errorf("update purchase %s: %w", id, err)
	}
	if n == 0 {
		return Purchase{}, ErrNotFound
	}

	p, err := getPurchase(ctx, tx, id)
	if err != nil {
		return Purchase{}, err
	}
	if err := tx.Commit(); err != nil {
		return Purchase{}, fmt.Errorf("commit purchase update: %w", err)
	}
	return p, nil
}

func (s *Store) resolve(ctx context.Context, tx *sql.Tx, in Input) (categoryID, vendorID int64, err error) {
	dims := s.dims.WithTx(tx)
	if categoryID, err = dims.GetOrCreate(ctx, dimension.ProductCategory, labelOr(in.Category, defaultCategory)); err != nil {
		return 0, 0, fmt.Errorf("resolve product category: %w", err)
	}
	if vendorID, err = dims.GetOrCreate(ctx, dimension.Vendor, labelOr(in.Vendor, defaultVendor)); err != nil {
		return 0, 0, fmt.Errorf("resolve vendor: %w", err)
	}
	return categoryID, vendorID, nil
}

// SoftDelete hides the given purchases and returns how many were hidden.
func (s *Store) SoftDelete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.now().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_purchases SET is_deleted = 1, updated_at = ?
		WHERE is_deleted = 0 AND id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete purchases: %w", err)
	}
	return res.RowsAffected()
}

const purchaseSelect = `
	SELECT p.id, p.record_key, p.product_code, p.product_name, p.sku, p.purchase_date, p.month,
		p.unit_price, p.quantity, p.category_id, c.label, p.vendor_id, v.label, p.notes,
		p.version, p.created_at, p.updated_at
	FROM product_purchases p
	JOIN dimensions c ON c.id = p.category_id
	JOIN dimensions v ON v.id = p.vendor_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row scanner) (Purchase, error) {
	var (
		p                    Purchase
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.RecordKey, &p.ProductCode, &p.ProductName, &p.SKU, &p.PurchaseDate,
		&p.Month, &p.UnitPrice, &p.Quantity, &p.CategoryID, &p.Category, &p.VendorID, &p.Vendor,
		&p.Notes, &p.Version, &createdAt, &updatedAt); err != nil {
		return Purchase{}, err
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Purchase{}, fmt.Errorf("decode created_at of %s: %w", p.ID, err)
	}
	if updatedAt != createdAt {
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return Purchase{}, fmt.Errorf("decode updated_at of %s: %w", p.ID, err)
		}
		p.UpdatedAt = &t
	}
	return p, nil
}

func getPurchase(ctx context.Context, q dimension.DBTX, id string) (Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx, purchaseSelect+` WHERE p.id = ? AND p.is_deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	if err != nil {
		return Purchase{}, fmt.Errorf("get purchase %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (Purchase, error) {
	return getPurchase(ctx, s.db, id)
}

// List returns purchases newest first, then by product name.
func (s *Store) List(ctx context.Context, f Filter) ([]Purchase, error) {
	var (
		where = []string{"p.is_deleted = 0"}
		args  []any
	)
	for _, bound := range []struct {
		value, op, field string
	}{{f.From, ">=", "from"}, {f.To, "<=", "to"}} {
		if strings.TrimSpace(bound.value) == "" {
			continue
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(bound.value))
		if err != nil {
			return nil, &pricing.ValidationError{Field: bound.field, Reason: "must be YYYY-MM-DD"}
		}
		where = append(where, "p.purchase_date "+bound.op+" ?")
		args = append(args, d.Format(dateLayout))
	}
	if n := strings.TrimSpace(f.Name); n != "" {
		where = append(where, "p.product_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(n)+"%")
	}
	if c := dimension.Normalize(f.Category); c != "" {
		where = append(where, "c.normalized = ?")
		args = append(args, c)
	}
	if v := dimension.Normalize(f.Vendor); v != "" {
		where = append(where, "v.normalized = ?")
		args = append(args, v)
	}

	rows, err := s.db.QueryContext(ctx, purchaseSelect+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY p.purchase_date DESC, p.product_name, p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	out := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}

// AverageUnitCost is the plain mean unit price over the purchases of a
// product, matched by SKU-derived code or by name. ok is false when the
// product was never bought.
func (s *Store) AverageUnitCost(ctx context.Context, product string) (cost float64, ok bool, err error) {
	code := dimension.Normalize(product)
	if code == "" {
		return 0, false, nil
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT AVG(unit_price) FROM product_purchases
		WHERE is_deleted = 0 AND (product_code = ? OR name_code = ?)
	`, code, code).Scan(&avg); err != nil {
		return 0, false, fmt.Errorf("average unit cost of %q: %w", product, err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// FillBOM prices lines that name a product but carry no unit cost with the
// product's average purchase price. Lines with a unit cost are left as is.
func (s *Store) FillBOM(ctx context.Context, lines []pricing.BOMLine) ([]pricing.BOMLine, error) {
	if len(lines) == 0 {
		return lines, nil
	}
	out := make([]pricing.BOMLine, len(lines))
	copy(out, lines)
	for i, l := range out {
		if l.UnitCost != 0 || strings.TrimSpace(l.ProductCode) == "" {
			continue
		}
		cost, ok, err := s.AverageUnitCost(ctx, l.ProductCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &pricing.ValidationError{
				Field:  "bom[" + strconv.Itoa(i) + "].product_code",
				Reason: fmt.Sprintf("no purchases recorded for %q", l.ProductCode),
			}
		}
		out[i].UnitCost = cost
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
