// Package dimension maps free-text labels such as procedure categories or
// cost centers to stable integer ids.
package dimension

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

// Dimension names a family of labels.
type Dimension string

const (
	ProcedureCategory Dimension = "procedure_category"
	FixedCostCategory Dimension = "fixed_cost_category"
	CostCenter        Dimension = "cost_center"
	ProductCategory   Dimension = "product_category"
	Vendor            Dimension = "vendor"
	PaymentMethod     Dimension = "payment_method"
)

var known = map[Dimension]bool{
	ProcedureCategory: true,
	FixedCostCategory: true,
	CostCenter:        true,
	ProductCategory:   true,
	Vendor:            true,
	PaymentMethod:     true,
}

var (
	ErrInvalidLabel     = errors.New("dimension: label is empty")
	ErrUnknownDimension = errors.New("dimension: unknown dimension")
	ErrNotFound         = errors.New("dimension: not found")
)

// ParseDimension validates a dimension name coming from outside the process.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if !known[d] {
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
	}
	return d, nil
}

// Entry is one stored label.
type Entry struct {
	ID         int64     `json:"id"`
	Dimension  Dimension `json:"dimension"`
	Label      string    `json:"label"`
	Normalized string    `json:"normalized"`
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Resolver struct {
	db DBTX
}

func NewResolver(db DBTX) *Resolver {
	return &Resolver{db: db}
}

// WithTx returns a resolver bound to tx.
func (r *Resolver) WithTx(tx *sql.Tx) *Resolver {
	return &Resolver{db: tx}
}

// Normalize folds case, accents and punctuation so that "Injetável",
// "injetavel" and " INJETAVEL " share one id.
func Normalize(label string) string {
	return slug.Make(label)
}

// GetOrCreate returns the id for label, inserting it on first sight. The
// first spelling seen is kept as the display label.
func (r *Resolver) GetOrCreate(ctx context.Context, dim Dimension, label string) (int64, error) {
	id, _, err := r.Ensure(ctx, dim, label)
	return id, err
}

// Ensure is GetOrCreate that also reports whether the label was new.
func (r *Resolver) Ensure(ctx context.Context, dim Dimension, label string) (id int64, created bool, err error) {
	if !known[dim] {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
	}
	display := strings.Join(strings.Fields(label), " ")
	normalized := Normalize(display)
	if normalized == "" {
		return 0, false, ErrInvalidLabel
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dimensions (dimension, label, normalized)
		VALUES (?, ?, ?)
		ON CONFLICT (dimension, normalized) DO NOTHING
	`, string(dim), display, normalized)
	if err != nil {
		return 0, false, fmt.Errorf("insert %s label: %w", dim, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert %s label: %w", dim, err)
	}

	if err := r.db.QueryRowContext(ctx, `
		SELECT id FROM dimensions WHERE dimension = ? AND normalized = ?
	`, string(dim), normalized).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup %s label: %w", dim, err)
	}
	return id, n > 0, nil
}

// Label returns the display label for id.
func (r *Resolver) Label(ctx context.Context, id int64) (string, error) {
	var label string
	err := r.db.QueryRowContext(ctx, `SELECT label FROM dimensions WHERE id = ?`, id).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup dimension %d: %w", id, err)
	}
	return label, nil
}

// List returns every label of dim ordered by normalized form.
func (r *Resolver) List(ctx context.Context, dim Dimension) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dimension, label, normalized
		FROM dimensions
		WHERE dimension = ?
		ORDER BY normalized
	`, string(dim))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dim, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var d string
		if err := rows.Scan(&e.ID, &d, &e.Label, &e.Normalized); err != nil {
			return nil, fmt.Errorf("scan %s: %w", dim, err)
		}
		e.Dimension = Dimension(d)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
