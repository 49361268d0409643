package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

// Action reports what Upsert did.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

type UpsertResult struct {
	Action    Action    `json:"action"`
	Procedure Procedure `json:"procedure"`
}

// RowError describes a rejected row of a batch, numbered from 1.
type RowError struct {
	Row     int    `json:"row"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

type BatchResult struct {
	Inserted  int        `json:"inserted"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Errors    []RowError `json:"errors,omitempty"`
}

// Filter narrows List. Category matches the normalised label; Name is a
// case-insensitive substring.
type Filter struct {
	Category string
	Status   Status
	Name     string
}

// UnitCoster prices BOM lines that name a product but carry no unit cost.
type UnitCoster interface {
	FillBOM(ctx context.Context, lines []pricing.BOMLine) ([]pricing.BOMLine, error)
}

type Store struct {
	db    *sql.DB
	dims  *dimension.Resolver
	costs UnitCoster
	now   func() time.Time
}

type StoreOption func(*Store)

// WithUnitCosts fills missing BOM unit costs from c before a procedure is
// saved.
func WithUnitCosts(c UnitCoster) StoreOption {
	return func(s *Store) { s.costs = c }
}

func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:   db,
		dims: dimension.NewResolver(db),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const procedureColumns = `
	p.id, p.record_key, p.name, p.category_id, d.label,
	p.duration_minutes, p.list_price, p.max_discount_percent,
	p.commission_model, p.commission_rate, p.commission_fixed, p.commission_tiers,
	p.bom, p.base_cost, p.overhead_model, p.overhead_value,
	p.markup_target_percent, p.price_min_recommended,
	p.active, p.version, p.valid_from, p.valid_to, p.is_deleted`

const procedureFrom = `
	FROM procedures p
	JOIN dimensions d ON d.id = p.category_id`

// Upsert saves in as a new version when its content differs from the
// active version of the same record key. Identical content is a no-op.
func (s *Store) Upsert(ctx context.Context, in ProcedureInput) (UpsertResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return UpsertResult{}, err
	}
	if s.costs != nil {
		bom, err := s.costs.FillBOM(ctx, in.BOM)
		if err != nil {
			return UpsertResult{}, err
		}
		in.BOM = bom
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.upsertTx(ctx, tx, in)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit upsert transaction: %w", err)
	}
	return res, nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, in ProcedureInput) (UpsertResult, error) {
	p := in.derive()
	hash, err := contentHash(p)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("hash procedure: %w", err)
	}

	categoryID, err := s.dims.WithTx(tx).GetOrCreate(ctx, dimension.ProcedureCategory, p.Category)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("resolve category: %w", err)
	}

	var currentID, currentHash string
	err = tx.QueryRowContext(ctx, `
		SELECT id, content_hash FROM procedures
		WHERE record_key = ? AND active = 1 AND is_deleted = 0
	`, p.RecordKey).Scan(&currentID, &currentHash)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return UpsertResult{}, fmt.Errorf("lookup active procedure: %w", err)
	}

	if hasCurrent && currentHash == hash {
		current, err := getProcedure(ctx, tx, currentID)
		if err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Action: ActionUnchanged, Procedure: current}, nil
	}

	now := s.now()
	action := ActionInserted
	if hasCurrent {
		action = ActionUpdated
		if _, err := tx.ExecContext(ctx, `
			UPDATE procedures SET active = 0, valid_to = ? WHERE id = ?
		`, formatTime(now), currentID); err != nil {
			return UpsertResult{}, fmt.Errorf("deactivate procedure %s: %w", currentID, err)
		}
	}

	// Versions keep counting across soft-deleted history of the same key.
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM procedures WHERE record_key = ?
	`, p.RecordKey).Scan(&p.Version); err != nil {
		return UpsertResult{}, fmt.Errorf("next procedure version: %w", err)
	}

	tiers := ""
	if len(p.Commission.Tiers) > 0 {
		b, err := json.Marshal(p.Commission.Tiers)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("encode commission tiers: %w", err)
		}
		tiers = string(b)
	}
	bom, err := json.Marshal(p.BOM)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode bom: %w", err)
	}

	p.ID = uuid.NewString()
	p.CategoryID = categoryID
	p.Active = true
	p.ValidFrom = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO procedures (
			id, record_key, content_hash, name, category_id,
			duration_minutes, list_price, max_discount_percent,
			commission_model, commission_rate, commission_fixed, commission_tiers,
			bom, base_cost, overhead_model, overhead_value,
			markup_target_percent, price_min_recommended,
			active, version, valid_from
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, p.ID, p.RecordKey, hash, p.Name, categoryID,
		p.DurationMinutes, p.ListPrice, p.MaxDiscountPercent,
		p.Commission.Model, p.Commission.Rate, p.Commission.FixedValue, tiers,
		string(bom), p.BaseCost, string(p.OverheadModel), p.OverheadValue,
		p.MarkupTargetPercent, p.PriceMinRecommended,
		p.Version, formatTime(now),
	); err != nil {
		return UpsertResult{}, fmt.Errorf("insert procedure: %w", err)
	}

	saved, err := getProcedure(ctx, tx, p.ID)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Action: action, Procedure: saved}, nil
}

// UpsertMany saves each input in its own transaction so that one bad row
// does not discard the rest.
func (s *Store) UpsertMany(ctx context.Context, inputs []ProcedureInput) (BatchResult, error) {
	var out BatchResult
	for i, in := range inputs {
		res, err := s.Upsert(ctx, in)
		var verr *pricing.ValidationError
		switch {
		case errors.As(err, &verr):
			out.Errors = append(out.Errors, RowError{Row: i + 1, Name: in.Name, Message: verr.Error()})
			continue
		case err != nil:
			return out, fmt.Errorf("row %d: %w", i+1, err)
		}

		switch res.Action {
		case ActionInserted:
			out.Inserted++
		case ActionUpdated:
			out.Updated++
		case ActionUnchanged:
			out.Unchanged++
		}
	}
	return out, nil
}

// Get returns a procedure version by id. Soft-deleted versions are not found.
func (s *Store) Get(ctx context.Context, id string) (Procedure, error) {
	return getProcedure(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, f Filter) ([]Procedure, error) {
	status := f.Status
	if status == "" {
		status = StatusActive
	}

	var (
		where = []string{"p.is_deleted = 0"}
		args  []any
	)
	switch status {
	case StatusActive:
		where = append(where, "p.active = 1")
	case StatusInactive:
		where = append(where, "p.active = 0")
	}
	if c := dimension.Normalize(f.Category); c != "" {
		where = append(where, "d.normalized = ?")
		args = append(args, c)
	}
	if n := strings.TrimSpace(f.Name); n != "" {
		where = append(where, "p.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(n)+"%")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+procedureColumns+procedureFrom+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY p.name, p.version DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	procs := []Procedure{}
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	return procs, nil
}

// SoftDelete hides a procedure version and closes its validity window.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE procedures
		SET is_deleted = 1, active = 0, valid_to = COALESCE(valid_to, ?)
		WHERE id = ? AND is_deleted = 0
	`, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("soft delete procedure %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete procedure %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete permanently removes the given versions together with their
// sales and returns how many versions were removed.
func (s *Store) HardDelete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM procedures WHERE id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("hard delete procedures: %w", err)
	}
	return res.RowsAffected()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getProcedure(ctx context.Context, q rowQuerier, id string) (Procedure, error) {
	row := q.QueryRowContext(ctx, `SELECT `+procedureColumns+procedureFrom+`
		WHERE p.id = ? AND p.is_deleted = 0`, id)
	p, err := scanProcedure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Procedure{}, ErrNotFound
	}
	return p, err
}

func scanProcedure(row scanner) (Procedure, error) {
	var (
		p                 Procedure
		tiers, bom, model string
		validFrom         string
		validTo           sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.RecordKey, &p.Name, &p.CategoryID, &p.Category,
		&p.DurationMinutes, &p.ListPrice, &p.MaxDiscountPercent,
		&p.Commission.Model, &p.Commission.Rate, &p.Commission.FixedValue, &tiers,
		&bom, &p.BaseCost, &model, &p.OverheadValue,
		&p.MarkupTargetPercent, &p.PriceMinRecommended,
		&p.Active, &p.Version, &validFrom, &validTo, &p.IsDeleted,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Procedure{}, err
		}
		return Procedure{}, fmt.Errorf("scan procedure: %w", err)
	}
	p.OverheadModel = pricing.OverheadModel(model)

	var err error
	if p.Commission.Tiers, err = pricing.ParseTiers(tiers); err != nil {
		return Procedure{}, fmt.Errorf("decode commission tiers of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(bom), &p.BOM); err != nil {
		return Procedure{}, fmt.Errorf("decode bom of %s: %w", p.ID, err)
	}
	if p.ValidFrom, err = parseTime(validFrom); err != nil {
		return Procedure{}, fmt.Errorf("decode valid_from of %s: %w", p.ID, err)
	}
	if validTo.Valid && validTo.String != "" {
		t, err := parseTime(validTo.String)
		if err != nil {
			return Procedure{}, fmt.Errorf("decode valid_to of %s: %w", p.ID, err)
		}
		p.ValidTo = &t
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
