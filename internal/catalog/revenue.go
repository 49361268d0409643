package catalog

import (
	"context"
	"fmt"
	"slices"

	"github.com/zayaclinic/backoffice/internal/pricing"
)

// RevenueTiers returns the monthly revenue commission schedule ordered by
// floor.
func (s *Store) RevenueTiers(ctx context.Context) ([]pricing.RevenueTier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT min_revenue, rate FROM revenue_tiers ORDER BY min_revenue`)
	if err != nil {
		return nil, fmt.Errorf("list revenue tiers: %w", err)
	}
	defer rows.Close()

	tiers := []pricing.RevenueTier{}
	for rows.Next() {
		var t pricing.RevenueTier
		if err := rows.Scan(&t.Min, &t.Rate); err != nil {
			return nil, fmt.Errorf("scan revenue tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ReplaceRevenueTiers swaps the whole schedule atomically.
func (s *Store) ReplaceRevenueTiers(ctx context.Context, tiers []pricing.RevenueTier) error {
	if len(tiers) == 0 {
		return &pricing.ValidationError{Field: "tiers", Reason: "at least one tier is required"}
	}
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b pricing.RevenueTier) int {
		switch {
		case a.Min < b.Min:
			return -1
		case a.Min > b.Min:
			return 1
		}
		return 0
	})
	for i, t := range sorted {
		switch {
		case t.Min < 0:
			return &pricing.ValidationError{Field: fmt.Sprintf("tiers[%d].min", i), Reason: "must not be negative"}
		case t.Rate < 0 || t.Rate > 1:
			return &pricing.ValidationError{Field: fmt.Sprintf("tiers[%d].rate", i), Reason: "must be a fraction between 0 and 1"}
		case i > 0 && t.Min == sorted[i-1].Min:
			return &pricing.ValidationError{Field: fmt.Sprintf("tiers[%d].min", i), Reason: "duplicate floor"}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revenue tier transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM revenue_tiers`); err != nil {
		return fmt.Errorf("clear revenue tiers: %w", err)
	}
	for _, t := range sorted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO revenue_tiers (min_revenue, rate) VALUES (?, ?)`, t.Min, t.Rate); err != nil {
			return fmt.Errorf("insert revenue tier: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revenue tiers: %w", err)
	}
	return nil
}
