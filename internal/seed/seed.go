package seed

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/pricing"
)

var defaultLabels = map[dimension.Dimension][]string{
	dimension.ProcedureCategory: {"Facial", "Corporal", "Laser", "Injetável", "Outros"},
	dimension.FixedCostCategory: {
		"Aluguel", "Energia", "Água", "Internet", "Telefone", "Limpeza", "Segurança",
		"Contabilidade", "Marketing", "Softwares", "Manutenção", "Impostos", "Folha de pagamento",
	},
	dimension.CostCenter:      {"Administrativo", "Recepção", "Sala 1", "Sala 2", "Comercial", "Financeiro"},
	dimension.ProductCategory: {"Produto", "Insumos", "Injetáveis", "Equipamentos", "Descartáveis", "Outros"},
	dimension.Vendor: {
		"Imobiliária XYZ", "Concessionária de Energia", "Operadora de Internet",
		"Fornecedor Geral", "Distribuidora XYZ",
	},
	dimension.PaymentMethod: {"Pix", "Boleto", "Cartão", "TED", "Dinheiro"},
}

// seedOrder keeps insert order stable across runs.
var seedOrder = []dimension.Dimension{
	dimension.ProcedureCategory, dimension.FixedCostCategory, dimension.CostCenter,
	dimension.ProductCategory, dimension.Vendor, dimension.PaymentMethod,
}

// DefaultRevenueTiers is the monthly revenue commission schedule installed
// when none exists.
var DefaultRevenueTiers = []pricing.RevenueTier{
	{Min: 0, Rate: 0.10},
	{Min: 25000, Rate: 0.125},
	{Min: 60000, Rate: 0.175},
	{Min: 100000, Rate: 0.225},
}

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, db *sql.DB, cfg Config) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stats := Stats{}

	if err := seedAdmin(ctx, tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
		return Stats{}, err
	}
	if err := ensureLabels(ctx, tx, &stats); err != nil {
		return Stats{}, err
	}
	if err := ensureRevenueTiers(ctx, tx, &stats); err != nil {
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func seedAdmin(ctx context.Context, tx *sql.Tx, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ? LIMIT 1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("check admin user existence: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, string(hash)); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	stats.Inserts++
	return nil
}

func ensureLabels(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	dims := dimension.NewResolver(tx)
	for _, dim := range seedOrder {
		for _, label := range defaultLabels[dim] {
			_, created, err := dims.Ensure(ctx, dim, label)
			if err != nil {
				return fmt.Errorf("seed %s %q: %w", dim, label, err)
			}
			if created {
				stats.Inserts++
			}
		}
	}
	return nil
}

// ensureRevenueTiers installs the default schedule only into an empty table
// so that an operator's edits survive restarts.
func ensureRevenueTiers(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revenue_tiers)`).Scan(&exists); err != nil {
		return fmt.Errorf("check revenue tiers existence: %w", err)
	}
	if exists {
		return nil
	}

	for _, t := range DefaultRevenueTiers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO revenue_tiers (min_revenue, rate) VALUES (?, ?)`, t.Min, t.Rate); err != nil {
			return fmt.Errorf("insert default revenue tier: %w", err)
		}
		stats.Inserts++
	}
	return nil
}
