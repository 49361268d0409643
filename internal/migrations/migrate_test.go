package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zayaclinic/backoffice/internal/db"
)

func TestUpAppliesEveryMigrationOnce(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer database.Close()

	applied, err := Up(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, applied)

	again, err := Up(ctx, database)
	require.NoError(t, err)
	assert.Empty(t, again)

	v, err := Version(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	for _, table := range []string{"users", "dimensions", "procedures", "procedure_sales", "revenue_tiers", "fixed_costs", "product_purchases"} {
		var name string
		err := database.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
