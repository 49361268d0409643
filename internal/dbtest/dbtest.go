// Package dbtest opens migrated SQLite databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/zayaclinic/backoffice/internal/db"
	"github.com/zayaclinic/backoffice/internal/migrations"
)

// Open returns a fresh database under t.TempDir with every migration applied.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if _, err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return database
}
