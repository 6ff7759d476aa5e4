// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/migrations"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

// Open returns a fresh, fully migrated in-memory database private to t.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()
	db, _, err := dbx.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Migrate applies the sqlite migrations to db.
func Migrate(db *sql.DB) error {
	fsys, err := migrations.For("sqlite")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(context.Background())
	return err
}
