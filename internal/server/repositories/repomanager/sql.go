// Package repomanager provides a concrete RepositoryManager for the SQL
// backends, wiring together repository constructors and goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/migrations"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/snapshots"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/vaults"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager vends SQL-backed repositories and applies the schema
// for its dialect. Both dialects share the same query text.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

func (m *SQLRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Credentials(db dbx.DBTX) credentials.Repository {
	return credentials.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Snapshots(db dbx.DBTX) snapshots.Repository {
	return snapshots.NewSQLRepository(db)
}

// gooseUp is a seam for testing the goose provider run.
var gooseUp = func(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) error {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// RunMigrations applies the embedded migrations of the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	var gd goose.Dialect
	switch m.dialect {
	case dbx.Postgres:
		gd = goose.DialectPostgres
	case dbx.SQLite:
		gd = goose.DialectSQLite3
	default:
		return fmt.Errorf("unsupported dialect %q", m.dialect)
	}

	fsys, err := migrations.For(string(m.dialect))
	if err != nil {
		return err
	}
	if err := gooseUp(ctx, gd, db, fsys); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewSQLRepositoryManager constructs a RepositoryManager for dialect.
func NewSQLRepositoryManager(dialect dbx.Dialect) (RepositoryManager, error) {
	switch dialect {
	case dbx.Postgres, dbx.SQLite:
		return &SQLRepositoryManager{dialect: dialect}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}
