// Package migrations embeds the goose schema migrations, one directory per
// SQL dialect.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// For returns the migration directory for dialect ("postgres" or "sqlite").
func For(dialect string) (fs.FS, error) {
	return fs.Sub(Migrations, dialect)
}
