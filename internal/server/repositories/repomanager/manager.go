package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/snapshots"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/vaults"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Vaults(db dbx.DBTX) vaults.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Snapshots(db dbx.DBTX) snapshots.Repository
}
