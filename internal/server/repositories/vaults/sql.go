// Package vaults stores the per-vault salt and verifier.
package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// SQLRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, v *models.Vault) error {
	query :=
		`INSERT INTO vaults (id, salt, verifier, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.Salt, v.Verifier, v.CreatedAt.UnixNano(), v.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Vault, error) {
	query :=
		`SELECT id, salt, verifier, created_at, updated_at FROM vaults
		 WHERE id = $1
		 `

	v := &models.Vault{}
	var created, updated int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.Salt, &v.Verifier, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	v.CreatedAt = timex.UnixNano(created)
	v.UpdatedAt = timex.UnixNano(updated)
	return v, nil
}

// Put overwrites salt, verifier and updated_at of an existing vault.
// It is used both to commit a new master key and to restore a snapshot.
func (r *SQLRepository) Put(ctx context.Context, v *models.Vault) error {
	query :=
		`UPDATE vaults SET salt = $1, verifier = $2, updated_at = $3
		 WHERE id = $4
		 `

	res, err := r.db.ExecContext(ctx, query, v.Salt, v.Verifier, v.UpdatedAt.UnixNano(), v.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
