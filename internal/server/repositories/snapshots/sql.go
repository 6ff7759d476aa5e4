// Package snapshots persists the encoded rollback snapshot of a vault.
package snapshots

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

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create fails if the vault already has a snapshot; vault_id is the primary key.
func (r *SQLRepository) Create(ctx context.Context, s *models.SnapshotRecord) error {
	query := `INSERT INTO vault_snapshots (vault_id, id, attempt_id, origin, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, s.VaultID, s.ID, s.AttemptID, string(s.Origin), s.Body, s.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, vaultID string) (*models.SnapshotRecord, error) {
	query := `SELECT vault_id, id, attempt_id, origin, body, created_at
		FROM vault_snapshots WHERE vault_id = $1`

	var (
		s       models.SnapshotRecord
		origin  string
		created int64
	)
	err := r.db.QueryRowContext(ctx, query, vaultID).Scan(&s.VaultID, &s.ID, &s.AttemptID, &origin, &s.Body, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Origin = models.SnapshotOrigin(origin)
	s.CreatedAt = timex.UnixNano(created)
	return &s, nil
}

// Delete removes the snapshot only if it is still the one identified by id.
func (r *SQLRepository) Delete(ctx context.Context, vaultID, id string) error {
	query := `DELETE FROM vault_snapshots WHERE vault_id = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, query, vaultID, id)
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
