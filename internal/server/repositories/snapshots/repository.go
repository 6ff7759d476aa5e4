package snapshots

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// Repository keeps at most one live snapshot per vault.
type Repository interface {
	Create(ctx context.Context, s *models.SnapshotRecord) error
	Get(ctx context.Context, vaultID string) (*models.SnapshotRecord, error)
	Delete(ctx context.Context, vaultID, id string) error
}
