package credentials

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

type Repository interface {
	// Create inserts c verbatim, tombstone flag and timestamps included.
	Create(ctx context.Context, c *models.Credential) error
	// Get returns the row even when it is a tombstone.
	Get(ctx context.Context, vaultID, id string) (*models.Credential, error)
	Update(ctx context.Context, c *models.Credential) error
	UpdatePayload(ctx context.Context, vaultID, id string, payload []byte) error
	MarkDeleted(ctx context.Context, vaultID, id string, updatedAt int64) error
	List(ctx context.Context, vaultID string, includeDeleted bool) ([]*models.Credential, error)
	Search(ctx context.Context, vaultID, query string) ([]*models.Credential, error)
	DeleteAll(ctx context.Context, vaultID string) error
}
