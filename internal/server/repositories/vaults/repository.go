package vaults

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.Vault) error
	Get(ctx context.Context, id string) (*models.Vault, error)
	Put(ctx context.Context, v *models.Vault) error
}
