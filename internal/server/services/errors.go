package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

var taxonomy = []error{
	common.ErrNotFound,
	common.ErrStorage,
	common.ErrInternal,
	common.ErrValidation,
	common.ErrInvalidCredentials,
	common.ErrAlreadyInitialized,
	common.ErrNotInitialized,
	common.ErrUnauthorized,
	common.ErrInvalidToken,
	common.ErrTokenExpired,
	common.ErrVaultBusy,
	common.ErrRotationInProgress,
	common.ErrRotationFailed,
	common.ErrUnrecoverable,
	common.ErrSnapshotAlreadyActive,
	common.ErrNoActiveSnapshot,
	common.ErrRestoreFailed,
}

// mapErr keeps errors that already belong to the common taxonomy and
// context errors; anything else is a storage failure.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrStorage, err)
}
