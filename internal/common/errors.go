// Package common defines shared constants and sentinel errors used across
// the server, the operator CLI and the HTTP layer. Callers should use
// errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage error")

	// Service-level errors (generic/internal flow control).
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Authentication gate.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// Vault guard and rotation.
	ErrVaultBusy          = errors.New("vault busy")
	ErrRotationInProgress = errors.New("rotation in progress")
	ErrRotationFailed     = errors.New("rotation failed, vault restored")
	ErrUnrecoverable      = errors.New("rotation failed unrecoverably")

	// Snapshots.
	ErrSnapshotAlreadyActive = errors.New("snapshot already active")
	ErrNoActiveSnapshot      = errors.New("no active snapshot")
	ErrRestoreFailed         = errors.New("restore failed")
)

// UnrecoverableError is returned when a rotation could not be rolled back.
// SnapshotID names the last-known-good snapshot an operator must restore.
type UnrecoverableError struct {
	SnapshotID string
	AttemptID  string
	Cause      error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("rotation %s failed unrecoverably, restore snapshot %s manually: %v", e.AttemptID, e.SnapshotID, e.Cause)
}

// Is reports ErrUnrecoverable so callers can match without a type assertion.
func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Cause
}
