package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/vault"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// RotationResult describes a committed rotation.
type RotationResult struct {
	AttemptID string
	Rekeyed   int
	// Session is unlocked with the new key. Older sessions are revoked.
	Session *auth.Session
}

// BackupResult references a manual snapshot.
type BackupResult struct {
	SnapshotID string
	CreatedAt  time.Time
	ArchiveKey string
}

// RestoreResult describes an operator restore.
type RestoreResult struct {
	SnapshotID      string
	SessionsRevoked int
}

// RotationService changes the master secret of a vault as one guarded
// operation: snapshot, re-key, then commit or roll back.
type RotationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auth        *AuthService
	snapshots   *SnapshotService
	guard       *vault.Guard
	metrics     *metrics.Metrics
	log         logging.Logger

	retries uint64
	backoff time.Duration
}

func NewRotationService(db *sql.DB, m repomanager.RepositoryManager, a *AuthService, snaps *SnapshotService,
	g *vault.Guard, cfg *config.Config, mx *metrics.Metrics, log logging.Logger) *RotationService {
	backoff := cfg.RekeyBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	retries := cfg.RekeyRetries
	if retries < 0 {
		retries = 0
	}
	return &RotationService{
		db:          db,
		repomanager: m,
		auth:        a,
		snapshots:   snaps,
		guard:       g,
		metrics:     mx,
		log:         log.With("module", "rotation"),
		retries:     uint64(retries),
		backoff:     backoff,
	}
}

// Rotate re-keys the vault from currentSecret to newSecret.
//
// On success the old secret no longer opens the vault. On an ordinary
// failure the vault is rolled back and the error matches
// common.ErrRotationFailed plus the cause. If the rollback itself fails the
// error is a *common.UnrecoverableError and the vault stays failed until an
// operator restore succeeds.
func (s *RotationService) Rotate(ctx context.Context, token, currentSecret, newSecret string) (*RotationResult, error) {
	vaultID := s.auth.VaultID()

	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		return nil, err
	}
	if err := s.auth.ValidateSecret(newSecret); err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	started := s.auth.Now()
	log := s.log.With("vault_id", vaultID, "attempt_id", attemptID)

	lease, err := s.guard.TryExclusive(attemptID, started, false)
	if err != nil {
		s.metrics.RotationFinished(vaultID, metrics.OutcomeRejected, 0)
		log.Warn(ctx, "rotation rejected", "error", err)
		return nil, err
	}
	defer lease.Release()
	lease.Enter(models.RotationBackingUp)

	s.metrics.RotationStarted(vaultID)
	elapsed := func() time.Duration { return s.auth.Now().Sub(started) }

	current, oldKey, err := s.auth.VerifySecret(ctx, currentSecret)
	if err != nil {
		s.metrics.RotationFinished(vaultID, metrics.OutcomeRejected, 0)
		log.Warn(ctx, "rotation rejected", "error", err)
		return nil, err
	}
	defer common.WipeByteArray(oldKey)

	snap, err := s.snapshots.Begin(ctx, models.SnapshotOriginRotation, attemptID)
	if err != nil {
		s.metrics.RotationFinished(vaultID, metrics.OutcomeRejected, 0)
		log.Warn(ctx, "snapshot failed, nothing changed", "error", err)
		return nil, mapErr(err)
	}

	lease.Enter(models.RotationReKeying)
	newKey, n, rekeyErr := s.rekey(ctx, current, oldKey, newSecret)
	if rekeyErr == nil {
		defer common.WipeByteArray(newKey)
		lease.Enter(models.RotationCommitting)

		// Past the commit point: finish regardless of the caller.
		cctx := context.WithoutCancel(ctx)
		s.snapshots.Discard(cctx, snap)
		s.auth.RevokeAll(cctx)

		sess, err := s.auth.IssueSession(newKey)
		if err != nil {
			log.Error(ctx, "rotation committed but no session issued", "error", err)
		}

		s.metrics.RotationFinished(vaultID, metrics.OutcomeCommitted, elapsed())
		log.Info(ctx, "rotation committed", "rekeyed", n)
		return &RotationResult{AttemptID: attemptID, Rekeyed: n, Session: sess}, nil
	}

	cause := mapErr(rekeyErr)
	log.Warn(ctx, "re-key failed, restoring snapshot", "snapshot_id", snap.ID, "rekeyed", n, "error", rekeyErr)

	lease.Enter(models.RotationRestoring)
	if err := s.snapshots.Restore(ctx, snap); err != nil {
		lease.Fail(snap.ID)
		s.metrics.Restore(vaultID, metrics.TriggerRotation, false)
		s.metrics.RotationFinished(vaultID, metrics.OutcomeUnrecoverable, elapsed())

		key, aerr := s.snapshots.Archive(context.WithoutCancel(ctx), snap)
		log.Error(ctx, "rotation failed unrecoverably, manual restore required",
			"snapshot_id", snap.ID, "archive_key", key, "archive_error", aerr, "cause", rekeyErr, "error", err)

		return nil, &common.UnrecoverableError{SnapshotID: snap.ID, AttemptID: attemptID, Cause: err}
	}

	s.metrics.Restore(vaultID, metrics.TriggerRotation, true)
	s.metrics.RotationFinished(vaultID, metrics.OutcomeRestored, elapsed())
	log.Info(ctx, "rotation rolled back", "snapshot_id", snap.ID)
	return nil, fmt.Errorf("%w: %w", common.ErrRotationFailed, cause)
}

// rekey reseals every payload under a key derived from newSecret and then
// writes the new salt and verifier. That last write is the commit point.
func (s *RotationService) rekey(ctx context.Context, current *models.Vault, oldKey []byte, newSecret string) ([]byte, int, error) {
	salt, err := cryptox.NewSalt()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	newKey := s.auth.DeriveKey([]byte(newSecret), salt)

	fail := func(n int, err error) ([]byte, int, error) {
		common.WipeByteArray(newKey)
		return nil, n, err
	}

	repo := s.repomanager.Credentials(s.db)
	creds, err := repo.List(ctx, current.ID, true)
	if err != nil {
		return fail(0, err)
	}

	n := 0
	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			return fail(n, err)
		}
		if len(c.Payload) == 0 {
			continue
		}

		sealed, err := cryptox.Reseal(oldKey, newKey, c.Payload)
		if err != nil {
			return fail(n, fmt.Errorf("%w: reseal %s: %v", common.ErrInternal, c.ID, err))
		}

		// Backoffs are stateful, so each record gets its own budget.
		id := c.ID
		backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			err := repo.UpdatePayload(ctx, current.ID, id, sealed)
			if err == nil || errors.Is(err, common.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		})
		if err != nil {
			return fail(n, fmt.Errorf("write %s: %w", id, err))
		}
		n++
	}

	if err := ctx.Err(); err != nil {
		return fail(n, err)
	}

	next := &models.Vault{
		ID:        current.ID,
		Salt:      salt,
		Verifier:  cryptox.MakeVerifier(newKey),
		CreatedAt: current.CreatedAt,
		UpdatedAt: s.auth.Now(),
	}
	if err := s.repomanager.Vaults(s.db).Put(ctx, next); err != nil {
		return fail(n, fmt.Errorf("write verifier: %w", err))
	}
	return newKey, n, nil
}

// Backup takes a manual snapshot and archives it.
func (s *RotationService) Backup(ctx context.Context, token string) (*BackupResult, error) {
	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	lease, err := s.guard.TryExclusive(attemptID, s.auth.Now(), false)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	lease.Enter(models.RotationBackingUp)
	snap, err := s.snapshots.Begin(ctx, models.SnapshotOriginManual, attemptID)
	if err != nil {
		return nil, mapErr(err)
	}

	res := &BackupResult{SnapshotID: snap.ID, CreatedAt: snap.CreatedAt}
	key, err := s.snapshots.Archive(ctx, snap)
	if err != nil {
		s.log.Warn(ctx, "snapshot archive failed", "snapshot_id", snap.ID, "error", err)
	}
	res.ArchiveKey = key
	return res, nil
}

// RestoreActive rolls the vault back to its live snapshot. It is the
// operator's way out of a failed rotation.
func (s *RotationService) RestoreActive(ctx context.Context, token string) (*RestoreResult, error) {
	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		return nil, err
	}

	lease, err := s.guard.TryExclusive(uuid.NewString(), s.auth.Now(), true)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	snap, err := s.snapshots.Active(ctx)
	if err != nil {
		return nil, err
	}

	lease.Enter(models.RotationRestoring)
	changed := true
	if live, err := s.repomanager.Vaults(s.db).Get(ctx, s.auth.VaultID()); err == nil {
		changed = !bytes.Equal(live.Verifier, snap.Vault.Verifier)
	}

	if err := s.snapshots.Restore(ctx, snap); err != nil {
		s.metrics.Restore(s.auth.VaultID(), metrics.TriggerOperator, false)
		s.log.Error(ctx, "operator restore failed", "snapshot_id", snap.ID, "error", err)
		return nil, err
	}
	lease.Recovered()
	s.metrics.Restore(s.auth.VaultID(), metrics.TriggerOperator, true)

	res := &RestoreResult{SnapshotID: snap.ID}
	if changed {
		res.SessionsRevoked = s.auth.RevokeAll(ctx)
	}
	s.log.Info(ctx, "operator restore done", "snapshot_id", snap.ID, "was_failed", lease.WasFailed())
	return res, nil
}

// DiscardActive drops the live snapshot without restoring it.
func (s *RotationService) DiscardActive(ctx context.Context, token string) error {
	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		return err
	}

	lease, err := s.guard.TryExclusive(uuid.NewString(), s.auth.Now(), false)
	if err != nil {
		return err
	}
	defer lease.Release()

	snap, err := s.snapshots.Active(ctx)
	if err != nil {
		return err
	}
	return s.snapshots.Drop(ctx, snap)
}

func (s *RotationService) Status(ctx context.Context) models.RotationStatus {
	return s.guard.Status()
}

// Recover runs startup recovery. A leftover snapshot that cannot be
// restored leaves the vault failed instead of stopping the server, so an
// operator can still reach it.
func (s *RotationService) Recover(ctx context.Context) error {
	action, snap, err := s.snapshots.Recover(ctx)
	if err == nil {
		return nil
	}
	if action != RecoveryFailed || snap == nil {
		return err
	}

	s.guard.MarkFailed(snap.AttemptID, snap.ID)
	key, aerr := s.snapshots.Archive(context.WithoutCancel(ctx), snap)
	s.log.Error(ctx, "startup recovery failed, manual restore required",
		"vault_id", s.auth.VaultID(), "snapshot_id", snap.ID, "attempt_id", snap.AttemptID,
		"archive_key", key, "archive_error", aerr, "error", err)
	return nil
}
