package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/archive"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/snapshotcodec"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// RecoveryAction is what startup recovery did with a leftover snapshot.
type RecoveryAction string

const (
	RecoveryNone      RecoveryAction = "none"
	RecoveryKept      RecoveryAction = "kept"
	RecoveryRestored  RecoveryAction = "restored"
	RecoveryDiscarded RecoveryAction = "discarded"
	RecoveryFailed    RecoveryAction = "failed"
)

// SnapshotService owns the single live snapshot of a vault. Callers are
// expected to hold the vault guard exclusively.
type SnapshotService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archiver    archive.Archiver
	metrics     *metrics.Metrics
	clock       clock.Clock
	log         logging.Logger

	vaultID        string
	restoreTimeout time.Duration

	// mu serializes Begin; the persisted row is the source of truth.
	mu sync.Mutex
}

func NewSnapshotService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, a archive.Archiver, mx *metrics.Metrics, clk clock.Clock, log logging.Logger) *SnapshotService {
	if a == nil {
		a = archive.Nop{}
	}
	timeout := cfg.RestoreTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SnapshotService{
		db:             db,
		repomanager:    m,
		archiver:       a,
		metrics:        mx,
		clock:          clk,
		log:            log.With("module", "snapshots"),
		vaultID:        cfg.VaultID,
		restoreTimeout: timeout,
	}
}

// Begin copies the vault row and every credential, tombstones included, and
// persists the copy in one transaction.
func (s *SnapshotService) Begin(ctx context.Context, origin models.SnapshotOrigin, attemptID string) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &models.Snapshot{
		ID:        uuid.NewString(),
		VaultID:   s.vaultID,
		AttemptID: attemptID,
		Origin:    origin,
		CreatedAt: s.clock.Now().UTC(),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		snaps := s.repomanager.Snapshots(tx)
		if _, err := snaps.Get(ctx, s.vaultID); err == nil {
			return common.ErrSnapshotAlreadyActive
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		v, err := s.repomanager.Vaults(tx).Get(ctx, s.vaultID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrNotInitialized
			}
			return err
		}
		creds, err := s.repomanager.Credentials(tx).List(ctx, s.vaultID, true)
		if err != nil {
			return err
		}

		snap.Vault = v.Clone()
		snap.Credentials = make([]*models.Credential, 0, len(creds))
		for _, c := range creds {
			snap.Credentials = append(snap.Credentials, c.Clone())
		}

		body, err := snapshotcodec.Encode(snap)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrInternal, err)
		}

		return snaps.Create(ctx, &models.SnapshotRecord{
			ID:        snap.ID,
			VaultID:   snap.VaultID,
			AttemptID: snap.AttemptID,
			Origin:    snap.Origin,
			Body:      body,
			CreatedAt: snap.CreatedAt,
		})
	})
	if err != nil {
		return nil, mapErr(err)
	}

	s.metrics.SnapshotTaken(s.vaultID, string(origin))
	s.log.Info(ctx, "snapshot taken", "vault_id", s.vaultID, "snapshot_id", snap.ID, "attempt_id", attemptID,
		"origin", string(origin), "credentials", len(snap.Credentials))
	return snap, nil
}

// Restore puts the vault back exactly as snap recorded it and drops the
// snapshot row. It runs detached from the caller's cancellation and bounded
// by the restore timeout; any failure is common.ErrRestoreFailed.
func (s *SnapshotService) Restore(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil || snap.Vault == nil {
		return fmt.Errorf("%w: empty snapshot", common.ErrRestoreFailed)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.restoreTimeout)
	defer cancel()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Vaults(tx).Put(ctx, snap.Vault); err != nil {
			return fmt.Errorf("put vault: %w", err)
		}

		creds := s.repomanager.Credentials(tx)
		if err := creds.DeleteAll(ctx, s.vaultID); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
		for _, c := range snap.Credentials {
			if err := creds.Create(ctx, c); err != nil {
				return fmt.Errorf("restore credential %s: %w", c.ID, err)
			}
		}

		// An imported snapshot may not have a row.
		if err := s.repomanager.Snapshots(tx).Delete(ctx, s.vaultID, snap.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("drop snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRestoreFailed, err)
	}

	s.log.Info(ctx, "snapshot restored", "vault_id", s.vaultID, "snapshot_id", snap.ID, "attempt_id", snap.AttemptID)
	return nil
}

// Discard releases snap without touching the live store. A storage failure
// is logged; the row is then cleaned up by the operator or startup recovery.
func (s *SnapshotService) Discard(ctx context.Context, snap *models.Snapshot) {
	if err := s.Drop(ctx, snap); err != nil {
		s.log.Error(ctx, "discard snapshot", "vault_id", s.vaultID, "snapshot_id", snap.ID, "error", err)
	}
}

// Drop is Discard that reports storage failures.
func (s *SnapshotService) Drop(ctx context.Context, snap *models.Snapshot) error {
	err := s.repomanager.Snapshots(s.db).Delete(ctx, s.vaultID, snap.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return mapErr(err)
	}
	s.log.Info(ctx, "snapshot discarded", "vault_id", s.vaultID, "snapshot_id", snap.ID)
	return nil
}

// Active loads the persisted live snapshot.
func (s *SnapshotService) Active(ctx context.Context) (*models.Snapshot, error) {
	rec, err := s.repomanager.Snapshots(s.db).Get(ctx, s.vaultID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNoActiveSnapshot
		}
		return nil, mapErr(err)
	}

	snap, err := snapshotcodec.Decode(rec.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", common.ErrInternal, rec.ID, err)
	}
	return snap, nil
}

// Archive ships snap to the configured archiver and returns its key, or ""
// when archiving is disabled.
func (s *SnapshotService) Archive(ctx context.Context, snap *models.Snapshot) (string, error) {
	body, err := snapshotcodec.Encode(snap)
	if err != nil {
		return "", err
	}
	return s.archiver.Archive(ctx, snap.VaultID, snap.ID, snap.CreatedAt, body)
}

// Recover settles a snapshot left behind by a crash.
//
// A rotation snapshot whose verifier still matches the live one never
// reached the commit point and is restored. A differing verifier means the
// re-key committed, so the snapshot is dropped. Manual snapshots stay live.
func (s *SnapshotService) Recover(ctx context.Context) (RecoveryAction, *models.Snapshot, error) {
	snap, err := s.Active(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNoActiveSnapshot) {
			return RecoveryNone, nil, nil
		}
		return RecoveryFailed, nil, err
	}

	if snap.Origin != models.SnapshotOriginRotation {
		s.log.Info(ctx, "manual snapshot is live", "vault_id", s.vaultID, "snapshot_id", snap.ID)
		return RecoveryKept, snap, nil
	}

	live, err := s.repomanager.Vaults(s.db).Get(ctx, s.vaultID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return RecoveryFailed, snap, mapErr(err)
	}

	if live != nil && !bytes.Equal(live.Verifier, snap.Vault.Verifier) {
		if err := s.Drop(ctx, snap); err != nil {
			return RecoveryFailed, snap, err
		}
		s.log.Info(ctx, "rotation had committed, snapshot dropped", "vault_id", s.vaultID,
			"snapshot_id", snap.ID, "attempt_id", snap.AttemptID)
		return RecoveryDiscarded, snap, nil
	}

	if err := s.Restore(ctx, snap); err != nil {
		s.metrics.Restore(s.vaultID, metrics.TriggerStartup, false)
		return RecoveryFailed, snap, err
	}
	s.metrics.Restore(s.vaultID, metrics.TriggerStartup, true)
	s.log.Warn(ctx, "interrupted rotation rolled back", "vault_id", s.vaultID,
		"snapshot_id", snap.ID, "attempt_id", snap.AttemptID)
	return RecoveryRestored, snap, nil
}
