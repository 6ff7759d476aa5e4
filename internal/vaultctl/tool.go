// Package vaultctl is the offline operator tool. It works on the database
// directly and takes no vault lock, so the server must be stopped while it
// restores or discards a snapshot.
package vaultctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/archive"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"github.com/dmitrijs2005/gophvault/internal/server/snapshotcodec"
	"github.com/juju/clock"
)

// kdfParams must match what the server derives keys with.
var kdfParams = cryptox.DefaultParams

type Tool struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	snaps   *services.SnapshotService
	vaultID string
	clock   clock.Clock
}

// NewTool migrates db if needed and prepares the snapshot service.
func NewTool(ctx context.Context, db *sql.DB, dialect dbx.Dialect, cfg *config.Config, clk clock.Clock, log logging.Logger) (*Tool, error) {
	rm, err := repomanager.NewSQLRepositoryManager(dialect)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	arch := archive.New(archive.S3Config{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		BaseEndpoint: cfg.S3BaseEndpoint,
		Bucket:       cfg.S3Bucket,
	})

	return &Tool{
		db:      db,
		repos:   rm,
		snaps:   services.NewSnapshotService(db, rm, cfg, arch, nil, clk, log),
		vaultID: cfg.VaultID,
		clock:   clk,
	}, nil
}

type SnapshotInfo struct {
	ID          string
	Origin      models.SnapshotOrigin
	AttemptID   string
	CreatedAt   time.Time
	Age         time.Duration
	Credentials int
}

type Status struct {
	VaultID     string
	Initialized bool
	Live        int
	Tombstones  int
	Snapshot    *SnapshotInfo
}

func (t *Tool) Status(ctx context.Context) (*Status, error) {
	st := &Status{VaultID: t.vaultID}

	if _, err := t.repos.Vaults(t.db).Get(ctx, t.vaultID); err == nil {
		st.Initialized = true
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	creds, err := t.repos.Credentials(t.db).List(ctx, t.vaultID, true)
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		if c.Deleted {
			st.Tombstones++
		} else {
			st.Live++
		}
	}

	snap, err := t.snaps.Active(ctx)
	if errors.Is(err, common.ErrNoActiveSnapshot) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Snapshot = &SnapshotInfo{
		ID:          snap.ID,
		Origin:      snap.Origin,
		AttemptID:   snap.AttemptID,
		CreatedAt:   snap.CreatedAt,
		Age:         t.clock.Now().Sub(snap.CreatedAt),
		Credentials: len(snap.Credentials),
	}
	return st, nil
}

// Export writes the live snapshot to w in the archive format.
func (t *Tool) Export(ctx context.Context, w io.Writer) (*models.Snapshot, error) {
	snap, err := t.snaps.Active(ctx)
	if err != nil {
		return nil, err
	}
	if err := snapshotcodec.Write(w, snap); err != nil {
		return nil, fmt.Errorf("export %s: %w", snap.ID, err)
	}
	return snap, nil
}

// Archive ships the live snapshot to object storage.
func (t *Tool) Archive(ctx context.Context) (string, error) {
	snap, err := t.snaps.Active(ctx)
	if err != nil {
		return "", err
	}
	return t.snaps.Archive(ctx, snap)
}

func (t *Tool) Restore(ctx context.Context) (*models.Snapshot, error) {
	snap, err := t.snaps.Active(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.snaps.Restore(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (t *Tool) Discard(ctx context.Context) (*models.Snapshot, error) {
	snap, err := t.snaps.Active(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.snaps.Drop(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// SecretCheck tells which state a secret opens.
type SecretCheck struct {
	Initialized bool
	Live        bool
	HasSnapshot bool
	Snapshot    bool
}

func (t *Tool) CheckSecret(ctx context.Context, secret []byte) (*SecretCheck, error) {
	res := &SecretCheck{}

	v, err := t.repos.Vaults(t.db).Get(ctx, t.vaultID)
	switch {
	case err == nil:
		res.Initialized = true
		res.Live = opens(secret, v)
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	snap, err := t.snaps.Active(ctx)
	switch {
	case err == nil:
		res.HasSnapshot = true
		res.Snapshot = opens(secret, snap.Vault)
	case !errors.Is(err, common.ErrNoActiveSnapshot):
		return nil, err
	}
	return res, nil
}

func opens(secret []byte, v *models.Vault) bool {
	key := cryptox.DeriveKey(secret, v.Salt, kdfParams)
	defer common.WipeByteArray(key)
	return cryptox.CheckVerifier(v.Verifier, cryptox.MakeVerifier(key))
}
