package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/dbtest"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/gophvault/internal/server/vault"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

var (
	t0         = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	testParams = cryptox.Params{Time: 1, MemoryKiB: 1024, Threads: 1}
	errDisk    = errors.New("disk on fire")
)

// faultyRepos wraps the real SQL repositories and injects failures.
type faultyRepos struct {
	repomanager.RepositoryManager

	mu sync.Mutex
	// failCredential makes every payload write of the n-th distinct
	// credential (1-based) fail.
	failCredential int
	// transient fails the next n payload writes, whatever the record.
	transient int
	// putErrs are returned by successive vault Put calls; nil passes.
	putErrs     []error
	failRestore bool
	// onPayload runs before each payload write with the 1-based call number.
	onPayload func(call int)
	// onVaultGet runs before each vault row read.
	onVaultGet func()

	payloadCalls int
	seen         map[string]int
}

func (f *faultyRepos) Credentials(db dbx.DBTX) credentials.Repository {
	return &faultyCredentials{Repository: f.RepositoryManager.Credentials(db), f: f}
}

func (f *faultyRepos) Vaults(db dbx.DBTX) vaults.Repository {
	return &faultyVaults{Repository: f.RepositoryManager.Vaults(db), f: f}
}

func (f *faultyRepos) set(fn func(f *faultyRepos)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type faultyCredentials struct {
	credentials.Repository
	f *faultyRepos
}

func (c *faultyCredentials) UpdatePayload(ctx context.Context, vaultID, id string, payload []byte) error {
	f := c.f
	f.mu.Lock()
	f.payloadCalls++
	call := f.payloadCalls
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	if _, ok := f.seen[id]; !ok {
		f.seen[id] = len(f.seen) + 1
	}
	idx := f.seen[id]
	hook := f.onPayload
	fail := f.failCredential != 0 && idx == f.failCredential
	transient := f.transient > 0
	if transient {
		f.transient--
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if fail {
		return errDisk
	}
	if transient {
		return errors.New("transient")
	}
	return c.Repository.UpdatePayload(ctx, vaultID, id, payload)
}

func (c *faultyCredentials) DeleteAll(ctx context.Context, vaultID string) error {
	c.f.mu.Lock()
	fail := c.f.failRestore
	c.f.mu.Unlock()
	if fail {
		return errDisk
	}
	return c.Repository.DeleteAll(ctx, vaultID)
}

type faultyVaults struct {
	vaults.Repository
	f *faultyRepos
}

func (v *faultyVaults) Put(ctx context.Context, row *models.Vault) error {
	v.f.mu.Lock()
	var err error
	if len(v.f.putErrs) > 0 {
		err = v.f.putErrs[0]
		v.f.putErrs = v.f.putErrs[1:]
	}
	v.f.mu.Unlock()
	if err != nil {
		return err
	}
	return v.Repository.Put(ctx, row)
}

func (v *faultyVaults) Get(ctx context.Context, id string) (*models.Vault, error) {
	v.f.mu.Lock()
	hook := v.f.onVaultGet
	v.f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return v.Repository.Get(ctx, id)
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *fakeArchiver) Archive(ctx context.Context, vaultID, snapshotID string, createdAt time.Time, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	key := "snapshots/" + vaultID + "/" + snapshotID
	a.calls = append(a.calls, key)
	return key, nil
}

type harness struct {
	t        *testing.T
	db       *sql.DB
	repos    *faultyRepos
	clock    *testclock.Clock
	cfg      *config.Config
	sessions *auth.Registry
	guard    *vault.Guard
	metrics  *metrics.Metrics
	archiver *fakeArchiver

	auth  *AuthService
	creds *CredentialService
	snaps *SnapshotService
	rot   *RotationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := dbtest.Open(t)
	base, err := repomanager.NewSQLRepositoryManager(dbx.SQLite)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		db:       db,
		repos:    &faultyRepos{RepositoryManager: base},
		clock:    testclock.NewClock(t0),
		metrics:  metrics.New(),
		archiver: &fakeArchiver{},
		cfg: &config.Config{
			SecretKey:               "test-signing-key",
			VaultID:                 "default",
			SessionValidityDuration: time.Hour,
			RestoreTimeout:          5 * time.Second,
			MinSecretLength:         6,
			RekeyRetries:            2,
			RekeyBackoff:            time.Millisecond,
		},
	}
	h.build()
	return h
}

// build wires fresh services over the same database, as a restart would.
func (h *harness) build() {
	log := logging.Nop()
	h.sessions = auth.NewRegistry([]byte(h.cfg.SecretKey), h.cfg.SessionValidityDuration, h.clock)
	h.guard = vault.NewGuard(h.cfg.VaultID)
	h.auth = NewAuthService(h.db, h.repos, h.sessions, h.cfg, h.clock, log)
	h.auth.SetKDFParams(testParams)
	h.creds = NewCredentialService(h.db, h.repos, h.auth, h.guard, log)
	h.snaps = NewSnapshotService(h.db, h.repos, h.cfg, h.archiver, h.metrics, h.clock, log)
	h.rot = NewRotationService(h.db, h.repos, h.auth, h.snaps, h.guard, h.cfg, h.metrics, log)
}

// setup initializes the vault with secret and stores n credentials.
func (h *harness) setup(secret string, n int) string {
	h.t.Helper()
	ctx := context.Background()

	sess, err := h.auth.Setup(ctx, secret)
	require.NoError(h.t, err)

	for i := 0; i < n; i++ {
		_, err := h.creds.Create(ctx, sess.Token, CredentialInput{
			Name:     "account-" + string(rune('a'+i)),
			Username: "user" + string(rune('a'+i)),
			Password: "pw-" + string(rune('a'+i)) + "-secret",
			Website:  "https://" + string(rune('a'+i)) + ".example",
		})
		require.NoError(h.t, err)
		h.clock.Advance(time.Second)
	}
	return sess.Token
}

type vaultState struct {
	Vault       *models.Vault
	Credentials []*models.Credential
}

// state reads the raw persisted rows.
func (h *harness) state() vaultState {
	h.t.Helper()
	ctx := context.Background()
	v, err := h.repos.RepositoryManager.Vaults(h.db).Get(ctx, h.cfg.VaultID)
	require.NoError(h.t, err)
	cs, err := h.repos.RepositoryManager.Credentials(h.db).List(ctx, h.cfg.VaultID, true)
	require.NoError(h.t, err)
	return vaultState{Vault: v, Credentials: cs}
}

// outcomes reads the rotation outcome counter for the default vault.
func (h *harness) outcomes(outcome string) float64 {
	h.t.Helper()
	mfs, err := h.metrics.Registry().Gather()
	require.NoError(h.t, err)
	for _, mf := range mfs {
		if mf.GetName() != "gophvault_rotation_completed_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["vault"] == h.cfg.VaultID && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
