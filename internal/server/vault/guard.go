// Package vault holds the per-vault guard that serializes rotation and
// snapshot restore against credential traffic.
package vault

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

// Guard is the mutual exclusion region of one vault.
//
// Credential operations share the read side and never wait: if an exclusive
// holder is present or pending they fail with common.ErrVaultBusy.
// Rotation, backup and restore take the write side for their whole run.
type Guard struct {
	vaultID string

	rw        sync.RWMutex
	exclusive atomic.Bool

	mu        sync.Mutex
	state     models.RotationState
	attempt   *models.RotationAttempt
	lastGood  string
	failedAtt string
}

func NewGuard(vaultID string) *Guard {
	return &Guard{vaultID: vaultID, state: models.RotationIdle}
}

func (g *Guard) VaultID() string { return g.vaultID }

// TryRead enters the shared side. Mutations are also refused while the
// vault is failed unrecoverable.
func (g *Guard) TryRead(mutation bool) (release func(), err error) {
	if g.exclusive.Load() {
		return nil, common.ErrVaultBusy
	}
	if mutation && g.State() == models.RotationFailedUnrecoverable {
		return nil, common.ErrVaultBusy
	}
	if !g.rw.TryRLock() {
		return nil, common.ErrVaultBusy
	}
	return g.rw.RUnlock, nil
}

// TryExclusive claims the vault for one exclusive operation. A competing
// claim fails with common.ErrRotationInProgress. Unless allowFailed is set a
// failed vault refuses with *common.UnrecoverableError naming the snapshot to
// restore.
func (g *Guard) TryExclusive(attemptID string, startedAt time.Time, allowFailed bool) (*Lease, error) {
	if !g.exclusive.CompareAndSwap(false, true) {
		return nil, common.ErrRotationInProgress
	}

	g.mu.Lock()
	if g.state == models.RotationFailedUnrecoverable && !allowFailed {
		err := &common.UnrecoverableError{SnapshotID: g.lastGood, AttemptID: g.failedAtt, Cause: common.ErrVaultBusy}
		g.mu.Unlock()
		g.exclusive.Store(false)
		return nil, err
	}
	wasFailed := g.state == models.RotationFailedUnrecoverable
	g.mu.Unlock()

	// Readers are short; wait for them to drain.
	g.rw.Lock()

	g.mu.Lock()
	g.attempt = &models.RotationAttempt{ID: attemptID, State: g.state, StartedAt: startedAt}
	g.mu.Unlock()

	return &Lease{g: g, wasFailed: wasFailed, failed: wasFailed}, nil
}

func (g *Guard) State() models.RotationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status is a read-only view for operators. It never blocks on the lock.
func (g *Guard) Status() models.RotationStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := models.RotationStatus{VaultID: g.vaultID, State: g.state, LastGoodSnapshotID: g.lastGood}
	if g.attempt != nil {
		st.AttemptID = g.attempt.ID
		started := g.attempt.StartedAt
		st.StartedAt = &started
	} else if g.state == models.RotationFailedUnrecoverable {
		st.AttemptID = g.failedAtt
	}
	return st
}

// MarkFailed puts the vault in the failed state without an exclusive holder.
// Startup recovery uses it when a leftover snapshot cannot be restored.
func (g *Guard) MarkFailed(attemptID, snapshotID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = models.RotationFailedUnrecoverable
	g.lastGood = snapshotID
	g.failedAtt = attemptID
}

// Lease is the exclusive hold on a vault returned by TryExclusive.
type Lease struct {
	g         *Guard
	wasFailed bool
	failed    bool
	once      sync.Once
}

// WasFailed reports whether the vault was failed unrecoverable when claimed.
func (l *Lease) WasFailed() bool { return l.wasFailed }

// Enter moves the held vault to state s.
func (l *Lease) Enter(s models.RotationState) {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	l.g.state = s
	if l.g.attempt != nil {
		l.g.attempt.State = s
	}
}

// Fail records snapshotID as the last known good state. The vault stays
// failed after Release.
func (l *Lease) Fail(snapshotID string) {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	l.failed = true
	l.g.state = models.RotationFailedUnrecoverable
	l.g.lastGood = snapshotID
	if l.g.attempt != nil {
		l.g.failedAtt = l.g.attempt.ID
	}
}

// Recovered clears a failed state on Release. A lease taken on a failed
// vault keeps it failed unless this is called.
func (l *Lease) Recovered() {
	l.g.mu.Lock()
	defer l.g.mu.Unlock()
	l.failed = false
}

// Release ends the exclusive hold. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.g.mu.Lock()
		if l.failed {
			l.g.state = models.RotationFailedUnrecoverable
		} else {
			l.g.state = models.RotationIdle
			l.g.lastGood = ""
			l.g.failedAtt = ""
		}
		l.g.attempt = nil
		l.g.mu.Unlock()

		l.g.rw.Unlock()
		l.g.exclusive.Store(false)
	})
}
