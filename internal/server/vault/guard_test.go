package vault

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTryRead_SharedWhileIdle(t *testing.T) {
	g := NewGuard("v")

	r1, err := g.TryRead(true)
	require.NoError(t, err)
	r2, err := g.TryRead(false)
	require.NoError(t, err)
	r1()
	r2()
}

func TestTryRead_BusyDuringExclusive(t *testing.T) {
	g := NewGuard("v")

	l, err := g.TryExclusive("a1", t0, false)
	require.NoError(t, err)

	_, err = g.TryRead(true)
	assert.ErrorIs(t, err, common.ErrVaultBusy)
	_, err = g.TryRead(false)
	assert.ErrorIs(t, err, common.ErrVaultBusy)

	l.Release()
	l.Release()

	r, err := g.TryRead(true)
	require.NoError(t, err)
	r()
}

func TestTryExclusive_OnlyOneWins(t *testing.T) {
	g := NewGuard("v")

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		busy    int
		start   = make(chan struct{})
		leases  []*Lease
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			l, err := g.TryExclusive("a", t0, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
				leases = append(leases, l)
			case errors.Is(err, common.ErrRotationInProgress):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, busy)
	for _, l := range leases {
		l.Release()
	}
}

func TestTryExclusive_WaitsForReaders(t *testing.T) {
	g := NewGuard("v")

	release, err := g.TryRead(false)
	require.NoError(t, err)

	got := make(chan *Lease)
	go func() {
		l, err := g.TryExclusive("a", t0, false)
		assert.NoError(t, err)
		got <- l
	}()

	select {
	case <-got:
		t.Fatal("exclusive acquired while a reader was inside")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	l := <-got
	l.Release()
}

func TestLease_StatesAndStatus(t *testing.T) {
	g := NewGuard("v")
	assert.Equal(t, models.RotationIdle, g.Status().State)

	l, err := g.TryExclusive("a1", t0, false)
	require.NoError(t, err)
	l.Enter(models.RotationReKeying)

	st := g.Status()
	assert.Equal(t, models.RotationReKeying, st.State)
	assert.Equal(t, "a1", st.AttemptID)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, t0, *st.StartedAt)

	l.Release()
	st = g.Status()
	assert.Equal(t, models.RotationIdle, st.State)
	assert.Empty(t, st.AttemptID)
	assert.Nil(t, st.StartedAt)
}

func TestLease_FailedStaysFailedUntilRecovered(t *testing.T) {
	g := NewGuard("v")

	l, err := g.TryExclusive("a1", t0, false)
	require.NoError(t, err)
	l.Enter(models.RotationRestoring)
	l.Fail("snap-1")
	l.Release()

	st := g.Status()
	assert.Equal(t, models.RotationFailedUnrecoverable, st.State)
	assert.Equal(t, "snap-1", st.LastGoodSnapshotID)
	assert.Equal(t, "a1", st.AttemptID)

	_, err = g.TryRead(true)
	assert.ErrorIs(t, err, common.ErrVaultBusy, "mutations refused while failed")
	r, err := g.TryRead(false)
	require.NoError(t, err, "reads still allowed")
	r()

	_, err = g.TryExclusive("a2", t0, false)
	var ue *common.UnrecoverableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "snap-1", ue.SnapshotID)
	assert.ErrorIs(t, err, common.ErrUnrecoverable)

	// An operator attempt that does not repair keeps the vault failed.
	l, err = g.TryExclusive("op1", t0, true)
	require.NoError(t, err)
	assert.True(t, l.WasFailed())
	l.Release()
	assert.Equal(t, models.RotationFailedUnrecoverable, g.State())

	l, err = g.TryExclusive("op2", t0, true)
	require.NoError(t, err)
	l.Recovered()
	l.Release()
	assert.Equal(t, models.RotationIdle, g.State())
	assert.Empty(t, g.Status().LastGoodSnapshotID)
}

func TestMarkFailed(t *testing.T) {
	g := NewGuard("v")
	g.MarkFailed("a9", "s9")

	st := g.Status()
	assert.Equal(t, models.RotationFailedUnrecoverable, st.State)
	assert.Equal(t, "s9", st.LastGoodSnapshotID)
	assert.Equal(t, "a9", st.AttemptID)
}
