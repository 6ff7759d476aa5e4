package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(validity time.Duration) (*Registry, *testclock.Clock) {
	clk := testclock.NewClock(t0)
	return NewRegistry([]byte("signing-key"), validity, clk), clk
}

func TestRegistry_IssueValidateKey(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)

	key := []byte("0123456789abcdef0123456789abcdef")
	s, err := r.Issue("default", key)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", string(key), "caller's key is not wiped")
	assert.Equal(t, t0.Add(time.Hour), s.ExpiresAt)

	res := r.Validate(s.Token)
	assert.True(t, res.Valid)
	assert.Equal(t, "default", res.Subject)
	assert.Equal(t, s.ID, res.SessionID)

	got, err := r.Key(s.ID)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	looked, err := r.Lookup(s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, looked.ID)
}

func TestRegistry_ValidateReasons(t *testing.T) {
	r, clk := newTestRegistry(time.Minute)

	assert.Equal(t, ReasonMissing, r.Validate("").Reason)
	assert.Equal(t, ReasonMalformed, r.Validate("garbage").Reason)

	other := NewRegistry([]byte("other-key"), time.Minute, clk)
	foreign, err := other.Issue("default", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, ReasonMalformed, r.Validate(foreign.Token).Reason)

	s, err := r.Issue("default", []byte("k"))
	require.NoError(t, err)
	r.Revoke(s.ID)
	r.Revoke(s.ID)
	assert.Equal(t, ReasonRevoked, r.Validate(s.Token).Reason)

	_, err = r.Lookup(s.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	s2, err := r.Issue("default", []byte("k"))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	res := r.Validate(s2.Token)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonExpired, res.Reason)

	_, err = r.Lookup(s2.Token)
	assert.True(t, errors.Is(err, common.ErrTokenExpired))
}

func TestRegistry_RevokeAll(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)

	a, _ := r.Issue("v1", []byte("k"))
	b, _ := r.Issue("v1", []byte("k"))
	c, _ := r.Issue("v2", []byte("k"))

	assert.Equal(t, 2, r.RevokeAll("v1"))
	assert.False(t, r.Validate(a.Token).Valid)
	assert.False(t, r.Validate(b.Token).Valid)
	assert.True(t, r.Validate(c.Token).Valid)

	_, err := r.Key(a.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRegistry_Sweep(t *testing.T) {
	r, clk := newTestRegistry(time.Minute)

	_, _ = r.Issue("v", []byte("k"))
	clk.Advance(30 * time.Second)
	_, _ = r.Issue("v", []byte("k"))

	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RunSweeper(t *testing.T) {
	r, clk := newTestRegistry(time.Minute)
	_, _ = r.Issue("v", []byte("k"))

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.RunSweeper(ctx, 10*time.Minute, func(n int) { swept <- n })
	}()

	require.NoError(t, clk.WaitAdvance(10*time.Minute, time.Second, 1))
	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not run")
	}
	assert.Equal(t, 0, r.Len())

	cancel()
	assert.NoError(t, <-done)
}

func TestRegistry_IssueEmptyKey(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	_, err := r.Issue("v", nil)
	assert.Error(t, err)
}
