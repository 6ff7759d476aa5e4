package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnrecoverableError_MatchesSentinelAndCause(t *testing.T) {
	cause := fmt.Errorf("%w: disk gone", ErrRestoreFailed)
	var err error = &UnrecoverableError{SnapshotID: "snap-1", AttemptID: "att-1", Cause: cause}

	assert.True(t, errors.Is(err, ErrUnrecoverable))
	assert.True(t, errors.Is(err, ErrRestoreFailed))
	assert.False(t, errors.Is(err, ErrRotationFailed))
	assert.Contains(t, err.Error(), "snap-1")
	assert.Contains(t, err.Error(), "att-1")

	var ue *UnrecoverableError
	wrapped := fmt.Errorf("rotate: %w", err)
	if assert.True(t, errors.As(wrapped, &ue)) {
		assert.Equal(t, "snap-1", ue.SnapshotID)
	}
}

func TestUnrecoverableError_WrapsContextError(t *testing.T) {
	err := &UnrecoverableError{SnapshotID: "s", AttemptID: "a", Cause: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
