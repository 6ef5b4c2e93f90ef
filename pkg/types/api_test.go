package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Errorf(ErrKindState, "commit: transaction is %s", "Committed")

	require.ErrorIs(t, err, ErrState)
	require.NotErrorIs(t, err, ErrIO)

	wrapped := fmt.Errorf("outer: %w", err)
	require.ErrorIs(t, wrapped, ErrState)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, ErrKindState, kind)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("sector not found")
	err := Wrap(ErrKindIO, "read c3/h1", cause)

	require.Equal(t, "read c3/h1: sector not found", err.Error())
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrIO)
}

func TestFromContext(t *testing.T) {
	require.NoError(t, FromContext(nil))
	require.ErrorIs(t, FromContext(context.Canceled), ErrAborted)
	require.ErrorIs(t, FromContext(context.DeadlineExceeded), ErrTimeout)

	other := errors.New("boom")
	require.Same(t, other, FromContext(other))
}

func TestOpErrorCarriesLocation(t *testing.T) {
	err := &OpError{Index: 1, Op: "write_track", Loc: TrackLoc(11, 0), Err: ErrIO}

	assert.Contains(t, err.Error(), "operation 1")
	assert.Contains(t, err.Error(), "c11/h0")
	require.ErrorIs(t, err, ErrIO)

	var op *OpError
	require.ErrorAs(t, fmt.Errorf("commit: %w", err), &op)
	require.Equal(t, 11, op.Loc.Cylinder)
}

func TestErrKindString(t *testing.T) {
	require.Equal(t, "LimitExceeded", ErrKindLimitExceeded.String())
	require.Equal(t, "NoBackupAvailable", ErrKindNoBackup.String())
	require.Equal(t, "ErrKind(42)", ErrKind(42).String())
}
