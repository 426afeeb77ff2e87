package rspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dylon/f1r3fly/internal/tuple"
)

func TestInstall_MatchesProduces(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()
	channels := []tuple.Value{c1}

	require.NoError(t, space.Install(ctx, channels, []tuple.Value{Wildcard}, kAck))

	pr, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	require.NotNil(t, pr, "installed continuation must match")
	require.True(t, pr.Continuation.Persist, "installed continuations are always persistent")

	// The continuation remains installed after the match.
	conts, err := space.GetWaitingContinuations(ctx, channels)
	require.NoError(t, err)
	require.Len(t, conts, 1)

	pr, err = space.Produce(ctx, c1, tuple.Int(2), false)
	require.NoError(t, err)
	require.NotNil(t, pr, "installed continuation must keep matching")
}

func TestInstall_WithMatchingDatumFails(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)

	err = space.Install(ctx, []tuple.Value{c1}, []tuple.Value{Wildcard}, kAck)
	require.Error(t, err)
	require.True(t, IsInstallError(err), "install over matching data is a configuration error: %v", err)

	// The failed install left nothing behind.
	conts, err := space.GetWaitingContinuations(ctx, []tuple.Value{c1})
	require.NoError(t, err)
	require.Empty(t, conts)
}

func TestInstall_SurvivesReset(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()
	channels := []tuple.Value{c1}

	require.NoError(t, space.Install(ctx, channels, []tuple.Value{Wildcard}, kAck))
	require.NoError(t, space.Clear(ctx))

	conts, err := space.GetWaitingContinuations(ctx, channels)
	require.NoError(t, err)
	require.Len(t, conts, 1, "installs must be re-applied on reset")

	pr, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	require.NotNil(t, pr)
}

func TestInstall_NotInEventLogOrCheckpoint(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()
	channels := []tuple.Value{c1}

	require.NoError(t, space.Install(ctx, channels, []tuple.Value{Wildcard}, kAck))
	require.Empty(t, space.EventLog(), "installs are not session events")

	checkpoint, err := space.CreateCheckpoint(ctx)
	require.NoError(t, err)
	require.Empty(t, checkpoint.Log)

	// The checkpointed root holds no continuation; the live space still
	// does, because the post-checkpoint reset re-applied the install.
	reader, err := space.repo.Reader(ctx, checkpoint.Root)
	require.NoError(t, err)
	persisted, err := reader.GetContinuations(ctx, channels)
	require.NoError(t, err)
	require.Empty(t, persisted, "installed continuations must not be serialized into history")

	live, err := space.GetWaitingContinuations(ctx, channels)
	require.NoError(t, err)
	require.Len(t, live, 1)
}

func TestInstall_Validation(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	err := space.Install(ctx, nil, nil, kAck)
	require.True(t, IsInvalidArgument(err))

	err = space.Install(ctx, []tuple.Value{c1}, wildcard, kAck)
	require.True(t, IsInvalidArgument(err))
}
