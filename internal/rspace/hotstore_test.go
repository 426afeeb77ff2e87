package rspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

func newTestHotStore(t *testing.T) (*hotStore, *history.Repository) {
	t.Helper()
	repo := newTestRepo(t)
	reader, err := repo.Reader(context.Background(), history.EmptyRoot)
	require.NoError(t, err)
	return newHotStore(reader), repo
}

func datumFor(t *testing.T, c tuple.Value, a tuple.Value, persist bool) tuple.Datum {
	t.Helper()
	p, err := tuple.NewProduce(c, a, persist)
	require.NoError(t, err)
	return tuple.Datum{A: a, Persist: persist, Source: p}
}

func wcFor(t *testing.T, cs []tuple.Value, persist bool) tuple.WaitingContinuation {
	t.Helper()
	patterns := make([]tuple.Value, len(cs))
	for i := range patterns {
		patterns[i] = Wildcard
	}
	consume, err := tuple.NewConsume(cs, patterns, kAck, persist)
	require.NoError(t, err)
	return tuple.WaitingContinuation{Patterns: patterns, K: kAck, Persist: persist, Source: consume}
}

func TestHotStore_PutGetRemoveDatum(t *testing.T) {
	store, _ := newTestHotStore(t)
	ctx := context.Background()
	c := tuple.String("c")

	require.NoError(t, store.putDatum(ctx, c, datumFor(t, c, tuple.Int(1), false)))
	require.NoError(t, store.putDatum(ctx, c, datumFor(t, c, tuple.Int(2), false)))
	require.NoError(t, store.putDatum(ctx, c, datumFor(t, c, tuple.Int(3), false)))

	data, err := store.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 3)

	// Descending-order removal keeps earlier indices valid.
	require.NoError(t, store.removeDatum(ctx, c, 2))
	require.NoError(t, store.removeDatum(ctx, c, 0))

	data, err = store.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, tuple.Int(2), data[0].A)

	require.Error(t, store.removeDatum(ctx, c, 5), "out-of-range removal must fail")
}

func TestHotStore_ReadThroughFromHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	c := tuple.String("committed")
	d := datumFor(t, c, tuple.Int(7), false)

	key, err := tuple.ChannelHash(c)
	require.NoError(t, err)
	root, err := repo.Checkpoint(ctx, history.EmptyRoot, tuple.Snapshot{
		Data: map[string]tuple.DataRow{key.Hex(): {Channel: c, Data: []tuple.Datum{d}}},
	}, nil)
	require.NoError(t, err)

	reader, err := repo.Reader(ctx, root)
	require.NoError(t, err)
	store := newHotStore(reader)

	// Untouched key reads through.
	data, err := store.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 1)

	// First mutation seeds from the history value.
	require.NoError(t, store.putDatum(ctx, c, datumFor(t, c, tuple.Int(8), false)))
	data, err = store.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 2)
	require.Equal(t, tuple.Int(7), data[0].A)

	// Removing the committed datum works through the overlay.
	require.NoError(t, store.removeDatum(ctx, c, 0))
	data, err = store.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, tuple.Int(8), data[0].A)
}

func TestHotStore_PutJoinDeduplicates(t *testing.T) {
	store, _ := newTestHotStore(t)
	ctx := context.Background()
	c := tuple.String("a")
	cs := []tuple.Value{tuple.String("a"), tuple.String("b")}

	require.NoError(t, store.putJoin(ctx, c, cs))
	require.NoError(t, store.putJoin(ctx, c, cs))

	joins, err := store.getJoins(ctx, c)
	require.NoError(t, err)
	require.Len(t, joins, 1)
}

func TestHotStore_RemoveJoinOnlyWhenNoContinuations(t *testing.T) {
	store, _ := newTestHotStore(t)
	ctx := context.Background()
	c := tuple.String("a")
	cs := []tuple.Value{tuple.String("a"), tuple.String("b")}

	require.NoError(t, store.putJoin(ctx, c, cs))
	require.NoError(t, store.putContinuation(ctx, cs, wcFor(t, cs, false)))

	// A continuation still waits at cs: the join entry must survive.
	require.NoError(t, store.removeJoin(ctx, c, cs))
	joins, err := store.getJoins(ctx, c)
	require.NoError(t, err)
	require.Len(t, joins, 1)

	require.NoError(t, store.removeContinuation(ctx, cs, 0))
	require.NoError(t, store.removeJoin(ctx, c, cs))
	joins, err = store.getJoins(ctx, c)
	require.NoError(t, err)
	require.Empty(t, joins)
}

func TestHotStore_InstalledContinuationsNotRemovable(t *testing.T) {
	store, _ := newTestHotStore(t)
	ctx := context.Background()
	cs := []tuple.Value{tuple.String("a")}

	require.NoError(t, store.installContinuation(ctx, cs, wcFor(t, cs, true)))
	require.NoError(t, store.putContinuation(ctx, cs, wcFor(t, cs, false)))

	conts, err := store.getContinuations(ctx, cs)
	require.NoError(t, err)
	require.Len(t, conts, 2)
	require.True(t, conts[0].Persist, "installed continuations list first")

	require.Error(t, store.removeContinuation(ctx, cs, 0), "installed continuations cannot be removed")
	require.NoError(t, store.removeContinuation(ctx, cs, 1))

	conts, err = store.getContinuations(ctx, cs)
	require.NoError(t, err)
	require.Len(t, conts, 1)
}

func TestHotStore_SnapshotRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	reader, err := repo.Reader(ctx, history.EmptyRoot)
	require.NoError(t, err)
	store := newHotStore(reader)

	c := tuple.String("c")
	require.NoError(t, store.putDatum(ctx, c, datumFor(t, c, tuple.Int(1), false)))
	cs := []tuple.Value{c}
	require.NoError(t, store.putContinuation(ctx, cs, wcFor(t, cs, false)))

	snap := store.snapshot()

	// Mutate the live store; the snapshot must be unaffected.
	require.NoError(t, store.removeDatum(ctx, c, 0))

	restored := newHotStoreFromSnapshot(reader, snap)
	data, err := restored.getData(ctx, c)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, tuple.Int(1), data[0].A)
	require.Equal(t, snap, restored.snapshot(), "snapshot must round-trip byte for byte")
}
