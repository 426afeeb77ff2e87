package rspace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

func TestSoftCheckpoint_RoundTrip(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	_, err = space.Consume(ctx, []tuple.Value{c2}, []tuple.Value{Wildcard}, kAck, false, nil)
	require.NoError(t, err)

	wantSnap := space.store.snapshot()
	wantLog, wantCounter := space.log.snapshot()

	sc := space.CreateSoftCheckpoint()
	require.Equal(t, wantSnap, sc.Cache)
	require.Equal(t, wantLog, sc.Log)
	require.Equal(t, wantCounter, sc.Counter)

	// The session continues clean: log drained, store untouched.
	require.Empty(t, space.EventLog())

	// Diverge, then revert.
	_, err = space.Produce(ctx, c1, tuple.Int(99), false)
	require.NoError(t, err)
	_, err = space.Produce(ctx, c2, tuple.Int(2), false)
	require.NoError(t, err)

	require.NoError(t, space.RevertToSoftCheckpoint(ctx, sc))

	require.Equal(t, wantSnap, space.store.snapshot(), "hot store must be restored")
	gotLog, gotCounter := space.log.snapshot()
	require.Equal(t, wantLog, gotLog, "event log must be restored")
	require.Equal(t, wantCounter, gotCounter, "produce counter must be restored")

	data, err := space.GetData(ctx, c1)
	require.NoError(t, err)
	require.Len(t, data, 1)
	require.Equal(t, tuple.Int(1), data[0].A)
}

func TestSoftCheckpoint_SnapshotIsolation(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)

	sc := space.CreateSoftCheckpoint()

	// Mutating the live store after the snapshot must not leak into it.
	_, err = space.Produce(ctx, c1, tuple.Int(2), false)
	require.NoError(t, err)

	key, err := tuple.ChannelHash(c1)
	require.NoError(t, err)
	require.Len(t, sc.Cache.Data[key.Hex()].Data, 1, "snapshot must be isolated from later writes")
}

func TestReset_DropsHotStoreAndLog(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	require.NotEmpty(t, space.EventLog())

	require.NoError(t, space.Reset(ctx, history.EmptyRoot))

	data, err := space.GetData(ctx, c1)
	require.NoError(t, err)
	require.Empty(t, data)
	require.Empty(t, space.EventLog())
}

func TestReset_Idempotent(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)

	require.NoError(t, space.Clear(ctx))
	first, err := space.ToMap(ctx)
	require.NoError(t, err)
	firstRoot := space.Root()

	require.NoError(t, space.Clear(ctx))
	second, err := space.ToMap(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second, "clear must be idempotent")
	require.Equal(t, firstRoot, space.Root())
	require.Equal(t, history.EmptyRoot, space.Root())
}

func TestCreateCheckpoint_CommitsAndRebinds(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)

	checkpoint, err := space.CreateCheckpoint(ctx)
	require.NoError(t, err)
	require.NotEqual(t, history.EmptyRoot, checkpoint.Root)
	require.Len(t, checkpoint.Log, 1)
	require.Equal(t, checkpoint.Root, space.Root())

	// The session is clean but the data is now committed history.
	require.Empty(t, space.EventLog())
	data, err := space.GetData(ctx, c1)
	require.NoError(t, err)
	require.Len(t, data, 1, "checkpointed datum must read through from history")

	// Consuming committed data works across the tier boundary.
	res, err := space.Consume(ctx, []tuple.Value{c1}, []tuple.Value{Wildcard}, kAck, false, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	data, err = space.GetData(ctx, c1)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestCreateCheckpoint_SameStateSameRoot(t *testing.T) {
	space := newTestSpace(t)
	ctx := context.Background()

	_, err := space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	cp1, err := space.CreateCheckpoint(ctx)
	require.NoError(t, err)

	require.NoError(t, space.Clear(ctx))
	_, err = space.Produce(ctx, c1, tuple.Int(1), false)
	require.NoError(t, err)
	cp2, err := space.CreateCheckpoint(ctx)
	require.NoError(t, err)

	require.Equal(t, cp1.Root, cp2.Root, "identical states must checkpoint to identical roots")
}

func TestConcurrentProduces_ExactlyOneMatch(t *testing.T) {
	// A continuation waits on [a,b]; two produces race on a and b. The
	// two-step lock serializes them: exactly one observes the full match.
	for round := 0; round < 20; round++ {
		space := newTestSpace(t)
		ctx := context.Background()
		a := tuple.String("a")
		b := tuple.String("b")

		_, err := space.Consume(ctx, []tuple.Value{a, b}, wildcard, kAck, false, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]*ProduceResult, 2)
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], errs[0] = space.Produce(ctx, a, tuple.Int(1), false)
		}()
		go func() {
			defer wg.Done()
			results[1], errs[1] = space.Produce(ctx, b, tuple.Int(2), false)
		}()
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		matched := 0
		for _, res := range results {
			if res != nil {
				matched++
			}
		}
		require.Equal(t, 1, matched, "round %d: exactly one produce observes the match", round)

		// The stored producer's datum was matched by the winner: its
		// repeat counter is exactly one; the winner's own is zero.
		pa, err := tuple.NewProduce(a, tuple.Int(1), false)
		require.NoError(t, err)
		pb, err := tuple.NewProduce(b, tuple.Int(2), false)
		require.NoError(t, err)
		total := space.ProduceCount(pa.Ref) + space.ProduceCount(pb.Ref)
		require.Equal(t, 1, total, "round %d: exactly one increment for the matched producer", round)

		conts, err := space.GetWaitingContinuations(ctx, []tuple.Value{a, b})
		require.NoError(t, err)
		require.Empty(t, conts)
	}
}

func TestDisjointOps_Commute(t *testing.T) {
	ctx := context.Background()

	run := func(order []func(*Space)) map[string]Row {
		space := newTestSpace(t)
		for _, op := range order {
			op(space)
		}
		view, err := space.ToMap(ctx)
		require.NoError(t, err)
		return view
	}

	produceX := func(s *Space) {
		_, err := s.Produce(ctx, tuple.String("x"), tuple.Int(1), false)
		require.NoError(t, err)
	}
	consumeY := func(s *Space) {
		_, err := s.Consume(ctx, []tuple.Value{tuple.String("y")}, []tuple.Value{Wildcard}, kAck, false, nil)
		require.NoError(t, err)
	}

	ab := run([]func(*Space){produceX, consumeY})
	ba := run([]func(*Space){consumeY, produceX})
	require.Equal(t, ab, ba, "operations on disjoint channels must commute")
}
