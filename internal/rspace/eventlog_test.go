package rspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dylon/f1r3fly/internal/tuple"
)

func testComm(t *testing.T) (tuple.Consume, tuple.Produce) {
	t.Helper()
	consume, err := tuple.NewConsume([]tuple.Value{c1}, []tuple.Value{Wildcard}, kAck, false)
	require.NoError(t, err)
	produce, err := tuple.NewProduce(c1, tuple.Int(1), true)
	require.NoError(t, err)
	return consume, produce
}

func TestEventLog_CommIncrementsCounter(t *testing.T) {
	log := newEventLog(NewClock())
	consume, produce := testComm(t)

	comm := log.logComm(consume, []tuple.Produce{produce}, nil, tuple.ZeroHash)
	require.Equal(t, 1, comm.TimesRepeated[produce.Ref.Hex()])
	require.Equal(t, 1, log.produceCount(produce.Ref))

	comm = log.logComm(consume, []tuple.Produce{produce}, nil, tuple.ZeroHash)
	require.Equal(t, 2, comm.TimesRepeated[produce.Ref.Hex()])
}

func TestEventLog_OwnProduceNotCounted(t *testing.T) {
	log := newEventLog(NewClock())
	consume, produce := testComm(t)

	comm := log.logComm(consume, []tuple.Produce{produce}, nil, produce.Ref)
	require.Equal(t, 0, comm.TimesRepeated[produce.Ref.Hex()],
		"the in-flight produce's datum was never stored, so it does not repeat")
	require.Equal(t, 0, log.produceCount(produce.Ref))
}

func TestEventLog_DrainEmptiesBothSlots(t *testing.T) {
	log := newEventLog(NewClock())
	consume, produce := testComm(t)

	log.logProduce(produce)
	log.logComm(consume, []tuple.Produce{produce}, nil, tuple.ZeroHash)

	events, counter := log.drain()
	require.Len(t, events, 2)
	require.Equal(t, 1, counter[produce.Ref.Hex()])

	events, counter = log.drain()
	require.Empty(t, events)
	require.Empty(t, counter)
}

func TestEventLog_ReplaceRestores(t *testing.T) {
	log := newEventLog(NewClock())
	consume, produce := testComm(t)

	log.logConsume(consume)
	saved, savedCounter := log.drain()

	log.logProduce(produce)
	log.replace(saved, savedCounter)

	events, counter := log.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, tuple.EventConsume, events[0].Kind)
	require.Empty(t, counter)
}

func TestEventLog_SeqMonotonic(t *testing.T) {
	log := newEventLog(NewClock())
	_, produce := testComm(t)

	log.logProduce(produce)
	log.logProduce(produce)
	log.logProduce(produce)

	events, _ := log.snapshot()
	require.Len(t, events, 3)
	require.Less(t, events[0].Seq, events[1].Seq)
	require.Less(t, events[1].Seq, events[2].Seq)
}
