package rspace

import (
	"maps"
	"slices"
	"sync"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// eventLog holds the per-session ordered record of produce/consume/comm
// events together with the produce repeat counter.
//
// Both slots live behind one mutex so that the atomic drain performed by
// soft checkpointing is trivially correct: a drain observes a consistent
// (events, counter) pair, and reads during a drain block.
//
// counter[p] equals the number of COMM events in which produce p was
// matched since the last reset or soft checkpoint.
type eventLog struct {
	mu      sync.Mutex
	clock   *Clock
	events  []tuple.Event
	counter map[string]int // produce ref hex -> comm count
}

func newEventLog(clock *Clock) *eventLog {
	return &eventLog{
		clock:   clock,
		events:  []tuple.Event{},
		counter: make(map[string]int),
	}
}

// logProduce appends a produce event (the no-match path).
func (l *eventLog) logProduce(p tuple.Produce) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, tuple.Event{
		Kind:    tuple.EventProduce,
		Seq:     l.clock.Next(),
		Produce: &p,
	})
}

// logConsume appends a consume event (the no-match path).
func (l *eventLog) logConsume(c tuple.Consume) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, tuple.Event{
		Kind:    tuple.EventConsume,
		Seq:     l.clock.Next(),
		Consume: &c,
	})
}

// logComm appends a communication event, incrementing the repeat counter
// for every matched produce except ownRef (the produce performed by the
// current call, whose datum was never stored). The recorded TimesRepeated
// carries the post-increment counts of all matched produces, so replay
// accounting is deterministic.
func (l *eventLog) logComm(consume tuple.Consume, produces []tuple.Produce, peeks []int, ownRef tuple.Hash) tuple.Comm {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range produces {
		if p.Ref != ownRef {
			l.counter[p.Ref.Hex()]++
		}
	}

	times := make(map[string]int, len(produces))
	for _, p := range produces {
		times[p.Ref.Hex()] = l.counter[p.Ref.Hex()]
	}

	comm := tuple.Comm{
		Consume:       consume,
		Produces:      slices.Clone(produces),
		Peeks:         slices.Clone(peeks),
		TimesRepeated: times,
	}
	l.events = append(l.events, tuple.Event{
		Kind: tuple.EventComm,
		Seq:  l.clock.Next(),
		Comm: &comm,
	})
	return comm
}

// drain atomically empties both slots and returns their contents.
func (l *eventLog) drain() ([]tuple.Event, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events
	counter := l.counter
	l.events = []tuple.Event{}
	l.counter = make(map[string]int)
	return events, counter
}

// replace atomically swaps in saved contents (soft checkpoint revert).
func (l *eventLog) replace(events []tuple.Event, counter map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = slices.Clone(events)
	l.counter = maps.Clone(counter)
	if l.counter == nil {
		l.counter = make(map[string]int)
	}
}

// snapshot returns copies of both slots without draining.
func (l *eventLog) snapshot() ([]tuple.Event, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events), maps.Clone(l.counter)
}

// produceCount returns the repeat counter of one produce.
func (l *eventLog) produceCount(ref tuple.Hash) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter[ref.Hex()]
}
