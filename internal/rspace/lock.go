package rspace

import (
	"slices"
	"sync"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// lockManager is a per-process two-step lock over channel hashes.
//
// An acquisition has two phases. Phase A locks the initial key set. While
// phase A is held, the extend callback runs under mutual exclusion and
// returns the data-dependent extra keys (the channels pulled in by joins on
// the produced channel - they can only be read once the producer's own
// channel is locked). Phase B then expands the held set to the union and
// runs the thunk with everything held.
//
// Keys are always locked in the total order given by Hash.Compare
// (lexicographic over the digest) to exclude cycles. When an extension
// introduces a key sorting before one already held, taking it directly
// would violate that order, so the expansion releases everything and
// re-locks the full set in order; the extend callback is then re-run to
// re-validate the key set, because the join index may have moved while
// nothing was held. Expansion only ever grows the held set.
//
// One logical mutex exists per key, created lazily. cleanUp discards
// mutexes nobody holds or waits on; the engine calls it between resets.
type lockManager struct {
	mu    sync.Mutex
	locks map[tuple.Hash]*lockEntry
}

type lockEntry struct {
	mu sync.Mutex
	// refs counts holders plus waiters; guarded by lockManager.mu.
	refs int
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[tuple.Hash]*lockEntry)}
}

// acquire runs thunk with initial plus the extend-computed keys held.
// extend may be nil (single-phase operations such as consume); it may be
// invoked more than once and must re-read its inputs on each call.
func (m *lockManager) acquire(initial []tuple.Hash, extend func() ([]tuple.Hash, error), thunk func() error) error {
	held := sortKeys(initial)
	m.lockAll(held)
	defer func() { m.unlockAll(held) }()

	if extend != nil {
		for {
			extra, err := extend()
			if err != nil {
				return err
			}
			needed := sortKeys(append(slices.Clone(held), extra...))
			fresh := diffKeys(needed, held)
			if len(fresh) == 0 {
				break
			}

			// Every fresh key sorting after the held maximum can be taken
			// directly without breaking the acquisition order, and the
			// extension is final: the inputs of extend are guarded by keys
			// that never left the held set.
			if len(held) > 0 && held[len(held)-1].Compare(fresh[0]) < 0 {
				m.lockAll(fresh)
				held = needed
				break
			}

			// An out-of-order key: restart with the full set, lowest
			// first, then loop to re-validate the expansion.
			m.unlockAll(held)
			m.lockAll(needed)
			held = needed
		}
	}

	return thunk()
}

// lockAll locks keys in ascending digest order. Keys must be sorted and
// deduplicated.
func (m *lockManager) lockAll(keys []tuple.Hash) {
	for _, key := range keys {
		m.entry(key).mu.Lock()
	}
}

// unlockAll releases keys in reverse acquisition order.
func (m *lockManager) unlockAll(keys []tuple.Hash) {
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		m.mu.Lock()
		entry := m.locks[key]
		entry.refs--
		m.mu.Unlock()
		entry.mu.Unlock()
	}
}

// entry returns the mutex for a key, creating it lazily, and counts the
// caller as a holder-or-waiter until the matching unlock.
func (m *lockManager) entry(key tuple.Hash) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

// cleanUp discards every mutex with no holder and no waiter.
// Safe to call concurrently with operations; in-use entries survive.
func (m *lockManager) cleanUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.locks {
		if e.refs == 0 {
			delete(m.locks, key)
		}
	}
}

// size returns the number of live mutexes. Used for testing.
func (m *lockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// sortKeys sorts and deduplicates a key set into acquisition order.
func sortKeys(keys []tuple.Hash) []tuple.Hash {
	out := slices.Clone(keys)
	slices.SortFunc(out, tuple.Hash.Compare)
	return slices.Compact(out)
}

// diffKeys returns the keys of a not present in held. Both must be sorted.
func diffKeys(a, held []tuple.Hash) []tuple.Hash {
	out := make([]tuple.Hash, 0, len(a))
	for _, key := range a {
		if _, found := slices.BinarySearchFunc(held, key, tuple.Hash.Compare); !found {
			out = append(out, key)
		}
	}
	return out
}
