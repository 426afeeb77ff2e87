package rspace

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dylon/f1r3fly/internal/tuple"
)

var errTest = errors.New("test failure")

func hashOf(b byte) tuple.Hash {
	var h tuple.Hash
	h[0] = b
	return h
}

func TestSortKeys_OrdersAndDeduplicates(t *testing.T) {
	keys := sortKeys([]tuple.Hash{hashOf(3), hashOf(1), hashOf(3), hashOf(2)})
	require.Len(t, keys, 3)
	require.Equal(t, hashOf(1), keys[0])
	require.Equal(t, hashOf(2), keys[1])
	require.Equal(t, hashOf(3), keys[2])
}

func TestDiffKeys(t *testing.T) {
	held := sortKeys([]tuple.Hash{hashOf(1), hashOf(3)})
	extra := diffKeys(sortKeys([]tuple.Hash{hashOf(1), hashOf(2), hashOf(3), hashOf(4)}), held)
	require.Len(t, extra, 2)
	require.Equal(t, hashOf(2), extra[0])
	require.Equal(t, hashOf(4), extra[1])
}

func TestLockManager_MutualExclusion(t *testing.T) {
	m := newLockManager()
	key := []tuple.Hash{hashOf(1)}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.acquire(key, nil, func() error {
				counter++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter, "all critical sections must be serialized")
}

func TestLockManager_TwoPhaseExpansion(t *testing.T) {
	m := newLockManager()

	calls := 0
	extended := false
	err := m.acquire([]tuple.Hash{hashOf(2)}, func() ([]tuple.Hash, error) {
		// Phase B introduces a key sorting before the held one, forcing
		// the ordered re-acquisition path; extend is re-run to
		// re-validate the expansion.
		calls++
		return []tuple.Hash{hashOf(1), hashOf(2), hashOf(3)}, nil
	}, func() error {
		extended = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, extended)
	require.Equal(t, 2, calls, "the out-of-order expansion must re-validate")
	require.Equal(t, 0, activeRefs(m), "all keys must be released")
}

func TestLockManager_ExtendErrorReleasesPhaseA(t *testing.T) {
	m := newLockManager()

	wantErr := NewStoreError("produce", errTest)
	err := m.acquire([]tuple.Hash{hashOf(1)}, func() ([]tuple.Hash, error) {
		return nil, wantErr
	}, func() error {
		t.Fatal("thunk must not run after a failed extend")
		return nil
	})
	require.ErrorIs(t, err, wantErr)

	// The key is free again.
	ran := false
	err = m.acquire([]tuple.Hash{hashOf(1)}, nil, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestLockManager_CleanUp(t *testing.T) {
	m := newLockManager()

	err := m.acquire([]tuple.Hash{hashOf(1), hashOf(2)}, nil, func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, 2, m.size())

	m.cleanUp()
	require.Equal(t, 0, m.size(), "unused mutexes must be discarded")
}

func TestLockManager_DisjointKeysRunInParallel(t *testing.T) {
	m := newLockManager()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = m.acquire([]tuple.Hash{hashOf(1)}, nil, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// A disjoint key set acquires without waiting for the holder.
	done := make(chan struct{})
	go func() {
		_ = m.acquire([]tuple.Hash{hashOf(2)}, nil, func() error {
			close(done)
			return nil
		})
	}()
	<-done
	close(release)
}

// activeRefs sums the holder/waiter counts across all entries.
func activeRefs(m *lockManager) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.locks {
		total += e.refs
	}
	return total
}
