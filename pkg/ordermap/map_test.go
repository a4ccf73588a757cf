package ordermap

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestMap(t *testing.T, threads int) *Map[int, string] {
	t.Helper()
	m, err := New[int, string](threads, -1<<62, 1<<62, "", func(a, b int) bool { return a < b })
	require.NoError(t, err)
	return m
}

func TestInsertFindContains(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	v, inserted := m.Insert(0, 5, "five")
	require.True(t, inserted)
	require.Equal(t, "", v) // no prior value on a fresh insert

	// Insert is absent-only: a duplicate key leaves the stored value
	// untouched and hands back what was already there.
	v, inserted = m.Insert(0, 5, "FIVE")
	require.False(t, inserted)
	require.Equal(t, "five", v)

	v, ok := m.Find(0, 5)
	require.True(t, ok)
	require.Equal(t, "five", v)
	require.True(t, m.Contains(0, 5))

	_, ok = m.Find(0, 6)
	require.False(t, ok)
	require.False(t, m.Contains(0, 6))
}

func TestEraseUnknownReturnsFalse(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	_, erased := m.Erase(0, 42)
	require.False(t, erased)
	_, inserted := m.Insert(0, 42, "a")
	require.True(t, inserted)
	v, erased := m.Erase(0, 42)
	require.True(t, erased)
	require.Equal(t, "a", v)
	require.False(t, m.Contains(0, 42))
	_, erased = m.Erase(0, 42)
	require.False(t, erased)
}

func TestInsertEraseInsertInterleaving(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	_, inserted := m.Insert(0, 1, "a")
	require.True(t, inserted)
	v, erased := m.Erase(0, 1)
	require.True(t, erased)
	require.Equal(t, "a", v)
	_, inserted = m.Insert(0, 1, "b")
	require.True(t, inserted)

	v, ok := m.Find(0, 1)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestRangeQuerySequential(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	for i := 0; i < 20; i++ {
		m.Insert(0, i, "v")
	}
	_, erased := m.Erase(0, 10)
	require.True(t, erased)

	got := m.RangeQuery(0, 5, 14)
	var keys []int
	for _, e := range got {
		keys = append(keys, e.Key)
	}
	sort.Ints(keys)
	require.Equal(t, []int{5, 6, 7, 8, 9, 11, 12, 13, 14}, keys)
}

func TestRangeQueryEmptyMap(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)
	require.Empty(t, m.RangeQuery(0, 0, 100))
}

func TestRangeQuerySnapshotIgnoresLaterInserts(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	for _, k := range []int{1, 2, 3, 5} {
		m.Insert(0, k, "v")
	}
	snapshot := m.RangeQuery(0, 0, 10)
	require.Len(t, snapshot, 4)

	m.Insert(0, 4, "v")
	_, erased := m.Erase(0, 2)
	require.True(t, erased)

	after := m.RangeQuery(0, 0, 10)
	var keys []int
	for _, e := range after {
		keys = append(keys, e.Key)
	}
	sort.Ints(keys)
	require.Equal(t, []int{1, 3, 4, 5}, keys)
}

// TestRangeQueryVsConcurrentErasesIsLinearizable mirrors the range-vs-writer
// testable property: a reader scanning [1,1000] concurrently with a writer
// erasing every even key must see, for every key it returns, a consistent
// snapshot — no key reported that was never present, no duplicate, and the
// result sorted with no gaps relative to itself.
func TestRangeQueryVsConcurrentErasesIsLinearizable(t *testing.T) {
	// tid 0 seeds, tid 1 erases, and each of the 50 scans gets its own tid.
	m := newTestMap(t, 52)
	for tid := 0; tid < 52; tid++ {
		m.InitThread(tid)
		defer m.DeinitThread(tid)
	}

	for i := 1; i <= 1000; i++ {
		m.Insert(0, i, "v")
	}

	var g errgroup.Group
	results := make([][]Entry[int, string], 50)
	for round := 0; round < 50; round++ {
		round := round
		g.Go(func() error {
			results[round] = m.RangeQuery(2+round, 1, 1000)
			return nil
		})
	}
	g.Go(func() error {
		for i := 2; i <= 1000; i += 2 {
			m.Erase(1, i)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	for _, got := range results {
		seen := make(map[int]bool, len(got))
		last := 0
		for _, e := range got {
			require.False(t, seen[e.Key], "duplicate key %d in one scan", e.Key)
			seen[e.Key] = true
			require.Greater(t, e.Key, last, "keys out of order")
			last = e.Key
			require.Equal(t, "v", e.Value)
			require.GreaterOrEqual(t, e.Key, 1)
			require.LessOrEqual(t, e.Key, 1000)
		}
	}
}

func TestConcurrentInsertsAreAllVisible(t *testing.T) {
	m := newTestMap(t, 8)
	for tid := 0; tid < 8; tid++ {
		m.InitThread(tid)
	}
	defer func() {
		for tid := 0; tid < 8; tid++ {
			m.DeinitThread(tid)
		}
	}()

	var g errgroup.Group
	const perThread = 200
	for tid := 0; tid < 8; tid++ {
		tid := tid
		g.Go(func() error {
			base := tid * perThread
			for i := 0; i < perThread; i++ {
				m.Insert(tid, base+i, "v")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 8*perThread, m.DebugSize())
	got := m.RangeQuery(0, -1<<62+1, 1<<62-1)
	require.Len(t, got, 8*perThread)
}

func TestConcurrentInsertEraseOnSameKeyNeverCorrupts(t *testing.T) {
	m := newTestMap(t, 4)
	for tid := 0; tid < 4; tid++ {
		m.InitThread(tid)
	}
	defer func() {
		for tid := 0; tid < 4; tid++ {
			m.DeinitThread(tid)
		}
	}()
	m.Insert(0, 1, "seed")
	m.Erase(0, 1)

	var g errgroup.Group
	for tid := 0; tid < 4; tid++ {
		tid := tid
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				m.Insert(tid, 1, "v")
				m.Erase(tid, 1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Either present or not: the point is this never panics or deadlocks,
	// and Contains/Find agree with each other either way.
	v, ok := m.Find(0, 1)
	require.Equal(t, ok, m.Contains(0, 1))
	if ok {
		require.Equal(t, "v", v)
	}
}

func TestAllocatorReusesRetiredNodes(t *testing.T) {
	m := newTestMap(t, 1)
	m.InitThread(0)
	defer m.DeinitThread(0)

	for round := 0; round < 3; round++ {
		for i := 0; i < 200; i++ {
			m.Insert(0, i, "v")
		}
		for i := 0; i < 200; i++ {
			m.Erase(0, i)
		}
	}
	require.Equal(t, 0, m.DebugSize())
	// Erase+reinsert cycles must have bumped the reclamation epoch at least
	// once as caches filled and were recycled through the global stack.
	require.Greater(t, m.ReclamationEpoch(), uint64(0))
}
