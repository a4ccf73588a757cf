package ordermap

import (
	"github.com/Voskan/ordermap/internal/vbrnode"
)

func (m *Map[K, V]) equal(a, b K) bool {
	return !m.less(a, b) && !m.less(b, a)
}

// stampTS finalizes n's pending timestamp with the current value of the
// global timestamp epoch (spec §4.2). It never advances that epoch itself —
// only RangeQuery does that, to carve out a fresh, exclusive snapshot window
// (see range.go). FinalizeTS is idempotent, so a thread that loses the race
// to stamp its own node simply adopts whatever value a helper already
// installed.
func (m *Map[K, V]) stampTS(n *node[K, V]) uint64 {
	return n.FinalizeTS(m.tsEpoch.Load())
}

// Contains reports whether key is present and not logically deleted.
func (m *Map[K, V]) Contains(tid int, key K) bool {
	_, curr, _ := m.find(tid, key)
	return m.equal(curr.Key, key) && !curr.Next().Mark
}

// Find returns the value stored at key, or (NoValue, false) if key is
// absent or logically deleted.
func (m *Map[K, V]) Find(tid int, key K) (V, bool) {
	_, curr, _ := m.find(tid, key)
	if !m.equal(curr.Key, key) || curr.Next().Mark {
		return m.NoValue, false
	}
	return curr.Value, true
}

// Insert installs value at key if key is not already present, returning
// (NoValue, true). It never overwrites an existing key: on a duplicate it
// leaves the map untouched and returns (the value already stored there,
// false). This matches the base list's insert-if-absent contract — the
// only way to change a present key's value is Erase followed by a fresh
// Insert. The only version link Insert writes is the new node's own,
// pointing at its successor curr (see below); a node already in the list
// gains a newer version only through trim's succTag construction during
// physical removal (spec §4.2, §4.4).
func (m *Map[K, V]) Insert(tid int, key K, value V) (V, bool) {
	m.metrics.incInsert()
	for {
		pred, curr, predLink := m.find(tid, key)
		if m.equal(curr.Key, key) {
			return curr.Value, false
		}

		// The version-chain predecessor is curr itself, the very node this
		// insert is about to be spliced in front of: a RangeQuery sampled
		// before this Insert takes effect resolves the new node as "too new"
		// and rolls back through exactly this link, landing on curr — i.e.
		// exactly what pred pointed to before the insert happened.
		reclEpoch := m.reclEpoch.Load()
		n := vbrnode.Init(m.tc(tid).Alloc(), key, value, reclEpoch, curr, curr)
		newLink := &link[K, V]{Succ: n, Epoch: reclEpoch}
		if !pred.UpdateNext(predLink, newLink) {
			m.tc(tid).Return(n)
			continue
		}

		ts := m.stampTS(n)
		if m.index != nil {
			m.index.Insert(n, ts)
		}
		return m.NoValue, true
	}
}

// Erase removes key, returning (the pre-mark value, true) if it was
// present, or (NoValue, false) if it was not. Removal marks the node
// logically deleted immediately (so Contains/Find/RangeQuery stop seeing it
// right away) and attempts an eager physical unlink; if that race is lost
// the node is left marked for the next traversal's `find` to trim (spec
// §4.4). The node itself is kept alive for any in-flight RangeQuery still
// walking past it — recycling is deferred to the reclamation epoch, not
// tied to this call.
func (m *Map[K, V]) Erase(tid int, key K) (V, bool) {
	m.metrics.incErase()
	for {
		pred, curr, predLink := m.find(tid, key)
		if !m.equal(curr.Key, key) {
			return m.NoValue, false
		}
		value := curr.Value
		if !curr.Mark(curr.TS()) {
			continue
		}
		m.trim(tid, pred, predLink, curr)
		return value, true
	}
}
