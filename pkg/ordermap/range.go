package ordermap

import (
	"github.com/Voskan/ordermap/internal/epoch"
	"github.com/Voskan/ordermap/internal/vbrnode"
)

// Entry is one key/value pair returned by RangeQuery.
type Entry[K any, V any] struct {
	Key   K
	Value V
}

// RangeQuery returns every live pair with lo <= key <= hi, linearizable
// with respect to real time: any Insert/Erase that completed before
// RangeQuery sampled its snapshot is reflected, any that completed after is
// not (spec §4.6). It does this by walking the CURRENT list but resolving
// each node it lands on against the snapshot via asOfSelf: a node installed
// after the snapshot (a fresh Insert, or a trim's succTag) is rolled back
// through its own version chain (spec §3's `next_v`) to whichever node
// actually occupied that list position at the sampled instant — which may
// be a different key entirely, not an older value of the same key. See
// trim in find.go for how that chain gets built.
//
// The snapshot instant itself, query_ts, is carved out of the global
// timestamp epoch rather than read directly off it: query_ts is always the
// epoch one TimestampStep (2) behind its current value, and RangeQuery is the only
// caller that ever advances that epoch (Insert/trim's stampTS only stamps
// nodes with whatever the epoch currently is — see ops.go). minEpoch pins
// the oldest epoch this call is willing to accept as its query_ts, sampled
// once before the retry loop: if a fresh call's query_ts would land behind
// that floor (because nobody has advanced the epoch since), it bumps the
// epoch forward itself before trying again, exactly as mvccvbr_list.h's
// rangeQuery does with its own minEpoch/incrementTsEpoch pair. This is what
// gives every RangeQuery call its own exclusive, monotonically-advancing
// snapshot window instead of racing Insert/trim for one.
func (m *Map[K, V]) RangeQuery(tid int, lo, hi K) []Entry[K, V] {
	m.metrics.incRangeQuery()
	minEpoch := m.tsEpoch.Load()

retry:
	reclEpoch := m.reclEpoch.Load()
	cur := m.tsEpoch.Load()
	if cur < minEpoch+epoch.TimestampStep {
		m.tsEpoch.CompareAndBump(cur, minEpoch+epoch.TimestampStep)
		m.bumpRangeRestart()
		goto retry
	}
	ts0 := cur - epoch.TimestampStep
	out := make([]Entry[K, V], 0)

	pred, _, _ := m.find(tid, lo)
	pred, ok := m.asOfSelf(pred, ts0, reclEpoch)
	if !ok {
		m.bumpRangeRestart()
		goto retry
	}

	curr, ok := m.nextAsOf(pred, ts0, reclEpoch)
	for ok && !m.less(hi, curr.Key) {
		if !m.less(curr.Key, lo) {
			out = append(out, Entry[K, V]{Key: curr.Key, Value: curr.Value})
		}
		pred = curr
		curr, ok = m.nextAsOf(pred, ts0, reclEpoch)
	}
	if !ok {
		m.bumpRangeRestart()
		goto retry
	}

	return out
}

// nextAsOf resolves whatever currently sits immediately after pred in the
// live list to the node that occupied that position as of ts0.
func (m *Map[K, V]) nextAsOf(pred *node[K, V], ts0, reclEpoch uint64) (*node[K, V], bool) {
	succ := pred.Next().Succ
	return m.asOfSelf(succ, ts0, reclEpoch)
}

// asOfSelf resolves n to the node that occupied n's list position as of
// ts0: if n itself was already live by ts0 it is its own answer, otherwise
// the walk continues backward through n.VersionPred() — the node trim or
// Insert recorded as "whatever was here before me" — until it finds one
// old enough, or runs out of history (the position didn't exist yet at
// ts0). A false return means either that the walk touched a node outside
// the caller's pinned reclamation window or that it ran out of history; in
// both cases the whole query restarts from a fresh epoch sample.
func (m *Map[K, V]) asOfSelf(n *node[K, V], ts0, reclEpoch uint64) (*node[K, V], bool) {
	for {
		ts := m.settle(n)
		if !vbrnode.ValidTS(ts, reclEpoch) {
			return nil, false
		}
		if vbrnode.SnapshotTS(ts) <= ts0 {
			return n, true
		}
		pred := n.VersionPred()
		if pred == nil {
			return nil, false
		}
		n = pred
	}
}

// settle resolves a node's pending timestamp, spinning briefly to let the
// inserting thread finish stamping it (spec §4.6 step 1) before helping it
// along itself — FinalizeTS is idempotent, so helping never conflicts with
// the original installer. Like stampTS, it stamps with whatever the epoch
// currently is and never advances it itself.
func (m *Map[K, V]) settle(n *node[K, V]) uint64 {
	ts := n.TS()
	for i := 0; vbrnode.IsPending(ts) && i < m.backoffSpin; i++ {
		ts = n.TS()
	}
	if vbrnode.IsPending(ts) {
		ts = n.FinalizeTS(m.tsEpoch.Load())
	}
	return ts
}
