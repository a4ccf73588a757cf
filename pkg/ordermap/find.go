package ordermap

import "github.com/Voskan/ordermap/internal/vbrnode"

// find is the `find` primitive of spec §4.3: it returns (pred, curr,
// predLink) such that pred.Key < key <= curr.Key, physically unlinking any
// run of logically-deleted nodes it passes over on the way in a single
// trim call (spec §4.4). It restarts the whole traversal, re-sampling the
// reclamation epoch, whenever it observes a stale birth epoch or loses a
// trim race — the epoch is re-sampled at the top of every restart and
// nowhere else within one attempt.
//
// A node that is flagged but not (yet) marked is mid-trim by some other
// thread, acting as the successor half of that trim's succTag swap; find
// steps past it without advancing pred, since pred must keep pointing at
// the node whose link that other trim is about to replace.
//
// A shortcut pred handed back by the accelerator index is validated against
// the freshly-sampled reclamation epoch before it is trusted as a starting
// point, exactly as mvccvbr_skiplist.h does right after consulting its own
// index: the slab allocator can have retired and recycled that exact slot
// since the index last saw it, leaving Init's overwritten Key/Value/ts
// behind an unrelated identity.
func (m *Map[K, V]) find(tid int, key K) (pred, curr *node[K, V], predLink *link[K, V]) {
	m.bumpFind()

retry:
	reclEpoch := m.reclEpoch.Load()
	pred = m.head
	if m.index != nil {
		if p := m.index.FindPred(key); p != nil {
			pred = p
		}
	}
	if !vbrnode.ValidTS(pred.TS(), reclEpoch) {
		m.bumpFindRestart()
		goto retry
	}
	predLink = pred.Next()
	predNext := predLink.Succ
	if !vbrnode.ValidTS(predNext.TS(), reclEpoch) {
		m.bumpFindRestart()
		goto retry
	}
	curr = predNext

	for {
		currLink := curr.Next()
		for currLink.Mark {
			curr = currLink.Succ
			if !vbrnode.ValidTS(curr.TS(), reclEpoch) {
				m.bumpFindRestart()
				goto retry
			}
			currLink = curr.Next()
		}

		if !m.less(curr.Key, key) {
			break
		}

		if currLink.Flag {
			curr = currLink.Succ
			if !vbrnode.ValidTS(curr.TS(), reclEpoch) {
				m.bumpFindRestart()
				goto retry
			}
			continue
		}

		pred = curr
		predLink = currLink
		predNext = currLink.Succ
		if !vbrnode.ValidTS(predNext.TS(), reclEpoch) {
			m.bumpFindRestart()
			goto retry
		}
		curr = predNext
	}

	if predNext != curr {
		newLink, newCurr, ok := m.trim(tid, pred, predLink, predNext)
		if !ok {
			m.bumpFindRestart()
			goto retry
		}
		predLink = newLink
		curr = newCurr
		if !vbrnode.ValidTS(curr.TS(), reclEpoch) || m.less(curr.Key, key) {
			m.bumpFindRestart()
			goto retry
		}
	}

	return pred, curr, predLink
}

// trim physically unlinks the run of logically-deleted nodes starting at
// curr (known marked) from between pred and the first live node after
// that run, per the original mvccvbr_list.h `trim`. Rather than simply
// splicing pred straight to that live node (call it succ), it claims
// succ's own forward link (Flag) and installs a freshly-allocated copy of
// it — the "succTag" — whose version-chain predecessor is curr. That
// preserves the list position's history: a RangeQuery snapshot sampled
// before this trim can still roll curr's successor back through succTag to
// curr and recover whatever was actually live at this position at that
// instant (see asOfSelf in range.go).
//
// The tail sentinel is the one exception: it is never retired or tagged,
// since a permanent sentinel must never be subject to the same recycling
// discipline as an ordinary node.
//
// Returns the newly installed forward link and the node to resume
// traversal from on success, or (nil, nil, false) if it lost a race — the
// run grew a new live member, succ moved, or pred's link moved — in which
// case the caller must restart its whole find.
func (m *Map[K, V]) trim(tid int, pred *node[K, V], predLink *link[K, V], curr *node[K, V]) (*link[K, V], *node[K, V], bool) {
	reclEpoch := m.reclEpoch.Load()

	succ := curr
	succLink := curr.Next()
	for succLink.Mark {
		succ = succLink.Succ
		if !vbrnode.ValidTS(succ.TS(), reclEpoch) {
			return nil, nil, false
		}
		succLink = succ.Next()
	}

	if m.equal(succ.Key, m.KeyMax) {
		newLink := &link[K, V]{Succ: succ, Epoch: reclEpoch}
		if !pred.UpdateNext(predLink, newLink) {
			return nil, nil, false
		}
		m.retireRun(tid, curr, succ)
		return newLink, succ, true
	}

	succTS := m.settle(succ)
	flaggedSuccLink, ok := succ.Flag(succTS)
	if !ok {
		// A concurrent trimmer already claimed succ at this ts (or raced
		// us to a different ts); either way its replacement isn't visible
		// to us yet, so back off and let the caller restart.
		return nil, nil, false
	}

	succTag := vbrnode.Init(m.tc(tid).Alloc(), succ.Key, succ.Value, reclEpoch, flaggedSuccLink.Succ, curr)

	newLink := &link[K, V]{Succ: succTag, Epoch: reclEpoch}
	if !pred.UpdateNext(predLink, newLink) {
		m.tc(tid).Return(succTag)
		return nil, nil, false
	}

	m.stampTS(succTag)
	if m.index != nil {
		m.index.Remove(succ.Key)
		m.index.Insert(succTag, succTag.TS())
	}
	m.retireRun(tid, curr, succ)
	m.tc(tid).Retire(succ)
	return newLink, succTag, true
}

// retireRun retires every node from curr up to but excluding stop, and
// drops each from the accelerator index if present. curr==stop retires
// nothing, which is what happens when trim is handed a curr that is not
// marked (its succ is then curr itself).
func (m *Map[K, V]) retireRun(tid int, curr, stop *node[K, V]) {
	for n := curr; n != stop; n = n.Next().Succ {
		m.metrics.incTrim()
		if m.index != nil {
			m.index.Remove(n.Key)
		}
		m.tc(tid).Retire(n)
	}
}
