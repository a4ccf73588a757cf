// Package skipindex implements the optional skip-list accelerator of
// spec §4.7: a tower of tagged pointers over the ordered list, used purely
// to shortcut `find`'s linear descent. It honors the index capability
// contract from spec §9 ("Polymorphism"): `insert(node, ts)`, `remove(key)`,
// `find_pred(key) -> data_node`. Every operation is advisory — a failed
// insert/remove is silently tolerated, and a stale find_pred result only
// costs the caller a few extra list hops, never correctness, because the
// base ordered list (package vbrnode, traversed by pkg/ordermap) remains
// the source of truth.
//
// Level selection follows the geometric distribution used throughout the
// skip-list literature and ported here from lockfree_skiplist_impl.h /
// vcas_lockfree_skiplist.h in the retrieval pack's original_source.
//
// © 2025 arena-cache authors. MIT License.
package skipindex

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/Voskan/ordermap/internal/vbrnode"
)

// MaxLevel caps tower height. At p=0.5, 24 levels match skip lists of about
// 2^24 (roughly 16 million) entries.
const MaxLevel = 24

const levelProbability = 0.5

// shortcut is the tagged pointer from an index node to the data node it
// shortcuts, carrying the data node's ts so a concurrent scanner can detect
// a stale shortcut (spec §3, "Index node").
type shortcut[K any, V any] struct {
	data *vbrnode.Node[K, V]
	ts   uint64
}

// inode is one tower node. It carries no birth epoch of its own: the index
// is advisory and every shortcut is validated by the caller against the
// pointed-to data node's live ts (vbrnode.ValidTS), which is authoritative.
type inode[K any, V any] struct {
	key      K
	shortcut atomic.Pointer[shortcut[K, V]]
	levels   []atomic.Pointer[inode[K, V]]
}

// Index is the skip-list accelerator. Less must implement a strict weak
// order over K matching the order the base list is built in. Hash is
// optional: when non-nil it drives the density filter documented in
// spec §9 ("key % INDEX_FREQ == 0 is rejected... a density heuristic, not a
// correctness requirement"); when nil every inserted key is indexed.
type Index[K any, V any] struct {
	less func(a, b K) bool
	hash func(K) uint64
	freq uint64

	mu  sync.Mutex // guards rnd only; the tower itself is lock-free
	rnd *rand.Rand

	head *inode[K, V]
}

// New constructs an empty Index. keyMin must compare less than every real
// key; it backs the head sentinel. freq is the density-filter modulus
// (spec's INDEX_FREQ); pass 0 to index every key.
func New[K any, V any](less func(a, b K) bool, hash func(K) uint64, freq uint64, keyMin K) *Index[K, V] {
	head := &inode[K, V]{key: keyMin, levels: make([]atomic.Pointer[inode[K, V]], MaxLevel)}
	return &Index[K, V]{
		less: less,
		hash: hash,
		freq: freq,
		rnd:  rand.New(rand.NewSource(0xC0FFEE)),
		head: head,
	}
}

func (ix *Index[K, V]) randomLevel() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	lvl := 1
	for lvl < MaxLevel && ix.rnd.Float64() < levelProbability {
		lvl++
	}
	return lvl
}

// shouldIndex applies the density filter: a key is rejected (not indexed)
// when Hash is configured and key%freq == 0, matching the heuristic
// documented (and deliberately retained, not "fixed") in spec §9.
func (ix *Index[K, V]) shouldIndex(key K) bool {
	if ix.hash == nil || ix.freq == 0 {
		return true
	}
	return ix.hash(key)%ix.freq != 0
}

// findPredSucc walks every level top-down, returning at each level the last
// node with key < target and the node immediately after it.
func (ix *Index[K, V]) findPredSucc(key K) (preds, succs [MaxLevel]*inode[K, V]) {
	pred := ix.head
	for l := MaxLevel - 1; l >= 0; l-- {
		curr := pred.levels[l].Load()
		for curr != nil && ix.less(curr.key, key) {
			pred = curr
			curr = pred.levels[l].Load()
		}
		preds[l] = pred
		succs[l] = curr
	}
	return preds, succs
}

// Insert registers node in the index with the snapshot ts it was finalized
// at. A failure (lost CAS race, or the key is filtered by density) is
// silently tolerated — the caller never needs to check the result, per
// spec §4.7's advisory contract.
func (ix *Index[K, V]) Insert(node *vbrnode.Node[K, V], ts uint64) {
	if !ix.shouldIndex(node.Key) {
		return
	}
	level := ix.randomLevel()
	n := &inode[K, V]{key: node.Key, levels: make([]atomic.Pointer[inode[K, V]], level)}
	n.shortcut.Store(&shortcut[K, V]{data: node, ts: ts})

	preds, succs := ix.findPredSucc(node.Key)
	for l := 0; l < level; l++ {
		n.levels[l].Store(succs[l])
	}
	if !preds[0].levels[0].CompareAndSwap(succs[0], n) {
		return // lost the race; advisory, give up rather than retry
	}
	for l := 1; l < level; l++ {
		if !preds[l].levels[l].CompareAndSwap(succs[l], n) {
			// Upper levels are pure acceleration; a partial tower still
			// works (find_pred just descends one level further at l).
			break
		}
	}
}

// Remove unlinks key's index node, if present. Best-effort: a failed CAS at
// any level is left in place, since a dangling shortcut only ever slows a
// lookup down (it is validated against the data node's live ts by callers
// before being trusted).
func (ix *Index[K, V]) Remove(key K) {
	preds, succs := ix.findPredSucc(key)
	target := succs[0]
	if target == nil || ix.less(key, target.key) || ix.less(target.key, key) {
		return // not present
	}
	for l := len(target.levels) - 1; l >= 0; l-- {
		if l >= len(preds) {
			continue
		}
		next := target.levels[l].Load()
		preds[l].levels[l].CompareAndSwap(target, next)
	}
}

// FindPred returns some data node whose key is less than target, to be used
// as a starting point for the base list's own `find`. A nil result means
// "start from the base list's head" — always correct, just slower.
func (ix *Index[K, V]) FindPred(key K) *vbrnode.Node[K, V] {
	pred := ix.head
	for l := MaxLevel - 1; l >= 0; l-- {
		curr := pred.levels[l].Load()
		for curr != nil && ix.less(curr.key, key) {
			pred = curr
			curr = pred.levels[l].Load()
		}
	}
	if pred == ix.head {
		return nil
	}
	sc := pred.shortcut.Load()
	if sc == nil {
		return nil
	}
	return sc.data
}
