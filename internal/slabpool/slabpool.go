// Package slabpool implements the slab allocator and reclamation layer of
// spec §4.1: per-thread caches of fixed-size slots, refilled from and
// drained to a lock-free global stack of caches, gated by a shared
// reclamation epoch.
//
// The original design (see Allocator.h / AllocCache.h in the retrieval
// pack's original_source) carves slots out of one preallocated off-heap
// arena so that reuse never touches the allocator. This port keeps the same
// cache/epoch protocol but backs each slot with an ordinary Go heap
// allocation: the teacher repository's own off-heap arena package requires
// building with GOEXPERIMENT=arenas, a non-default toolchain configuration,
// so it is not a safe foundation for a library meant to `go get` cleanly
// (see DESIGN.md). The cache/epoch bookkeeping — the part spec §4.1 actually
// specifies — is unchanged.
//
// © 2025 arena-cache authors. MIT License.
package slabpool

import (
	"sync/atomic"

	"github.com/Voskan/ordermap/internal/epoch"
	"github.com/Voskan/ordermap/internal/unsafehelpers"
)

// DefaultCacheSize mirrors the original ENTRIES_PER_CACHE constant: the
// number of slots carried by one cache frame. spec §9 leaves the intended
// upper bound on live+retired nodes unspecified and calls it "a tuning
// parameter" — this is that parameter's default.
const DefaultCacheSize = 64

// cache is one fixed-capacity frame of slots, used both as an "alloc cache"
// (slots ready to hand out) and a "free cache" (slots just retired, not yet
// pushed to the global stack). The two roles share a type because a frame
// transitions between them over its lifetime: filled by retire, pushed to
// the global stack, later popped and drained by alloc.
type cache[T any] struct {
	next           atomic.Pointer[cache[T]] // global Treiber-stack link
	slots          []*T
	n              int // number of valid entries in slots[:n]
	maxRetireEpoch uint64
}

func newCache[T any](size int) *cache[T] {
	return &cache[T]{slots: make([]*T, size)}
}

func (c *cache[T]) isFull() bool  { return c.n == len(c.slots) }
func (c *cache[T]) isEmpty() bool { return c.n == 0 }

// Allocator owns the global cache stack and the shared reclamation epoch.
// One Allocator is created per node type per map instance and shared by all
// of that map's per-thread ThreadCaches.
type Allocator[T any] struct {
	Epoch     *epoch.Counter
	global    atomic.Pointer[cache[T]]
	cacheSize int
	newFn     func() *T
}

// NewAllocator constructs an Allocator. newFn fabricates a fresh zero-value
// T; it is only invoked when the global stack is empty, i.e. under the same
// circumstances spec §4.1 describes as "infinite global pool" — Go's heap
// plays that role here instead of a preallocated arena.
func NewAllocator[T any](reclEpoch *epoch.Counter, cacheSize int, newFn func() *T) *Allocator[T] {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	// Round up to a power of two so a cache frame's fill level divides
	// evenly for diagnostics and so frame-sized batches never straddle an
	// awkward remainder.
	cacheSize = int(unsafehelpers.NextPowerOfTwo(uint64(cacheSize)))
	return &Allocator[T]{Epoch: reclEpoch, cacheSize: cacheSize, newFn: newFn}
}

func (a *Allocator[T]) popGlobal() *cache[T] {
	for {
		head := a.global.Load()
		if head == nil {
			return nil
		}
		next := head.next.Load()
		if a.global.CompareAndSwap(head, next) {
			head.next.Store(nil)
			return head
		}
	}
}

func (a *Allocator[T]) pushGlobal(c *cache[T]) {
	for {
		head := a.global.Load()
		c.next.Store(head)
		if a.global.CompareAndSwap(head, c) {
			return
		}
	}
}

// ThreadCache is the per-thread front end onto an Allocator: one alloc
// frame to pop slots from, one free frame to push retired slots into.
// Not safe for concurrent use by more than one logical thread — that
// matches spec §5's "per-thread caches are not shared and need no
// synchronization."
type ThreadCache[T any] struct {
	a     *Allocator[T]
	alloc *cache[T]
	free  *cache[T]
}

// NewThreadCache binds a ThreadCache to an Allocator. Call once per logical
// thread before that thread issues any Alloc/Retire calls (spec's
// `init_thread`).
func NewThreadCache[T any](a *Allocator[T]) *ThreadCache[T] {
	return &ThreadCache[T]{a: a}
}

// Alloc returns a zero-sized T slot, per spec §4.1. It pops from the local
// alloc frame; on local exhaustion it pops a frame from the global stack,
// bumping the reclamation epoch first if that frame's slots were retired at
// the current epoch (so any reader still holding a stale epoch sample is
// guaranteed to detect the reuse via the birth-epoch check in vbrnode).
func (tc *ThreadCache[T]) Alloc() *T {
	for {
		if tc.alloc != nil && !tc.alloc.isEmpty() {
			tc.alloc.n--
			return tc.alloc.slots[tc.alloc.n]
		}
		c := tc.a.popGlobal()
		if c == nil {
			return tc.a.newFn()
		}
		cur := tc.a.Epoch.Load()
		if c.maxRetireEpoch == cur {
			tc.a.Epoch.CompareAndBump(cur, cur+1)
		}
		tc.alloc = c
	}
}

// Retire returns p to the pool. It is safe to call the moment no other
// thread can begin using p via a live pointer, provided every such thread
// observes an epoch bump before the slot is handed back out — which Alloc
// guarantees by constructing.
func (tc *ThreadCache[T]) Retire(p *T) {
	if tc.free == nil {
		tc.free = newCache[T](tc.a.cacheSize)
	}
	retireEpoch := tc.a.Epoch.Load()
	tc.free.slots[tc.free.n] = p
	tc.free.n++
	if retireEpoch > tc.free.maxRetireEpoch {
		tc.free.maxRetireEpoch = retireEpoch
	}
	if tc.free.isFull() {
		tc.a.pushGlobal(tc.free)
		tc.free = nil
	}
}

// Return gives back a slot that was allocated but never published (e.g. an
// optimistic insert that lost its CAS race). Because no other thread ever
// observed it, it can be handed out again immediately without waiting on an
// epoch bump.
func (tc *ThreadCache[T]) Return(p *T) {
	if tc.alloc == nil {
		tc.alloc = newCache[T](tc.a.cacheSize)
	}
	if tc.alloc.isFull() {
		// Rare: just drop it into the free path instead of growing the frame.
		tc.Retire(p)
		return
	}
	tc.alloc.slots[tc.alloc.n] = p
	tc.alloc.n++
}

// Drain pushes whatever partially-filled frames this thread is holding back
// onto the global stack, regardless of fill level, and forgets them. Called
// by `deinit_thread` (spec §6) so capacity a thread was hoarding becomes
// available to others immediately instead of waiting for GC.
func (tc *ThreadCache[T]) Drain() {
	if tc.alloc != nil && !tc.alloc.isEmpty() {
		tc.a.pushGlobal(tc.alloc)
	}
	tc.alloc = nil
	if tc.free != nil && !tc.free.isEmpty() {
		tc.free.maxRetireEpoch = tc.a.Epoch.Load()
		tc.a.pushGlobal(tc.free)
	}
	tc.free = nil
}
