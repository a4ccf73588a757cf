// Package ordermap implements a concurrent ordered map with linearizable
// range queries: a lock-free sorted linked structure (optionally
// accelerated by a skip-list index), a multi-version chain letting a
// concurrent scanner walk a consistent historical snapshot, and an
// epoch-based reclamation layer that lets nodes be recycled from a bounded
// per-thread pool without a reader ever observing torn or reincarnated
// state.
//
// The three subsystems are internal/vbrnode (the versioned node and its
// tagged-pointer primitives), internal/slabpool (the allocator and
// reclamation epoch), and this package's find/trim/range traversal logic,
// which is where they interact. See SPEC_FULL.md for the full design.
//
// © 2025 arena-cache authors. MIT License.
package ordermap

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/ordermap/internal/epoch"
	"github.com/Voskan/ordermap/internal/skipindex"
	"github.com/Voskan/ordermap/internal/slabpool"
	"github.com/Voskan/ordermap/internal/vbrnode"
)

type node[K any, V any] = vbrnode.Node[K, V]
type link[K any, V any] = vbrnode.Link[K, V]

// Map is one instance of the concurrent ordered map. K must be totally
// ordered under less; V admits the sentinel NoValue. Construct with New.
type Map[K any, V any] struct {
	less    func(a, b K) bool
	KeyMin  K
	KeyMax  K
	NoValue V

	head *node[K, V]
	tail *node[K, V]

	reclEpoch *epoch.Counter
	tsEpoch   *epoch.Counter

	alloc *slabpool.Allocator[node[K, V]]
	index *skipindex.Index[K, V]

	metrics     metricsSink
	logger      *zap.Logger
	backoffSpin int

	// Plain counters mirroring a subset of metrics, kept independently of
	// the (optionally disabled) Prometheus sink so DebugSnapshot always has
	// something to report — mirrors the teacher's shard.hits/misses/
	// evictions sitting alongside its own Prometheus metrics.
	findsTotal         atomic.Uint64
	findRestartsTotal  atomic.Uint64
	rangeRestartsTotal atomic.Uint64

	mu      sync.Mutex
	tcaches []*slabpool.ThreadCache[node[K, V]]
}

// New constructs a Map ready for numThreads logical threads of execution.
// keyMin/keyMax are the sentinels spec.md calls KEY_MIN/KEY_MAX — they must
// compare strictly less than / greater than every key ever inserted.
// noValue is returned from lookups that find nothing. less must implement a
// strict total order over K (see SPEC_FULL.md §6 for why Go needs this
// explicit, unlike the original's ambient operator<).
func New[K any, V any](numThreads int, keyMin, keyMax K, noValue V, less func(a, b K) bool, opts ...Option[K, V]) (*Map[K, V], error) {
	if numThreads <= 0 {
		return nil, errInvalidThreads
	}

	cfg := defaultConfig[K, V]()
	applyOptions(cfg, opts)

	reclEpoch := epoch.NewCounter(0)
	tsEpoch := epoch.NewCounter(epoch.TimestampStep)

	m := &Map[K, V]{
		less:        less,
		KeyMin:      keyMin,
		KeyMax:      keyMax,
		NoValue:     noValue,
		reclEpoch:   reclEpoch,
		tsEpoch:     tsEpoch,
		logger:      cfg.logger,
		backoffSpin: cfg.backoffSpin,
		tcaches:     make([]*slabpool.ThreadCache[node[K, V]], numThreads),
	}
	m.alloc = slabpool.NewAllocator(reclEpoch, cfg.cacheSize, func() *node[K, V] { return &node[K, V]{} })
	m.metrics = newMetricsSink(cfg.registry)
	if cfg.useIndex {
		m.index = skipindex.New[K, V](less, cfg.indexHash, cfg.indexFreq, keyMin)
	}

	// Sentinels are permanent for the life of the map and never retired,
	// so they are built directly rather than through the slab allocator.
	m.tail = vbrnode.New[K, V](keyMax, noValue, 0, nil, nil)
	m.tail.FinalizeTS(tsEpoch.Load())
	m.head = vbrnode.New[K, V](keyMin, noValue, 0, m.tail, nil)
	m.head.FinalizeTS(tsEpoch.Load())

	// Advance one step past the sentinels' own stamp, so nodes inserted
	// before the first RangeQuery are stamped later than the sentinels.
	// RangeQuery still bumps the epoch once itself on every call (see
	// range.go), the first call included.
	tsEpoch.Add(epoch.TimestampStep)

	return m, nil
}

// InitThread binds per-thread allocator state to tid. Must precede any
// other call made with that tid (spec §6).
func (m *Map[K, V]) InitThread(tid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tid < 0 || tid >= len(m.tcaches) {
		return
	}
	if m.tcaches[tid] == nil {
		m.tcaches[tid] = slabpool.NewThreadCache(m.alloc)
	}
}

// DeinitThread returns tid's held caches to the global pool.
func (m *Map[K, V]) DeinitThread(tid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tid < 0 || tid >= len(m.tcaches) || m.tcaches[tid] == nil {
		return
	}
	m.tcaches[tid].Drain()
	m.tcaches[tid] = nil
}

func (m *Map[K, V]) tc(tid int) *slabpool.ThreadCache[node[K, V]] {
	return m.tcaches[tid]
}

func (m *Map[K, V]) bumpFind() {
	m.metrics.incFind()
	m.findsTotal.Add(1)
	m.metrics.setReclamationEpoch(m.reclEpoch.Load())
	m.metrics.setTimestampEpoch(m.tsEpoch.Load())
}

func (m *Map[K, V]) bumpFindRestart() {
	m.metrics.incFindRestart()
	m.findRestartsTotal.Add(1)
}

func (m *Map[K, V]) bumpRangeRestart() {
	m.metrics.incRangeRestart()
	m.rangeRestartsTotal.Add(1)
}

// DebugSize walks the live list and counts keys in (KeyMin, KeyMax). It is
// O(n) and intended for diagnostics (cmd/ordermap-inspect, tests), not the
// hot path — mirrors the teacher's Cache.Len().
func (m *Map[K, V]) DebugSize() int {
	count := 0
	curr := m.head.Next().Succ
	for m.less(curr.Key, m.KeyMax) {
		if !curr.Next().Mark {
			count++
		}
		curr = curr.Next().Succ
	}
	return count
}

// ReclamationEpoch exposes the current reclamation epoch, for diagnostics.
func (m *Map[K, V]) ReclamationEpoch() uint64 { return m.reclEpoch.Load() }

// TimestampEpoch exposes the current timestamp epoch, for diagnostics.
func (m *Map[K, V]) TimestampEpoch() uint64 { return m.tsEpoch.Load() }

// DebugSnapshot returns a subset of the counters metrics.go also forwards to
// Prometheus, readable regardless of whether WithMetrics was configured —
// mirrors the teacher's shard.statsSnapshot(), which exists for the same
// reason (atomic counters read without touching the Prometheus registry).
func (m *Map[K, V]) DebugSnapshot() (findsTotal, findRestartsTotal, rangeRestartsTotal uint64) {
	return m.findsTotal.Load(), m.findRestartsTotal.Load(), m.rangeRestartsTotal.Load()
}

// Registerer is an alias of prometheus.Registerer, which *prometheus.Registry
// satisfies. No function in this package takes a Registerer: WithMetrics
// takes a *prometheus.Registry.
type Registerer = prometheus.Registerer
