package ordermap

// config.go defines the internal configuration object and the set of
// functional options New accepts, following the same shape as the
// teacher's pkg/config.go: a config struct assembled by defaultConfig and
// mutated in place by each Option. Each With* option ignores out-of-range
// input itself; applyOptions only applies the options in order.
//
// © 2025 arena-cache authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/ordermap/internal/slabpool"
)

// Option mutates a Map's configuration at construction time. See New.
type Option[K any, V any] func(*config[K, V])

type config[K any, V any] struct {
	registry    *prometheus.Registry
	logger      *zap.Logger
	indexHash   func(K) uint64
	indexFreq   uint64
	useIndex    bool
	backoffSpin int
	cacheSize   int
}

func defaultConfig[K any, V any]() *config[K, V] {
	return &config[K, V]{
		logger:      zap.NewNop(),
		useIndex:    true,
		backoffSpin: 1000,
		cacheSize:   slabpool.DefaultCacheSize,
	}
}

// WithMetrics enables Prometheus metrics collection for the map instance.
// Passing nil disables metrics (default), mirroring the teacher's
// WithMetrics.
func WithMetrics[K any, V any](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The map stores the logger; no
// operation in this package writes to it.
func WithLogger[K any, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIndex toggles the skip-list accelerator of spec §4.7. Disabling it
// never changes observable behavior — the index is advisory — only how
// many hops `find` needs.
func WithIndex[K any, V any](enabled bool) Option[K, V] {
	return func(c *config[K, V]) { c.useIndex = enabled }
}

// WithIndexDensity configures the index's density filter (spec §9: "the
// skip-list index stores keys with a parity filter... a density heuristic,
// not a correctness requirement"). hash need not be cryptographic; freq==0
// disables the filter and indexes every key.
func WithIndexDensity[K any, V any](hash func(K) uint64, freq uint64) Option[K, V] {
	return func(c *config[K, V]) {
		c.indexHash = hash
		c.indexFreq = freq
	}
}

// WithBackoff tunes the bounded spin range_query uses while waiting for
// in-flight pending timestamps to settle (spec §4.6 step 1).
func WithBackoff[K any, V any](spin int) Option[K, V] {
	return func(c *config[K, V]) {
		if spin >= 0 {
			c.backoffSpin = spin
		}
	}
}

// WithCacheSize overrides the slab allocator's per-cache slot count
// (spec §4.1's "~64 slots", left as "a tuning parameter" by spec §9).
func WithCacheSize[K any, V any](entriesPerCache int) Option[K, V] {
	return func(c *config[K, V]) {
		if entriesPerCache > 0 {
			c.cacheSize = entriesPerCache
		}
	}
}

func applyOptions[K any, V any](cfg *config[K, V], opts []Option[K, V]) {
	for _, opt := range opts {
		opt(cfg)
	}
}

var (
	errInvalidThreads = errors.New("ordermap: numThreads must be > 0")
)
