// Package epoch holds the two process-wide counters the rest of ordermap
// coordinates around: the reclamation epoch (bumped when the slab allocator
// refills from a stale cache) and the timestamp epoch (bumped by range
// queries to stamp a new generation of snapshot timestamps).
//
// Neither counter ever moves backwards. Bumping either one is the fence that
// makes a previously-unsafe observation safe: a retired node can be reused
// once the reclamation epoch passes its retire epoch, and a node's pending
// timestamp can be finalized once the timestamp epoch it gets stamped with is
// published.
//
// © 2025 arena-cache authors. MIT License.
package epoch

import "sync/atomic"

// Counter is a monotonically increasing 64-bit counter with CAS-based bump.
type Counter struct {
	v atomic.Uint64
}

// NewCounter constructs a Counter starting at init.
func NewCounter(init uint64) *Counter {
	c := &Counter{}
	c.v.Store(init)
	return c
}

// Load returns the current value with acquire semantics.
func (c *Counter) Load() uint64 {
	return c.v.Load()
}

// CompareAndBump attempts to move the counter from exp to next. It returns
// the counter's value after the attempt: next on success, or whatever value
// a racing bump already installed. Callers never need to retry themselves —
// either outcome means the counter is now at least `next`-worthy for the
// purpose they bumped it for, or another thread already did the work.
func (c *Counter) CompareAndBump(exp, next uint64) uint64 {
	if c.v.CompareAndSwap(exp, next) {
		return next
	}
	return c.v.Load()
}

// Add atomically increments the counter by delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 {
	return c.v.Add(delta)
}

// TimestampStep is the amount range queries advance the timestamp epoch by.
// It must stay even: the least significant bit of a node's ts field is the
// pending flag and must never collide with a real snapshot timestamp value.
const TimestampStep = 2
