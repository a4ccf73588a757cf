package slabpool

import (
	"testing"

	"github.com/Voskan/ordermap/internal/epoch"
)

type widget struct{ n int }

func newAllocator() *Allocator[widget] {
	return NewAllocator(epoch.NewCounter(0), 4, func() *widget { return &widget{} })
}

func TestAllocFallsBackToFreshWhenEmpty(t *testing.T) {
	a := newAllocator()
	tc := NewThreadCache(a)
	w := tc.Alloc()
	if w == nil {
		t.Fatal("Alloc returned nil")
	}
}

func TestRetireThenReuseBumpsEpoch(t *testing.T) {
	a := newAllocator()
	producer := NewThreadCache(a)

	var retired []*widget
	for i := 0; i < 4; i++ {
		w := producer.Alloc()
		retired = append(retired, w)
	}
	for _, w := range retired {
		producer.Retire(w)
	}
	// The free cache is exactly full (size 4); it should have been pushed
	// to the global stack with maxRetireEpoch == the epoch at retire time.
	if a.global.Load() == nil {
		t.Fatal("expected a full free cache to be pushed to the global stack")
	}

	before := a.Epoch.Load()
	consumer := NewThreadCache(a)
	for i := 0; i < 4; i++ {
		consumer.Alloc()
	}
	after := a.Epoch.Load()
	if after <= before {
		t.Fatalf("expected reclamation epoch to advance on reuse: before=%d after=%d", before, after)
	}
}

func TestReturnIsImmediatelyReusable(t *testing.T) {
	a := newAllocator()
	tc := NewThreadCache(a)
	w := tc.Alloc()
	before := a.Epoch.Load()
	tc.Return(w)
	w2 := tc.Alloc()
	if w2 != w {
		t.Fatal("Return should make the slot immediately reusable by the same thread")
	}
	if a.Epoch.Load() != before {
		t.Fatal("Return must not bump the reclamation epoch")
	}
}
