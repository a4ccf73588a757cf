package vbrnode

import "testing"

func TestPackUnpackTS(t *testing.T) {
	ts := packTS(7, 12345, true)
	if got := BirthEpoch(ts); got != 7 {
		t.Fatalf("BirthEpoch = %d, want 7", got)
	}
	if got := SnapshotTS(ts); got != 12345 {
		t.Fatalf("SnapshotTS = %d, want 12345", got)
	}
	if !IsPending(ts) {
		t.Fatal("expected pending bit set")
	}

	ts2 := packTS(7, 12345, false)
	if IsPending(ts2) {
		t.Fatal("expected pending bit clear")
	}
}

func TestFinalizeTSIdempotent(t *testing.T) {
	n := New[int, string](1, "a", 3, nil, nil)
	if !IsPending(n.TS()) {
		t.Fatal("newly constructed node should be pending")
	}
	first := n.FinalizeTS(42)
	if IsPending(first) {
		t.Fatal("expected pending cleared after finalize")
	}
	if SnapshotTS(first) != 42 {
		t.Fatalf("SnapshotTS = %d, want 42", SnapshotTS(first))
	}
	// A second finalize with a different value must be a no-op: idempotent.
	second := n.FinalizeTS(99)
	if second != first {
		t.Fatalf("FinalizeTS not idempotent: got %d, want %d", second, first)
	}
}

func TestMarkThenFlag(t *testing.T) {
	tail := New[int, string](100, "", 1, nil, nil)
	n := New[int, string](5, "v", 1, tail, tail)
	ts := n.FinalizeTS(10)

	if !n.Mark(ts) {
		t.Fatal("Mark should succeed on a live, finalized node")
	}
	if n.Mark(ts) {
		t.Fatal("double Mark must fail")
	}
	flagged, ok := n.Flag(ts)
	if !ok || flagged == nil {
		t.Fatal("Flag should succeed after Mark")
	}
	if !flagged.Mark || !flagged.Flag {
		t.Fatal("flagged link should preserve the mark bit and set flag")
	}
	if _, ok := n.Flag(ts); ok {
		t.Fatal("double Flag must fail")
	}
}

func TestValidTS(t *testing.T) {
	n := New[int, string](1, "a", 5, nil, nil)
	ts := n.TS()
	if !ValidTS(ts, 5) {
		t.Fatal("ts born at epoch 5 should be valid for observer at epoch 5")
	}
	if ValidTS(ts, 4) {
		t.Fatal("ts born at epoch 5 must be invalid for observer at epoch 4")
	}
	if !ValidTS(ts, 6) {
		t.Fatal("ts born at epoch 5 should remain valid for observer at later epoch")
	}
}
