package replica

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLWWMapSetGetDelete(t *testing.T) {
	m := NewLWWMap("node-a")

	if err := m.Set("k", json.RawMessage(`"v"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := m.Get("k")
	if !ok || string(v) != `"v"` {
		t.Fatalf("Get(k) = %q, %v; want \"v\", true", v, ok)
	}

	if err := m.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("Get(k) after Delete should report absent")
	}
}

func TestLWWMapSnapshotRoundTrip(t *testing.T) {
	m := NewLWWMap("node-a")
	m.Set("k1", json.RawMessage(`"v1"`))
	m.Set("k2", json.RawMessage(`42`))

	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := NewLWWMap("node-b")
	if err := restored.Load(snap); err != nil {
		t.Fatalf("Load: %v", err)
	}

	resnap, err := restored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot (restored): %v", err)
	}
	if string(resnap) != string(snap) {
		t.Fatalf("round-trip mismatch:\n  got  %s\n  want %s", resnap, snap)
	}
}

func TestLWWMapApplyUpdateConverges(t *testing.T) {
	a := NewLWWMap("node-a")
	b := NewLWWMap("node-b")

	a.Set("k", json.RawMessage(`"from-a"`))
	bUpdate, err := b.Snapshot()
	if err != nil {
		t.Fatalf("b.Snapshot: %v", err)
	}
	_ = bUpdate

	aSnap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("a.Snapshot: %v", err)
	}
	if err := b.ApplyUpdate(aSnap); err != nil {
		t.Fatalf("b.ApplyUpdate: %v", err)
	}

	v, ok := b.Get("k")
	if !ok || string(v) != `"from-a"` {
		t.Fatalf("b.Get(k) = %q, %v; want \"from-a\", true", v, ok)
	}
}

func TestLWWMapTwoClientConvergence(t *testing.T) {
	// Spec §8 scenario 1: A inserts {"k":"v"}, B inserts {"k2":"v2"}
	// concurrently; both converge to the union.
	a := NewLWWMap("node-a")
	b := NewLWWMap("node-b")

	a.Set("k", json.RawMessage(`"v"`))
	b.Set("k2", json.RawMessage(`"v2"`))

	aSnap, _ := a.Snapshot()
	bSnap, _ := b.Snapshot()

	if err := a.ApplyUpdate(bSnap); err != nil {
		t.Fatalf("a.ApplyUpdate(bSnap): %v", err)
	}
	if err := b.ApplyUpdate(aSnap); err != nil {
		t.Fatalf("b.ApplyUpdate(aSnap): %v", err)
	}

	for _, m := range []*LWWMap{a, b} {
		if v, ok := m.Get("k"); !ok || string(v) != `"v"` {
			t.Errorf("Get(k) = %q, %v; want \"v\", true", v, ok)
		}
		if v, ok := m.Get("k2"); !ok || string(v) != `"v2"` {
			t.Errorf("Get(k2) = %q, %v; want \"v2\", true", v, ok)
		}
	}
}

func TestLWWMapLaterTimestampWins(t *testing.T) {
	restore := timeNow
	defer func() { timeNow = restore }()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewLWWMap("node-a")

	timeNow = func() time.Time { return base }
	m.Set("k", json.RawMessage(`"old"`))

	timeNow = func() time.Time { return base.Add(time.Second) }
	m.Set("k", json.RawMessage(`"new"`))

	v, ok := m.Get("k")
	if !ok || string(v) != `"new"` {
		t.Fatalf("Get(k) = %q, %v; want \"new\", true", v, ok)
	}

	// Applying a remote update stamped earlier must not override the
	// later local write: LWW ordering is by timestamp, not arrival order.
	older := NewLWWMap("node-b")
	timeNow = func() time.Time { return base }
	older.Set("k", json.RawMessage(`"stale"`))
	staleSnap, _ := older.Snapshot()

	timeNow = func() time.Time { return base.Add(time.Second) }
	if err := m.ApplyUpdate(staleSnap); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if v, ok := m.Get("k"); !ok || string(v) != `"new"` {
		t.Fatalf("Get(k) after stale ApplyUpdate = %q, %v; want \"new\", true", v, ok)
	}
}

func TestLWWMapObserveFiresOnChange(t *testing.T) {
	m := NewLWWMap("node-a")
	var observed [][]byte
	m.Observe(func(update []byte) {
		observed = append(observed, update)
	})

	m.Set("k", json.RawMessage(`"v"`))
	if len(observed) != 1 {
		t.Fatalf("observed %d updates, want 1", len(observed))
	}
}
