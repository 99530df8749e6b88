package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/herr"
	"github.com/rs/zerolog"
)

// fakeLivenessToken is a hand-rolled LivenessToken double.
type fakeLivenessToken struct{ alive bool }

func (f fakeLivenessToken) Alive() bool { return f.alive }

// fakeSnapshotter is a hand-rolled snapshotter double that records
// whether Snapshot was ever called, so a test can prove Flush's
// early-return paths never touch the replica.
type fakeSnapshotter struct {
	calls int
	state []byte
	err   error
}

func (f *fakeSnapshotter) Snapshot() ([]byte, error) {
	f.calls++
	return f.state, f.err
}

// sql.Open only validates the driver name, not reachability, so a
// *Store built from a bogus DSN is safe to construct in a test as long
// as nothing actually queries it.
func newUnreachableStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("postgres://unreachable.invalid:5432/collab?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestPluginFlushNoopsWhenTokenDead(t *testing.T) {
	snap := &fakeSnapshotter{state: []byte(`{"entries":{}}`)}
	p := New("obj-1", newUnreachableStore(t), snap, access.NewHolder(), fakeLivenessToken{alive: false}, 1024, zerolog.Nop())

	if err := p.Flush(context.Background(), "u1"); err != nil {
		t.Fatalf("Flush on a dead token should return nil, got %v", err)
	}
	if snap.calls != 0 {
		t.Error("Flush should return before ever reading the replica snapshot once the token is dead")
	}
}

func TestPluginFlushDeniesUnauthorizedUID(t *testing.T) {
	snap := &fakeSnapshotter{state: []byte(`{"entries":{}}`)}
	holder := access.NewHolder() // denies everything
	p := New("obj-1", newUnreachableStore(t), snap, holder, fakeLivenessToken{alive: true}, 1024, zerolog.Nop())

	err := p.Flush(context.Background(), "u1")
	if !herr.Is(err, herr.PermissionDenied) {
		t.Fatalf("Flush with no grant should fail with PermissionDenied, got %v", err)
	}
	if !errors.Is(err, herr.PermissionRevoked) {
		t.Fatalf("Flush should surface the PermissionRevoked sentinel, got %v", err)
	}
	if snap.calls != 0 {
		t.Error("Flush should check access before reading the replica snapshot")
	}
}

func TestPluginFlushSkipsAccessCheckForServerOrigin(t *testing.T) {
	// An empty uid (threshold/eviction-triggered flush) bypasses the
	// access check entirely, even against a holder that denies everyone.
	snap := &fakeSnapshotter{err: errors.New("boom")}
	holder := access.NewHolder()
	p := New("obj-1", newUnreachableStore(t), snap, holder, fakeLivenessToken{alive: true}, 1024, zerolog.Nop())

	err := p.Flush(context.Background(), "")
	if err == nil {
		t.Fatal("expected Flush to surface the snapshot error")
	}
	if snap.calls != 1 {
		t.Fatalf("snapshot calls = %d, want 1 (access check bypassed for empty uid)", snap.calls)
	}
}

func TestPluginAccumulateUpdateTracksBytesBelowThreshold(t *testing.T) {
	snap := &fakeSnapshotter{}
	p := New("obj-1", newUnreachableStore(t), snap, access.NewHolder(), fakeLivenessToken{alive: true}, 1024, zerolog.Nop())

	p.AccumulateUpdate([]byte("short update"))

	if got := p.accumulated.Len(); got != len("short update") {
		t.Fatalf("accumulated.Len() = %d, want %d", got, len("short update"))
	}
	if snap.calls != 0 {
		t.Error("AccumulateUpdate below the flush threshold must not trigger a flush")
	}
}

func TestPluginEvictResetsAccumulatedBuffer(t *testing.T) {
	p := New("obj-1", newUnreachableStore(t), &fakeSnapshotter{}, access.NewHolder(), fakeLivenessToken{alive: true}, 1024, zerolog.Nop())
	p.AccumulateUpdate([]byte("pending"))
	if p.accumulated.Len() == 0 {
		t.Fatal("sanity: expected bytes to be accumulated")
	}

	p.Evict(context.Background())

	if p.accumulated.Len() != 0 {
		t.Error("Evict should reset the accumulated buffer")
	}
}
