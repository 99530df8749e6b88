package replica

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// entry is one key's last-write-wins register: on a timestamp tie the
// higher Counter wins, and on a full tie the higher NodeID wins
// (lexicographic); see wins.
type entry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"ts"`
	Counter   uint64          `json:"counter"`
	NodeID    string          `json:"node"`
}

// wins reports whether other should replace e under last-write-wins
// ordering: later timestamp wins; on a timestamp tie, higher counter
// wins; on a full tie, higher NodeID wins (lexicographic).
func (e entry) wins(other entry) bool {
	if other.Timestamp.After(e.Timestamp) {
		return true
	}
	if !other.Timestamp.Equal(e.Timestamp) {
		return false
	}
	if other.Counter != e.Counter {
		return other.Counter > e.Counter
	}
	return other.NodeID > e.NodeID
}

// update is the wire form ApplyUpdate/local mutation produce: a set of
// key->entry assignments, so a single update can cover a batch edit.
type update struct {
	Entries map[string]entry `json:"entries"`
}

// LWWMap is a last-write-wins map CRDT: each key independently resolves
// concurrent writes by (timestamp, counter, nodeID), but
// the map itself needs no coordination across keys to merge.
type LWWMap struct {
	mu        sync.RWMutex
	nodeID    string
	data      map[string]entry
	observers []func(update []byte)
	clock     uint64 // local logical counter, breaks same-wallclock-tick ties
}

// NewLWWMap creates an empty map CRDT identified by nodeID (the server
// origin for locally-applied mutations).
func NewLWWMap(nodeID string) *LWWMap {
	return &LWWMap{nodeID: nodeID, data: make(map[string]entry)}
}

// Set assigns a JSON value at key, timestamped now, and notifies
// observers with the encoded single-key update (used for locally
// originated mutations, as opposed to ApplyUpdate which merges a
// remote update).
func (m *LWWMap) Set(key string, value json.RawMessage) error {
	m.mu.Lock()
	m.clock++
	next := entry{Value: value, Timestamp: timeNow(), Counter: m.clock, NodeID: m.nodeID}
	cur, ok := m.data[key]
	if !ok || cur.wins(next) {
		m.data[key] = next
	}
	u := update{Entries: map[string]entry{key: m.data[key]}}
	observers := append([]func([]byte){}, m.observers...)
	m.mu.Unlock()

	encoded, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("lwwmap: encode update: %w", err)
	}
	for _, fn := range observers {
		fn(encoded)
	}
	return nil
}

// Delete removes key by writing a tombstone (nil value) that still
// participates in LWW ordering, so a concurrent set can resurrect it.
func (m *LWWMap) Delete(key string) error {
	return m.Set(key, nil)
}

// Get returns the current value at key and whether it is present
// (a tombstone counts as absent).
func (m *LWWMap) Get(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.Value == nil {
		return nil, false
	}
	return e.Value, true
}

// timeNow is a var so tests can control ordering without sleeping for
// real wall-clock ticks between writes.
var timeNow = time.Now

// Snapshot returns the full map state JSON-encoded (doc_state, §3).
func (m *LWWMap) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := json.Marshal(update{Entries: m.data})
	if err != nil {
		return nil, fmt.Errorf("lwwmap: snapshot: %w", err)
	}
	return b, nil
}

// Load replaces the current state with a decoded snapshot without
// notifying observers. The group cache's initial load merges stored
// state through ApplyUpdate instead.
func (m *LWWMap) Load(snapshot []byte) error {
	var u update
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &u); err != nil {
			return fmt.Errorf("lwwmap: load: %w", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Entries == nil {
		u.Entries = map[string]entry{}
	}
	m.data = u.Entries
	return nil
}

// ApplyUpdate merges a remote update (produced by Set/Snapshot on any
// replica) into this one, key by key, LWW.
func (m *LWWMap) ApplyUpdate(raw []byte) error {
	var u update
	if err := json.Unmarshal(raw, &u); err != nil {
		return fmt.Errorf("lwwmap: decode update: %w", err)
	}

	m.mu.Lock()
	changed := false
	for key, remote := range u.Entries {
		cur, ok := m.data[key]
		if !ok || cur.wins(remote) {
			m.data[key] = remote
			changed = true
		}
	}
	observers := append([]func([]byte){}, m.observers...)
	m.mu.Unlock()

	if !changed {
		return nil
	}
	for _, fn := range observers {
		fn(raw)
	}
	return nil
}

// Observe registers fn to run after every successful mutation
// (local Set/Delete or remote ApplyUpdate that changed state).
func (m *LWWMap) Observe(fn func(update []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}
