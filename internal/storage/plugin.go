// Package storage implements the Storage Plugin: the bridge between
// one object's in-memory Replica and durable storage.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/herr"
)

// LivenessToken reports whether the Group a Plugin was created for is
// still cached. collab.Token satisfies this structurally, so storage
// never imports collab: a Plugin holds only this interface as its weak
// reference back to the Group, not the Group itself.
type LivenessToken interface {
	Alive() bool
}

// Store wraps the persistence layer's three tables: collab_doc_state,
// workspace_member, collab_member (the latter two are read by
// access.Adapter, not Plugin).
type Store struct {
	db *sql.DB
}

// NewStore opens the Postgres connection backing collab_doc_state.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// LoadDocState fetches the persisted doc_state for objectID, returning
// (nil, nil) if no row exists yet (a brand-new object).
func (s *Store) LoadDocState(ctx context.Context, objectID string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc_state FROM collab_doc_state WHERE object_id = $1`, objectID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveDocState upserts objectID's doc_state. Writing the same bytes
// twice leaves the row unchanged, so a repeated flush with no
// intervening update is a no-op on the stored state.
func (s *Store) SaveDocState(ctx context.Context, objectID string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collab_doc_state (object_id, doc_state)
		VALUES ($1, $2)
		ON CONFLICT (object_id) DO UPDATE SET doc_state = EXCLUDED.doc_state
	`, objectID, state)
	return err
}

// snapshotter is the subset of replica.Replica a Plugin needs to read
// the current state at flush time.
type snapshotter interface {
	Snapshot() ([]byte, error)
}

// Plugin is attached to each Replica on group creation.
type Plugin struct {
	objectID string
	store    *Store
	repl     snapshotter
	access   *access.Holder
	token    LivenessToken
	logger   zerolog.Logger

	flushThreshold int

	mu          sync.Mutex
	accumulated bytes.Buffer
	lastFlushed []byte // last bytes successfully written
}

// New creates a Plugin for objectID. repl is the Replica this Plugin
// observes (via the Group's Observe hook, wired by the caller);
// flushThreshold is the accumulated-byte count that triggers an
// implicit flush.
func New(objectID string, store *Store, repl snapshotter, accessHolder *access.Holder, token LivenessToken, flushThreshold int, logger zerolog.Logger) *Plugin {
	return &Plugin{
		objectID:       objectID,
		store:          store,
		repl:           repl,
		access:         accessHolder,
		token:          token,
		flushThreshold: flushThreshold,
		logger:         logger.With().Str("object_id", objectID).Logger(),
	}
}

// LoadInitial fetches the durable doc_state for this object.
func (p *Plugin) LoadInitial(ctx context.Context) ([]byte, error) {
	return p.store.LoadDocState(ctx, p.objectID)
}

// AccumulateUpdate records an applied update's bytes toward the next
// flush, and triggers an implicit flush once the threshold is crossed.
// The implicit flush runs in its own goroutine using the server origin:
// a threshold-triggered flush is not attributable to any one connected
// client, so it skips the per-flush access check that an explicit
// client-driven flush would apply.
func (p *Plugin) AccumulateUpdate(update []byte) {
	p.mu.Lock()
	p.accumulated.Write(update)
	overThreshold := p.flushThreshold > 0 && p.accumulated.Len() >= p.flushThreshold
	p.mu.Unlock()

	if overThreshold {
		go func() {
			if err := p.Flush(context.Background(), ""); err != nil {
				p.logger.Warn().Err(err).Msg("threshold-triggered flush failed")
			}
		}()
	}
}

// Flush writes the replica's current snapshot to storage if uid (when
// non-empty) still holds Write on the object. An empty uid is used for
// server-driven flushes (eviction, threshold) that are not gated by a
// specific user's permissions.
//
// Explicit and eviction flushes arrive through Group.Flush, which holds
// the replica lock for the duration, so they never overlap a mutation.
// The threshold-triggered flush started by AccumulateUpdate calls Flush
// directly without the replica lock; it can run while a further update
// is being applied, and its Snapshot captures the replica's state either
// before or after that update.
func (p *Plugin) Flush(ctx context.Context, uid string) error {
	if !p.token.Alive() {
		// The group was reaped before this (possibly delayed) flush
		// ran; writing now would resurrect state for an object no
		// longer cached. Drop it silently.
		return nil
	}

	if uid != "" && !p.access.Check(uid, access.Collab(p.objectID), access.Write) {
		return herr.PermissionRevoked
	}

	state, err := p.repl.Snapshot()
	if err != nil {
		return herr.New(herr.Fatal, "storage.flush", err)
	}

	if err := p.store.SaveDocState(ctx, p.objectID, state); err != nil {
		return herr.New(herr.Transient, "storage.flush", err)
	}

	p.mu.Lock()
	p.accumulated.Reset()
	p.lastFlushed = state
	p.mu.Unlock()

	return nil
}

// Evict drops this plugin's accumulated-but-unflushed buffer; called
// once by the Group Cache when the group is reaped.
func (p *Plugin) Evict(ctx context.Context) {
	p.mu.Lock()
	p.accumulated.Reset()
	p.mu.Unlock()
}
