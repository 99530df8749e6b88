// Package collab implements the core of the realtime collaboration hub:
// the Group Cache registry, per-object Group, and per-client
// Subscription.
package collab

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/config"
	"github.com/adred-codev/collabhub/internal/metrics"
	"github.com/adred-codev/collabhub/internal/replica"
	"github.com/rs/zerolog"
)

// Group owns exactly one Replica for one object, plus the Broadcast
// handle and the subscribers mapping.
type Group struct {
	ObjectID   string
	Type       CollabType
	timeoutCfg config.TimeoutConfig

	replicaMu sync.Mutex // enforces single-writer access to repl
	repl      replica.Replica

	bcast   *broadcast.Broadcast
	storage StoragePlugin
	access  *access.Holder
	logger  zerolog.Logger

	subsMu sync.Mutex
	subs   map[string]*Subscription // uid -> Subscription: at most one live subscription per user

	modifiedAt atomic.Int64 // unix nanos, bumped on every applied update

	token Token // this group's liveness token, revoked on eviction

	// applyingOrigin holds the author of the update currently being
	// merged into the replica. It's only ever read from the Observe
	// callback, which the replica invokes synchronously from inside
	// ApplyUpdate while replicaMu is still held by the same goroutine,
	// so the write here always happens-before the matching read.
	applyingOrigin broadcast.Origin
}

// NewGroup constructs a Group and attaches its storage plugin, but does
// not perform the initial load itself — callers (the Group Cache) drive
// that via LoadInitial before admitting the first Subscription.
func NewGroup(objectID string, typ CollabType, timeoutCfg config.TimeoutConfig, repl replica.Replica, bcastCap int, storage StoragePlugin, accessHolder *access.Holder, metricsRegistry *metrics.Registry, logger zerolog.Logger, token Token) *Group {
	g := &Group{
		ObjectID:       objectID,
		Type:           typ,
		timeoutCfg:     timeoutCfg,
		repl:           repl,
		bcast:          broadcast.New(bcastCap, metricsRegistry),
		storage:        storage,
		access:         accessHolder,
		logger:         logger.With().Str("object_id", objectID).Str("collab_type", typ.String()).Logger(),
		subs:           make(map[string]*Subscription),
		token:          token,
		applyingOrigin: broadcast.ServerOrigin,
	}
	g.touch()

	repl.Observe(func(update []byte) {
		g.touch()
		g.storage.AccumulateUpdate(update)
		g.bcast.Emit(broadcast.Message{Kind: broadcast.Update, Origin: g.applyingOrigin, Payload: update})
	})

	return g
}

func (g *Group) touch() { g.modifiedAt.Store(time.Now().UnixNano()) }

// ModifiedAt returns the instant of the last successful CRDT apply.
func (g *Group) ModifiedAt() time.Time {
	return time.Unix(0, g.modifiedAt.Load())
}

// IsInactive reports whether this group should be reaped: either it
// has no subscribers, or it has been silent longer than its type's
// timeout. A group with active-but-silent subscribers is still
// reapable — clients that are merely connected but idle can always
// reconnect and reload the document from storage.
func (g *Group) IsInactive() bool {
	g.subsMu.Lock()
	n := len(g.subs)
	g.subsMu.Unlock()
	if n == 0 {
		return true
	}
	return time.Since(g.ModifiedAt()) > g.Type.Timeout(g.timeoutCfg)
}

// Sink is the transport-facing outbound destination a Subscription
// forwards broadcast traffic to.
type Sink interface {
	Send(msg broadcast.Message) error
	Close() error
}

// Subscribe registers a new client. It is cheap and never blocks on
// the replica: attaching to the broadcast and starting the two pump
// goroutines is all that happens synchronously. If origin.UID already
// has a Subscription, it is stopped first (replace semantics — a user
// is never subscribed twice).
func (g *Group) Subscribe(origin broadcast.Origin, inbound <-chan InboundMessage, sink Sink, accessObject access.Object) *Subscription {
	g.subsMu.Lock()
	if prior, ok := g.subs[origin.UID]; ok {
		g.subsMu.Unlock()
		prior.Stop()
		g.subsMu.Lock()
	}

	sub := newSubscription(g, origin, inbound, sink, accessObject)
	g.subs[origin.UID] = sub
	g.subsMu.Unlock()

	sub.start()
	return sub
}

// removeSubscription detaches sub from the subscriber map if it is
// still the one registered for its uid (a newer Subscribe may have
// already replaced it).
func (g *Group) removeSubscription(sub *Subscription) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	if cur, ok := g.subs[sub.Origin.UID]; ok && cur == sub {
		delete(g.subs, sub.Origin.UID)
	}
}

// SubscriberCount returns the number of distinct users currently
// subscribed.
func (g *Group) SubscriberCount() int {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	return len(g.subs)
}

// applyUpdate merges an inbound update under the replica lock. origin
// is stamped on the broadcast message the Observe hook emits for this
// update, so the authoring subscription's own outbound loop can filter
// its echo back out.
func (g *Group) applyUpdate(origin broadcast.Origin, update []byte) error {
	g.replicaMu.Lock()
	defer g.replicaMu.Unlock()
	g.applyingOrigin = origin
	return g.repl.ApplyUpdate(update)
}

// Flush acquires the replica lock and asks the storage plugin to
// persist the current state, so a flush never races a concurrent
// mutation on the same replica.
func (g *Group) Flush(ctx context.Context, uid string) error {
	g.replicaMu.Lock()
	defer g.replicaMu.Unlock()
	return g.storage.Flush(ctx, uid)
}

// EncodeV1 returns a snapshot of the current replica state for
// diagnostics/REST.
func (g *Group) EncodeV1() ([]byte, error) {
	g.replicaMu.Lock()
	defer g.replicaMu.Unlock()
	return g.repl.Snapshot()
}

// stopAllSubscriptions stops every Subscription in parallel, used by
// the Group Cache when evicting a group.
func (g *Group) stopAllSubscriptions() {
	g.subsMu.Lock()
	subs := make([]*Subscription, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.subsMu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}
