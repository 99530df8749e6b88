package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/config"
	"github.com/adred-codev/collabhub/internal/herr"
	"github.com/adred-codev/collabhub/internal/metrics"
	"github.com/adred-codev/collabhub/internal/replica"
	"github.com/rs/zerolog"
)

// StorageFactory creates the StoragePlugin for a newly created group.
// Supplied by the caller (normally package storage) so collab never
// imports storage (see storage_plugin.go).
type StorageFactory func(objectID string, repl replica.Replica, token Token) StoragePlugin

// registryLockAttempts/registryLockBackoff bound how hard GetOrCreate
// tries for the write lock before giving up and telling the caller to
// retry, rather than piling onto an already-contended registry.
const (
	registryLockAttempts = 5
	registryLockBackoff  = time.Millisecond
)

// Cache is the object_id -> Group registry. A single readers-writer
// lock guards the map; it is never held across a call that touches a
// Replica — get_or_create drops the lock before the (synchronous,
// cheap) initial-load kickoff, and remove_group drops it before
// calling Flush.
type Cache struct {
	mu     sync.RWMutex
	groups map[string]*Group

	arena          *Arena
	storageFactory StorageFactory
	access         *access.Holder
	timeoutCfg     config.TimeoutConfig
	broadcastCap   int
	metrics        *metrics.Registry
	logger         zerolog.Logger

	tickScanCursor []string // stable ordering for bounded-scan tie-breaking
}

// NewCache creates an empty Group Cache.
func NewCache(storageFactory StorageFactory, accessHolder *access.Holder, timeoutCfg config.TimeoutConfig, broadcastCap int, metricsRegistry *metrics.Registry, logger zerolog.Logger) *Cache {
	return &Cache{
		groups:         make(map[string]*Group),
		arena:          NewArena(),
		storageFactory: storageFactory,
		access:         accessHolder,
		timeoutCfg:     timeoutCfg,
		broadcastCap:   broadcastCap,
		metrics:        metricsRegistry,
		logger:         logger,
	}
}

// GetOrCreate returns the Group for objectID, creating it on first
// access. The new Replica is instantiated under the server origin, a
// Storage Plugin is attached and immediately loads initial state, and
// the Group is registered before being returned. If the registry write
// lock can't be acquired within a bounded number of attempts, it
// returns herr.RegistryBusy and the caller is expected to retry.
func (c *Cache) GetOrCreate(ctx context.Context, objectID string, typ CollabType) (*Group, error) {
	// The fast path only tries the read lock: a writer holding the
	// registry must not block this call indefinitely. If the read lock
	// is unavailable, the bounded write-lock attempt below decides.
	if c.mu.TryRLock() {
		if g, ok := c.groups[objectID]; ok {
			c.mu.RUnlock()
			return g, nil
		}
		c.mu.RUnlock()
	}

	if !c.tryLockWithRetry() {
		return nil, herr.RegistryBusy
	}
	// Re-check under the write lock: avoids a lost-update race between
	// two concurrent first-accesses.
	if g, ok := c.groups[objectID]; ok {
		c.mu.Unlock()
		return g, nil
	}

	token := c.arena.Issue()
	repl := replica.New("server")
	storagePlugin := c.storageFactory(objectID, repl, token)

	g := NewGroup(objectID, typ, c.timeoutCfg, repl, c.broadcastCap, storagePlugin, c.access, c.metrics, c.logger, token)
	c.groups[objectID] = g
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.GroupsActive.Inc()
	}

	initial, err := storagePlugin.LoadInitial(ctx)
	if err != nil {
		c.logger.Error().Err(err).Str("object_id", objectID).Msg("initial load failed")
		return g, herr.New(herr.Transient, "group_cache.get_or_create", err)
	}
	if len(initial) > 0 {
		if err := g.applyUpdate(broadcast.ServerOrigin, initial); err != nil {
			c.logger.Error().Err(err).Str("object_id", objectID).Msg("initial load merge failed")
			return g, herr.New(herr.Fatal, "group_cache.get_or_create", err)
		}
	}

	return g, nil
}

// tryLockWithRetry attempts the registry write lock up to
// registryLockAttempts times, sleeping registryLockBackoff between
// tries. Returns true with the lock held on success.
func (c *Cache) tryLockWithRetry() bool {
	for attempt := 0; attempt < registryLockAttempts; attempt++ {
		if c.mu.TryLock() {
			return true
		}
		time.Sleep(registryLockBackoff)
	}
	return false
}

// ContainsGroup reports whether objectID currently has a cached Group.
func (c *Cache) ContainsGroup(objectID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.groups[objectID]
	return ok
}

// ContainsUser reports whether uid has an active Subscription on
// objectID's Group.
func (c *Cache) ContainsUser(objectID, uid string) bool {
	c.mu.RLock()
	g, ok := c.groups[objectID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	_, ok = g.subs[uid]
	return ok
}

// RemoveUser detaches one Subscription; the Group survives for the
// reaper to decide.
func (c *Cache) RemoveUser(objectID, uid string) {
	c.mu.RLock()
	g, ok := c.groups[objectID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	g.subsMu.Lock()
	sub, ok := g.subs[uid]
	g.subsMu.Unlock()
	if ok {
		sub.Stop()
	}
}

// RemoveGroup takes the write lock, removes the entry, flushes the
// replica, then stops every Subscription in parallel, then notifies
// storage to evict its cache entry. The registry lock is dropped
// before Flush so it's never held across a call that touches a Replica.
func (c *Cache) RemoveGroup(ctx context.Context, objectID string) {
	c.mu.Lock()
	g, ok := c.groups[objectID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.groups, objectID)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.GroupsActive.Dec()
	}

	start := time.Now()
	if err := g.Flush(ctx, ""); err != nil {
		c.logger.Warn().Err(err).Str("object_id", objectID).Msg("flush on eviction failed")
		if c.metrics != nil {
			c.metrics.FlushErrors.Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveFlush(time.Since(start))
	}

	g.stopAllSubscriptions()
	g.storage.Evict(ctx)
	c.arena.Revoke(g.token)
}

// Tick scans up to maxPerTick groups and removes those for which
// IsInactive holds. Tie-breaking among candidates is arbitrary but
// stable within a single scan: groups are visited in sorted object_id
// order starting after the cursor left by the previous tick, so a
// large cache doesn't starve later ids.
func (c *Cache) Tick(ctx context.Context, maxPerTick int) int {
	c.mu.RLock()
	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	start := 0
	if len(c.tickScanCursor) == 1 {
		for i, id := range ids {
			if id > c.tickScanCursor[0] {
				start = i
				break
			}
		}
	}

	evicted := 0
	scanned := 0
	i := start
	for scanned < len(ids) && evicted < maxPerTick {
		id := ids[i%len(ids)]
		i++
		scanned++

		c.mu.RLock()
		g, ok := c.groups[id]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		if g.IsInactive() {
			c.RemoveGroup(ctx, id)
			if c.metrics != nil {
				c.metrics.ReaperEvictions.Inc()
			}
			evicted++
		}
		c.tickScanCursor = []string{id}
	}
	return evicted
}

// Run drives Tick on a fixed interval until ctx is canceled.
func (c *Cache) Run(ctx context.Context, interval time.Duration, maxPerTick int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx, maxPerTick)
		}
	}
}
