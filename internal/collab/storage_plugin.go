package collab

import "context"

// StoragePlugin is the contract a Group holds to persist its Replica.
// The concrete implementation lives in package storage; this interface
// exists so collab never imports storage, avoiding an import cycle
// with the liveness token Group hands back to it.
type StoragePlugin interface {
	// LoadInitial fetches the durable doc_state and returns it for the
	// new Replica to merge before any Subscription is admitted.
	LoadInitial(ctx context.Context) ([]byte, error)
	// AccumulateUpdate records an applied update's bytes for the next
	// flush; it never blocks and never fails.
	AccumulateUpdate(update []byte)
	// Flush writes accumulated deltas to durable storage, checking that
	// uid still holds Write on the object first.
	Flush(ctx context.Context, uid string) error
	// Evict is called once, when the group is reaped, to drop any
	// storage-side in-memory cache entry for the object.
	Evict(ctx context.Context)
}
