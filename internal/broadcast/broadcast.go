// Package broadcast implements the per-group fan-out channel: every
// applied CRDT update is pushed once and multiplexed to every
// subscriber's outbound sink, in the order it was applied.
package broadcast

import (
	"sync"

	"github.com/adred-codev/collabhub/internal/metrics"
)

// MessageKind distinguishes the variants carried on the broadcast
// channel.
type MessageKind int

const (
	Init MessageKind = iota
	Update
	AwarenessUpdate
	Ack
	Resync // sent to a subscriber whose buffer overflowed and lost entries
)

// Message is one entry on a group's broadcast stream.
type Message struct {
	Kind    MessageKind
	Origin  Origin
	Payload []byte
}

// Origin identifies the author of an update: a client and its device.
// The server origin uses a fixed DeviceID so echo suppression and
// storage-plugin local writes are distinguishable from real clients.
type Origin struct {
	UID      string
	DeviceID string
}

// ServerOrigin is the Origin used for replica mutations applied by the
// hub itself (initial load merges, etc.) rather than a connected client.
var ServerOrigin = Origin{UID: "", DeviceID: "server"}

// listener is one subscriber's view of the broadcast: a buffered
// channel plus a flag recording whether it has fallen behind.
type listener struct {
	ch      chan Message
	lagging bool
}

// Broadcast is the per-group fan-out primitive. Delivery is push-based:
// Emit fans out to every attached listener's own channel, dropping the
// oldest unread entry for any listener whose channel is full rather
// than blocking the writer.
type Broadcast struct {
	mu        sync.Mutex
	capacity  int
	listeners map[int]*listener
	nextID    int
	metrics   *metrics.Registry
}

// New creates a Broadcast with the given per-listener channel capacity.
func New(capacity int, registry *metrics.Registry) *Broadcast {
	if capacity <= 0 {
		capacity = 10
	}
	return &Broadcast{
		capacity:  capacity,
		listeners: make(map[int]*listener),
		metrics:   registry,
	}
}

// listenerHandle is returned by Attach so a Subscription can Detach
// itself and drain its own channel.
type listenerHandle struct {
	id int
	b  *Broadcast
	l  *listener
}

// C returns the channel this listener should read from.
func (h *listenerHandle) C() <-chan Message { return h.l.ch }

// Detach removes this listener from the broadcast; safe to call once.
func (h *listenerHandle) Detach() {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	delete(h.b.listeners, h.id)
}

// Attach registers a new subscriber and returns a handle to read from.
// Cheap and non-blocking — a Subscribe call must never wait on the
// replica just to start listening.
func (b *Broadcast) Attach() *listenerHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	l := &listener{ch: make(chan Message, b.capacity)}
	b.listeners[id] = l
	return &listenerHandle{id: id, b: b, l: l}
}

// Emit fans msg out to every attached listener in the order Emit is
// called, which is the order the caller applies mutations to the
// replica under its lock — giving every subscriber of one group the
// same total order.
func (b *Broadcast) Emit(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.listeners {
		select {
		case l.ch <- msg:
		default:
			// Backlog full: drop the oldest buffered entry for this
			// slow listener rather than blocking the canonical
			// replica, mark it lagging, and enqueue a Resync
			// sentinel in the freed slot. msg itself is not delivered
			// to this listener; the sentinel tells it that it missed
			// entries and must fetch a full snapshot.
			select {
			case <-l.ch:
				if b.metrics != nil {
					b.metrics.BroadcastDropped.Inc()
				}
			default:
			}
			l.lagging = true
			select {
			case l.ch <- Message{Kind: Resync, Origin: msg.Origin}:
			default:
				// Extremely unlikely race (channel refilled between
				// the drain and this send); the next Emit will retry.
			}
		}
	}
}

// ListenerCount returns the number of currently attached subscribers.
func (b *Broadcast) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
