package collab

import (
	"sync"

	"github.com/adred-codev/collabhub/internal/access"
	"github.com/adred-codev/collabhub/internal/broadcast"
	"github.com/adred-codev/collabhub/internal/herr"
)

// InboundMessage is a parsed CollabMessage arriving from a client. The
// transport layer decodes the wire frame into this shape before handing
// it to a Subscription, keeping collab transport-agnostic.
type InboundMessage struct {
	Kind    broadcast.MessageKind
	Payload []byte
	MsgID   string
}

// Subscription owns one client's inbound-frame task and outbound-emit
// task.
type Subscription struct {
	group        *Group
	Origin       broadcast.Origin
	inbound      <-chan InboundMessage
	sink         Sink
	accessObject access.Object

	listener broadcastListenerHandle

	stopOnce sync.Once
	stopCh   chan struct{}
	done     sync.WaitGroup
}

// broadcastListenerHandle is the subset of *broadcast.Broadcast's
// attach handle Subscription needs; declared as an interface so this
// file doesn't need the concrete type name repeated.
type broadcastListenerHandle interface {
	C() <-chan broadcast.Message
	Detach()
}

func newSubscription(g *Group, origin broadcast.Origin, inbound <-chan InboundMessage, sink Sink, accessObject access.Object) *Subscription {
	return &Subscription{
		group:        g,
		Origin:       origin,
		inbound:      inbound,
		sink:         sink,
		accessObject: accessObject,
		stopCh:       make(chan struct{}),
	}
}

// start attaches to the broadcast and launches the inbound and
// outbound pumps.
func (s *Subscription) start() {
	s.listener = s.group.bcast.Attach()

	s.done.Add(2)
	go s.inboundLoop()
	go s.outboundLoop()
}

// inboundLoop reads frames from the client, validates each against
// access control (Write for updates, Read otherwise), applies updates
// to the Replica under its lock, and acks.
func (s *Subscription) inboundLoop() {
	defer s.done.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case msg, ok := <-s.inbound:
			if !ok {
				// Stop waits for this loop to exit, so it must run on
				// another goroutine.
				go s.Stop()
				return
			}
			s.handleInbound(msg)
		}
	}
}

func (s *Subscription) handleInbound(msg InboundMessage) {
	action := access.Read
	if msg.Kind == broadcast.Update {
		action = access.Write
	}
	if !s.group.access.Check(s.Origin.UID, s.accessObject, action) {
		s.nack(msg.MsgID, herr.PermissionDenied)
		return
	}

	switch msg.Kind {
	case broadcast.Update:
		if err := s.group.applyUpdate(s.Origin, msg.Payload); err != nil {
			// Malformed/oversized/rejected updates are logged and
			// nack-ed; the connection survives unless the framing layer
			// itself classified this as Fatal, which it would have
			// done before ever constructing an InboundMessage.
			s.group.logger.Warn().Err(err).Str("uid", s.Origin.UID).Msg("update rejected")
			s.nack(msg.MsgID, herr.Fatal)
			return
		}
		s.ack(msg.MsgID)
	case broadcast.AwarenessUpdate:
		s.group.bcast.Emit(broadcast.Message{Kind: broadcast.AwarenessUpdate, Origin: s.Origin, Payload: msg.Payload})
	default:
		s.group.logger.Warn().Str("uid", s.Origin.UID).Int("kind", int(msg.Kind)).Msg("unexpected inbound message kind")
	}
}

func (s *Subscription) ack(msgID string) {
	if msgID == "" {
		return
	}
	_ = s.sink.Send(broadcast.Message{Kind: broadcast.Ack, Origin: s.Origin, Payload: []byte(msgID)})
}

func (s *Subscription) nack(msgID string, kind herr.Kind) {
	if msgID == "" {
		return
	}
	_ = s.sink.Send(broadcast.Message{Kind: broadcast.Ack, Origin: s.Origin, Payload: []byte(msgID + ":" + kind.String())})
}

// outboundLoop forwards Broadcast messages whose origin differs from
// this subscription's own to the client sink. A client's own updates
// are already reflected in its local state, so echoing them back would
// just be wasted bandwidth; Resync sentinels are always delivered
// regardless of origin since every lagging subscriber needs one.
func (s *Subscription) outboundLoop() {
	defer s.done.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case msg, ok := <-s.listener.C():
			if !ok {
				return
			}
			if msg.Kind != broadcast.Resync && msg.Origin == s.Origin {
				continue
			}
			if err := s.sink.Send(msg); err != nil {
				go s.Stop()
				return
			}
		}
	}
}

// Stop signals both tasks, awaits them, and drops the sink. No lock is
// held across this boundary: Detach and removeSubscription each take
// and release their own lock internally.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Detach()
		}
		s.group.removeSubscription(s)
		s.done.Wait()
		_ = s.sink.Close()
	})
	s.done.Wait()
}
