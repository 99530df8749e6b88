package broadcast

import (
	"testing"
	"time"
)

func TestBroadcastEmitOrdering(t *testing.T) {
	b := New(10, nil)
	h := b.Attach()

	for i := 0; i < 5; i++ {
		b.Emit(Message{Kind: Update, Payload: []byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-h.C():
			if msg.Payload[0] != byte(i) {
				t.Fatalf("message %d: got payload %v, want %v", i, msg.Payload, []byte{byte(i)})
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestBroadcastMultiSubscriberFanOut(t *testing.T) {
	b := New(10, nil)
	h1 := b.Attach()
	h2 := b.Attach()

	if got := b.ListenerCount(); got != 2 {
		t.Fatalf("ListenerCount() = %d, want 2", got)
	}

	b.Emit(Message{Kind: Update, Payload: []byte("hello")})

	for _, h := range []*listenerHandle{h1, h2} {
		select {
		case msg := <-h.C():
			if string(msg.Payload) != "hello" {
				t.Fatalf("got payload %q, want %q", msg.Payload, "hello")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out message")
		}
	}
}

func TestBroadcastDetachRemovesListener(t *testing.T) {
	b := New(10, nil)
	h := b.Attach()
	h.Detach()

	if got := b.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount() after Detach = %d, want 0", got)
	}
}

func TestBroadcastDropOldestUnderBackpressure(t *testing.T) {
	b := New(2, nil)
	h := b.Attach()

	// Fill the listener's channel, then send one more: the oldest
	// buffered entry is dropped and a Resync sentinel takes its place
	// at the back, since a slow subscriber must never block Emit.
	b.Emit(Message{Kind: Update, Payload: []byte{1}})
	b.Emit(Message{Kind: Update, Payload: []byte{2}})
	b.Emit(Message{Kind: Update, Payload: []byte{3}})

	first := <-h.C()
	if first.Payload[0] != 2 {
		t.Fatalf("first buffered message = %v, want the second Emit (oldest dropped)", first.Payload)
	}
	second := <-h.C()
	if second.Kind != Resync {
		t.Fatalf("second buffered message kind = %v, want Resync", second.Kind)
	}
}

func TestBroadcastEmitNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New(1, nil)
	_ = b.Attach() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Emit(Message{Kind: Update, Payload: []byte{byte(i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow, undrained subscriber")
	}
}
