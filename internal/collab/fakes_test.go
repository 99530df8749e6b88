package collab

import (
	"context"
	"sync"

	"github.com/adred-codev/collabhub/internal/broadcast"
)

// fakeStoragePlugin is a hand-rolled StoragePlugin double; no database
// involved, matching the test style used across this codebase.
type fakeStoragePlugin struct {
	mu          sync.Mutex
	initial     []byte
	initialErr  error
	accumulated [][]byte
	flushCalls  []string
	flushErr    error
	evicted     bool
}

func (f *fakeStoragePlugin) LoadInitial(ctx context.Context) ([]byte, error) {
	return f.initial, f.initialErr
}

func (f *fakeStoragePlugin) AccumulateUpdate(update []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accumulated = append(f.accumulated, update)
}

func (f *fakeStoragePlugin) Flush(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls = append(f.flushCalls, uid)
	return f.flushErr
}

func (f *fakeStoragePlugin) Evict(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = true
}

// fakeSink is a hand-rolled Sink double capturing everything sent to it.
type fakeSink struct {
	mu     sync.Mutex
	sent   []broadcast.Message
	closed bool
	sendFn func(broadcast.Message) error
}

func (f *fakeSink) Send(msg broadcast.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) messages() []broadcast.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broadcast.Message, len(f.sent))
	copy(out, f.sent)
	return out
}
