package backplane

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackplane is a simple, single-process Backplane backed by a Go
// channel. It preserves publish order and delivers to every subscribed
// handler, so two hubs subscribed to one MemoryBackplane behave like two
// relay processes sharing a channel.
type MemoryBackplane struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
	emitCh   chan Emission
	done     chan struct{}
}

// NewMemoryBackplane creates and starts a MemoryBackplane. The backplane
// starts a background goroutine to dispatch emissions; call Close() to stop
// it.
func NewMemoryBackplane() *MemoryBackplane {
	b := &MemoryBackplane{
		emitCh: make(chan Emission, 1024),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an emission for asynchronous delivery to all handlers.
func (b *MemoryBackplane) Publish(ctx context.Context, e Emission) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("backplane is closed")
	}

	b.emitCh <- e
	return nil
}

// Subscribe registers a handler for all emissions.
func (b *MemoryBackplane) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backplane is closed")
	}

	b.handlers = append(b.handlers, handler)
	return nil
}

// Degraded always reports false: an in-process channel has no connection to
// lose.
func (b *MemoryBackplane) Degraded() bool { return false }

// Close stops the dispatch goroutine and prevents further Publish/Subscribe
// calls. The queue is drained before Close returns. The mutex must not be
// held while waiting for the drain: the dispatch goroutine needs it to
// snapshot handlers for each remaining emission.
func (b *MemoryBackplane) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.emitCh)
	b.mu.Unlock()

	<-b.done
	return nil
}

// dispatch runs in a goroutine and fans out emissions to every handler in
// publish order.
func (b *MemoryBackplane) dispatch() {
	defer close(b.done)

	for e := range b.emitCh {
		b.mu.RLock()
		handlers := make([]Handler, len(b.handlers))
		copy(handlers, b.handlers)
		b.mu.RUnlock()

		for _, h := range handlers {
			h(e)
		}
	}
}
