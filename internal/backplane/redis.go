package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// channelName is the single shared Redis pub/sub channel carrying all room
// emissions. A single channel is what guarantees FIFO per publishing process.
const channelName = "mini-erp.realtime"

const (
	// resubscribeMin is the initial delay before re-subscribing after the
	// Redis connection is lost.
	resubscribeMin = 1 * time.Second
	// resubscribeMax bounds the backoff between re-subscribe attempts.
	resubscribeMax = 30 * time.Second
)

// RedisBackplane implements Backplane over a Redis pub/sub channel. Every
// relay process publishes to and subscribes from the same channel, so a room
// emission originated anywhere reaches the local hub of every process,
// including the publisher's own.
type RedisBackplane struct {
	client *redis.Client

	mu        sync.RWMutex
	handlers  []Handler
	degraded  bool
	receiving bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBackplane connects to Redis at redisURL and verifies the
// connection. The subscriber loop starts on the first Subscribe call.
func NewRedisBackplane(redisURL string) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBackplane{
		client: client,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Publish serializes the emission and sends it over the shared channel.
// A publish failure marks the backplane degraded; the caller decides whether
// to acknowledge the upstream message.
func (b *RedisBackplane) Publish(ctx context.Context, e Emission) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("backplane is closed")
	}
	b.mu.RUnlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal emission: %w", err)
	}

	if err := b.client.Publish(ctx, channelName, data).Err(); err != nil {
		b.setDegraded(true)
		return fmt.Errorf("publish to backplane: %w", err)
	}
	return nil
}

// Subscribe registers a handler and starts the receive loop on first use.
func (b *RedisBackplane) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backplane is closed")
	}

	b.handlers = append(b.handlers, handler)
	if !b.receiving {
		b.receiving = true
		go b.receiveLoop()
	}
	return nil
}

// Degraded reports whether the Redis connection is currently lost. While
// degraded the process keeps its local connections but cannot originate or
// receive cluster-wide emissions; the flag is surfaced on the health signal.
func (b *RedisBackplane) Degraded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.degraded
}

// Close stops the receive loop and closes the Redis client.
func (b *RedisBackplane) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	receiving := b.receiving
	b.mu.Unlock()

	b.cancel()
	if receiving {
		<-b.done
	}
	return b.client.Close()
}

// receiveLoop subscribes to the shared channel and replays every received
// emission into the registered handlers. On connection loss it marks the
// backplane degraded and re-subscribes with bounded backoff.
func (b *RedisBackplane) receiveLoop() {
	defer close(b.done)

	backoff := resubscribeMin
	for {
		pubsub := b.client.Subscribe(b.ctx, channelName)

		for {
			msg, err := pubsub.ReceiveMessage(b.ctx)
			if err != nil {
				if b.ctx.Err() != nil {
					pubsub.Close() //nolint:errcheck
					return
				}
				log.Printf("backplane: receive error: %v (retrying in %s)", err, backoff)
				b.setDegraded(true)
				break
			}

			b.setDegraded(false)
			backoff = resubscribeMin

			var e Emission
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Printf("backplane: dropping malformed emission: %v", err)
				continue
			}
			b.dispatch(e)
		}

		pubsub.Close() //nolint:errcheck

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > resubscribeMax {
			backoff = resubscribeMax
		}
	}
}

func (b *RedisBackplane) dispatch(e Emission) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

func (b *RedisBackplane) setDegraded(v bool) {
	b.mu.Lock()
	b.degraded = v
	b.mu.Unlock()
}
