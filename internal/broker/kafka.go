package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/elviskudo/mini-erp/realtime/internal/relay"
)

const (
	// routeRetryMin is the initial delay before retrying a message whose
	// route failed.
	routeRetryMin = 250 * time.Millisecond
	// routeRetryMax bounds the backoff between route retries.
	routeRetryMax = 30 * time.Second
)

// DomainConsumer consumes the configured domain-event topics
// (inventory/finance/procurement/hr and so on) through a Kafka consumer
// group. Group offsets are durable, so events published while the relay is
// down are delivered after restart. Each topic gets its own reader and
// goroutine; a stalled topic does not block the others, and the Kafka
// offsets are fully independent of the AMQP acknowledgment state.
type DomainConsumer struct {
	brokers []string
	groupID string
	topics  []string
	router  *relay.Router

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewDomainConsumer(brokers []string, groupID string, topics []string, router *relay.Router) *DomainConsumer {
	return &DomainConsumer{
		brokers: brokers,
		groupID: groupID,
		topics:  topics,
		router:  router,
	}
}

// Start creates a consumer-group reader per topic and begins routing events.
// Broker connection failures are retried inside kafka-go's reader with its
// bounded backoff; they never crash the process.
func (c *DomainConsumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range c.topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.brokers,
			Topic:    topic,
			GroupID:  c.groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		})
		c.readers = append(c.readers, reader)
		go c.consumeLoop(ctx, reader)
		log.Printf("broker: consuming domain events from topic %s (group %s)", topic, c.groupID)
	}
}

// Close shuts down all readers, committing nothing further.
func (c *DomainConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, r := range c.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.readers = nil
	return firstErr
}

func (c *DomainConsumer) consumeLoop(ctx context.Context, reader *kafka.Reader) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, shutting down
			}
			log.Printf("broker: kafka fetch error on %s: %v", reader.Config().Topic, err)
			continue
		}

		if c.routeUntilCommitted(ctx, msg.Topic, msg.Value) {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				log.Printf("broker: kafka commit error on %s: %v", msg.Topic, err)
			}
		}
	}
}

// routeUntilCommitted routes one message, retrying route failures with
// bounded backoff until the message can be committed. Fetching the next
// message before the current one is committed would advance the group offset
// past it, losing it forever; blocking here is what preserves at-least-once.
// Per-partition ordering makes the stall safe. Returns false only when ctx is
// cancelled before the message routes.
func (c *DomainConsumer) routeUntilCommitted(ctx context.Context, topic string, value []byte) bool {
	backoff := routeRetryMin
	for {
		if c.process(ctx, topic, value) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > routeRetryMax {
			backoff = routeRetryMax
		}
	}
}

// process routes one domain message and reports whether its offset may be
// committed. Malformed messages are committed and dropped (poison-message
// rule); a routing failure keeps the offset uncommitted and the caller
// retries the same message.
func (c *DomainConsumer) process(ctx context.Context, topic string, value []byte) bool {
	p, err := relay.ParsePayload(value)
	if err != nil {
		log.Printf("broker: dropping malformed domain event from %s: %v", topic, err)
		return true
	}

	if err := c.router.RouteDomain(ctx, topic, p); err != nil {
		log.Printf("broker: domain route failed for %s: %v", topic, err)
		return false
	}
	return true
}
