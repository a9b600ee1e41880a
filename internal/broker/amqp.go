package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/elviskudo/mini-erp/realtime/internal/relay"
)

const (
	// redialMin is the initial delay before redialling RabbitMQ after a
	// connection or channel failure.
	redialMin = 1 * time.Second
	// redialMax bounds the backoff between redial attempts.
	redialMax = 30 * time.Second
)

// acknowledger is the slice of amqp.Delivery the consumer needs. It exists so
// the per-message handling can be tested without a broker.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple bool, requeue bool) error
}

// NotificationConsumer durably consumes the dedicated notification queue and
// hands each payload to the router. The queue is declared durable, so
// messages published while the relay is down are delivered after restart.
// Connection failures are recoverable: the consumer redials with bounded
// backoff and reports degraded in the meantime.
type NotificationConsumer struct {
	url    string
	queue  string
	router *relay.Router

	mu       sync.RWMutex
	degraded bool
}

func NewNotificationConsumer(url, queue string, router *relay.Router) *NotificationConsumer {
	return &NotificationConsumer{
		url:    url,
		queue:  queue,
		router: router,
	}
}

// Start launches the consume loop in a goroutine. It never terminates the
// process: every failure is retried until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) {
	go c.consumeLoop(ctx)
}

// Degraded reports whether the RabbitMQ connection is currently lost.
func (c *NotificationConsumer) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

func (c *NotificationConsumer) consumeLoop(ctx context.Context) {
	backoff := redialMin
	for {
		connected, err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = redialMin
		}
		if err != nil {
			log.Printf("broker: amqp consumer error: %v (retrying in %s)", err, backoff)
			c.setDegraded(true)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > redialMax {
			backoff = redialMax
		}
	}
}

// consumeOnce dials RabbitMQ and consumes deliveries until the connection
// drops or ctx is cancelled. It reports whether a subscription was
// established, so the caller can reset its backoff.
func (c *NotificationConsumer) consumeOnce(ctx context.Context) (bool, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return false, fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return false, fmt.Errorf("declare queue %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume queue %s: %w", c.queue, err)
	}

	c.setDegraded(false)
	log.Printf("broker: consuming notifications from queue %s", c.queue)

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, d.Body, d)
		}
	}
}

// handle processes one delivery. A payload that fails to parse is
// acknowledged and dropped: requeueing a permanently-malformed message would
// redeliver it forever. A routing failure leaves the message on the queue via
// reject-with-requeue, since route errors are transient backplane failures.
func (c *NotificationConsumer) handle(ctx context.Context, body []byte, ack acknowledger) {
	p, err := relay.ParsePayload(body)
	if err != nil {
		log.Printf("broker: dropping malformed notification: %v", err)
		if err := ack.Ack(false); err != nil {
			log.Printf("broker: ack failed: %v", err)
		}
		return
	}

	if err := c.router.Route(ctx, p); err != nil {
		log.Printf("broker: route failed, requeueing: %v", err)
		if err := ack.Nack(false, true); err != nil {
			log.Printf("broker: nack failed: %v", err)
		}
		return
	}

	if err := ack.Ack(false); err != nil {
		log.Printf("broker: ack failed: %v", err)
	}
}

func (c *NotificationConsumer) setDegraded(v bool) {
	c.mu.Lock()
	c.degraded = v
	c.mu.Unlock()
}
