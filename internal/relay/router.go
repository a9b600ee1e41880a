package relay

import (
	"context"
	"log"
	"strings"

	"github.com/elviskudo/mini-erp/realtime/internal/backplane"
)

// EventNotification is the push event name for messages from the dedicated
// notification stream. Domain events are pushed as "event:<domain>".
const EventNotification = "notification"

// Router resolves a payload to exactly one target room and publishes the
// emission through the backplane, which fans it out to every relay process.
// Routing is a pure function of the payload; it never consults the local
// connection state.
type Router struct {
	backplane   backplane.Backplane
	topicPrefix string
}

// NewRouter creates a Router. topicPrefix is stripped from domain-event topic
// names to form the client-side event name (e.g. "mini-erp.inventory" ->
// "event:inventory").
func NewRouter(bp backplane.Backplane, topicPrefix string) *Router {
	return &Router{
		backplane:   bp,
		topicPrefix: topicPrefix,
	}
}

// Route publishes a notification-stream payload to its resolved room.
func (r *Router) Route(ctx context.Context, p Payload) error {
	return r.backplane.Publish(ctx, backplane.Emission{
		Room:    p.Room(),
		Event:   EventNotification,
		Payload: p.JSON(),
	})
}

// RouteDomain publishes a domain-event payload to its tenant room. Domain
// events are tenant-scoped by construction: a payload without a tenant id is
// dropped, never broadcast, so one tenant's events can never leak to another.
func (r *Router) RouteDomain(ctx context.Context, topic string, p Payload) error {
	if p.TenantID == "" {
		log.Printf("relay: dropping domain event from %s without tenant_id (type=%s)", topic, p.Type)
		return nil
	}
	return r.backplane.Publish(ctx, backplane.Emission{
		Room:    TenantRoom(p.TenantID),
		Event:   "event:" + r.DomainEventName(topic),
		Payload: p.JSON(),
	})
}

// DomainEventName derives the client-facing event name from a Kafka topic by
// stripping the configured prefix: "mini-erp.inventory" -> "inventory".
func (r *Router) DomainEventName(topic string) string {
	return strings.TrimPrefix(topic, r.topicPrefix+".")
}
