package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/elviskudo/mini-erp/realtime/internal/backplane"
)

// recordingBackplane captures published emissions.
type recordingBackplane struct {
	mu         sync.Mutex
	emissions  []backplane.Emission
	publishErr error
}

func (b *recordingBackplane) Publish(ctx context.Context, e backplane.Emission) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emissions = append(b.emissions, e)
	return nil
}

func (b *recordingBackplane) Subscribe(handler backplane.Handler) error { return nil }
func (b *recordingBackplane) Degraded() bool                            { return false }
func (b *recordingBackplane) Close() error                              { return nil }

func (b *recordingBackplane) all() []backplane.Emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]backplane.Emission, len(b.emissions))
	copy(cp, b.emissions)
	return cp
}

func TestRouterRoute(t *testing.T) {
	bp := &recordingBackplane{}
	router := NewRouter(bp, "mini-erp")

	tests := []struct {
		name         string
		payload      Payload
		expectedRoom string
	}{
		{"tenant scoped", Payload{TenantID: "42", Type: "low_stock"}, "tenant:42"},
		{"user scoped", Payload{UserID: "u-7", Type: "dm"}, "user:u-7"},
		{"global", Payload{Type: "announcement"}, "global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(bp.all())
			if err := router.Route(context.Background(), tt.payload); err != nil {
				t.Fatalf("Route failed: %v", err)
			}

			emissions := bp.all()
			if len(emissions) != before+1 {
				t.Fatalf("expected exactly one emission, got %d", len(emissions)-before)
			}
			e := emissions[len(emissions)-1]
			if e.Room != tt.expectedRoom {
				t.Errorf("expected room %q, got %q", tt.expectedRoom, e.Room)
			}
			if e.Event != EventNotification {
				t.Errorf("expected event %q, got %q", EventNotification, e.Event)
			}
		})
	}
}

func TestRouterRouteDomain(t *testing.T) {
	bp := &recordingBackplane{}
	router := NewRouter(bp, "mini-erp")

	p := Payload{TenantID: "7", Type: "inventory.movement"}
	if err := router.RouteDomain(context.Background(), "mini-erp.inventory", p); err != nil {
		t.Fatalf("RouteDomain failed: %v", err)
	}

	emissions := bp.all()
	if len(emissions) != 1 {
		t.Fatalf("expected 1 emission, got %d", len(emissions))
	}
	if emissions[0].Room != "tenant:7" {
		t.Errorf("expected room 'tenant:7', got %q", emissions[0].Room)
	}
	if emissions[0].Event != "event:inventory" {
		t.Errorf("expected event 'event:inventory', got %q", emissions[0].Event)
	}
}

func TestRouterRouteDomainDropsWithoutTenant(t *testing.T) {
	bp := &recordingBackplane{}
	router := NewRouter(bp, "mini-erp")

	// A domain event without a tenant id must be dropped, never published —
	// broadcasting it would leak one tenant's data to every other.
	p := Payload{UserID: "u-9", Type: "finance.journal_posted"}
	if err := router.RouteDomain(context.Background(), "mini-erp.finance", p); err != nil {
		t.Fatalf("RouteDomain should drop without error, got: %v", err)
	}

	if len(bp.all()) != 0 {
		t.Fatal("tenant-less domain event must not be published anywhere")
	}
}

func TestRouterRoutePublishError(t *testing.T) {
	bp := &recordingBackplane{publishErr: fmt.Errorf("backplane down")}
	router := NewRouter(bp, "mini-erp")

	if err := router.Route(context.Background(), Payload{TenantID: "1"}); err == nil {
		t.Fatal("expected publish error to propagate")
	}
	if err := router.RouteDomain(context.Background(), "mini-erp.hr", Payload{TenantID: "1"}); err == nil {
		t.Fatal("expected publish error to propagate for domain events")
	}
}

func TestDomainEventName(t *testing.T) {
	router := NewRouter(&recordingBackplane{}, "mini-erp")

	tests := []struct {
		topic    string
		expected string
	}{
		{"mini-erp.inventory", "inventory"},
		{"mini-erp.finance", "finance"},
		{"other.topic", "other.topic"}, // unknown prefix passes through
	}

	for _, tt := range tests {
		if got := router.DomainEventName(tt.topic); got != tt.expected {
			t.Errorf("DomainEventName(%q): expected %q, got %q", tt.topic, tt.expected, got)
		}
	}
}
