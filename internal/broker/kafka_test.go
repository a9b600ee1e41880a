package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/elviskudo/mini-erp/realtime/internal/backplane"
	"github.com/elviskudo/mini-erp/realtime/internal/relay"
)

// flakyBackplane fails the first N publishes, standing in for a transient
// backplane outage, then accepts.
type flakyBackplane struct {
	mu        sync.Mutex
	failures  int
	emissions []backplane.Emission
}

func (b *flakyBackplane) Publish(ctx context.Context, e backplane.Emission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return fmt.Errorf("backplane down")
	}
	b.emissions = append(b.emissions, e)
	return nil
}

func (b *flakyBackplane) Subscribe(handler backplane.Handler) error { return nil }
func (b *flakyBackplane) Degraded() bool                            { return false }
func (b *flakyBackplane) Close() error                              { return nil }

func (b *flakyBackplane) delivered() []backplane.Emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backplane.Emission(nil), b.emissions...)
}

func newTestDomainConsumer(bp backplane.Backplane) *DomainConsumer {
	router := relay.NewRouter(bp, "mini-erp")
	return NewDomainConsumer([]string{"localhost:9092"}, "test-group", nil, router)
}

func TestProcessRoutesTenantScopedEvent(t *testing.T) {
	bp := backplane.NewMemoryBackplane()
	defer bp.Close()

	received := make(chan backplane.Emission, 1)
	bp.Subscribe(func(e backplane.Emission) { received <- e }) //nolint:errcheck

	c := newTestDomainConsumer(bp)

	commit := c.process(context.Background(), "mini-erp.inventory", []byte(`{"tenant_id":"7","type":"inventory.movement"}`))
	if !commit {
		t.Fatal("successfully routed message must be committed")
	}

	select {
	case e := <-received:
		if e.Room != "tenant:7" {
			t.Errorf("expected room 'tenant:7', got %q", e.Room)
		}
		if e.Event != "event:inventory" {
			t.Errorf("expected event 'event:inventory', got %q", e.Event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for emission")
	}
}

func TestProcessCommitsAndDropsMalformed(t *testing.T) {
	bp := backplane.NewMemoryBackplane()
	defer bp.Close()

	delivered := make(chan backplane.Emission, 1)
	bp.Subscribe(func(e backplane.Emission) { delivered <- e }) //nolint:errcheck

	c := newTestDomainConsumer(bp)

	if !c.process(context.Background(), "mini-erp.finance", []byte(`garbage`)) {
		t.Fatal("malformed message must be committed so it is never redelivered")
	}
	if len(delivered) != 0 {
		t.Fatal("malformed message must not be routed")
	}
}

func TestProcessCommitsDroppedTenantlessEvent(t *testing.T) {
	bp := backplane.NewMemoryBackplane()
	defer bp.Close()

	delivered := make(chan backplane.Emission, 1)
	bp.Subscribe(func(e backplane.Emission) { delivered <- e }) //nolint:errcheck

	c := newTestDomainConsumer(bp)

	// A domain event without a tenant id is dropped by design; retrying
	// cannot fix a structurally incomplete message, so it is committed.
	if !c.process(context.Background(), "mini-erp.hr", []byte(`{"type":"employee.created"}`)) {
		t.Fatal("tenant-less domain event must be committed, not redelivered")
	}

	time.Sleep(50 * time.Millisecond)
	if len(delivered) != 0 {
		t.Fatal("tenant-less domain event must never reach the backplane")
	}
}

func TestRouteUntilCommittedRetriesSameMessage(t *testing.T) {
	// A transient route failure must not let the consumer move on: the
	// same message is retried until it routes, and only then may its
	// offset be committed. Committing a later offset would mark the
	// failed message consumed and it would never be redelivered.
	bp := &flakyBackplane{failures: 2}
	c := newTestDomainConsumer(bp)

	if !c.routeUntilCommitted(context.Background(), "mini-erp.inventory", []byte(`{"tenant_id":"42","type":"inventory.movement"}`)) {
		t.Fatal("message must be committed once routing succeeds")
	}

	got := bp.delivered()
	if len(got) != 1 {
		t.Fatalf("expected exactly one emission after retries, got %d", len(got))
	}
	if got[0].Room != "tenant:42" {
		t.Errorf("expected room 'tenant:42', got %q", got[0].Room)
	}
}

func TestRouteUntilCommittedStopsOnCancel(t *testing.T) {
	c := newTestDomainConsumer(failingBackplane{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if c.routeUntilCommitted(ctx, "mini-erp.inventory", []byte(`{"tenant_id":"1"}`)) {
		t.Fatal("message must stay uncommitted when shutdown interrupts the retries")
	}
}

func TestRouteUntilCommittedDropsPoisonImmediately(t *testing.T) {
	// Malformed messages follow the poison rule, not the retry path: they
	// are committed on the first pass even while the backplane is down.
	c := newTestDomainConsumer(failingBackplane{})

	done := make(chan bool, 1)
	go func() {
		done <- c.routeUntilCommitted(context.Background(), "mini-erp.finance", []byte(`garbage`))
	}()

	select {
	case commit := <-done:
		if !commit {
			t.Fatal("malformed message must be committed so it is never redelivered")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("malformed message must not enter the retry loop")
	}
}

func TestProcessLeavesUncommittedOnRouteFailure(t *testing.T) {
	c := newTestDomainConsumer(failingBackplane{})

	if c.process(context.Background(), "mini-erp.inventory", []byte(`{"tenant_id":"1"}`)) {
		t.Fatal("message must stay uncommitted when the backplane publish fails")
	}
}

func TestDomainConsumerCloseWithoutStart(t *testing.T) {
	c := newTestDomainConsumer(backplane.NewMemoryBackplane())
	if err := c.Close(); err != nil {
		t.Fatalf("Close without Start failed: %v", err)
	}
}
