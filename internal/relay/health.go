package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// HubStats is a snapshot of process-local connection state, produced by the
// connection hub for the health signal.
type HubStats struct {
	Connections int            `json:"connections"`
	TenantRooms map[string]int `json:"tenant_rooms"`
}

// StatsFunc returns the current HubStats.
type StatsFunc func() HubStats

// DegradedFunc reports whether an upstream dependency is currently lost.
type DegradedFunc func() bool

// HealthReporter periodically logs the process-local connection count,
// per-tenant-room membership counts, and the degraded flags. It is the
// liveness signal for external monitoring; clients are never told about
// degraded state.
type HealthReporter struct {
	interval          time.Duration
	stats             StatsFunc
	backplaneDegraded DegradedFunc
	brokerDegraded    DegradedFunc
}

func NewHealthReporter(interval time.Duration, stats StatsFunc, backplaneDegraded, brokerDegraded DegradedFunc) *HealthReporter {
	return &HealthReporter{
		interval:          interval,
		stats:             stats,
		backplaneDegraded: backplaneDegraded,
		brokerDegraded:    brokerDegraded,
	}
}

// Run emits the health signal until ctx is cancelled. Run it in a goroutine.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := h.stats()
			log.Printf("relay: alive connections=%d tenant_rooms=%v backplane_degraded=%t broker_degraded=%t",
				s.Connections, s.TenantRooms, h.backplaneDegraded(), h.brokerDegraded())
		}
	}
}

// HealthHandler exposes the same snapshot as JSON on /healthz.
type HealthHandler struct {
	stats             StatsFunc
	backplaneDegraded DegradedFunc
	brokerDegraded    DegradedFunc
}

func NewHealthHandler(stats StatsFunc, backplaneDegraded, brokerDegraded DegradedFunc) *HealthHandler {
	return &HealthHandler{
		stats:             stats,
		backplaneDegraded: backplaneDegraded,
		brokerDegraded:    brokerDegraded,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

// Health always answers 200: a degraded backplane or broker is reported in
// the body, not as an error, because the relay stays up and recovers on its
// own.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	s := h.stats()
	status := "ok"
	if h.backplaneDegraded() || h.brokerDegraded() {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"status":             status,
		"connections":        s.Connections,
		"tenant_rooms":       s.TenantRooms,
		"backplane_degraded": h.backplaneDegraded(),
		"broker_degraded":    h.brokerDegraded(),
	})
}
