package backplane

import (
	"context"
	"encoding/json"
)

// Emission is one room-targeted publication travelling through the backplane.
type Emission struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is invoked for every emission received from the backplane,
// including the process's own publications. There is no local/remote
// distinction at the delivery step.
type Handler func(e Emission)

// Backplane is the shared publish/subscribe channel that makes room delivery
// effective cluster-wide. Implementations include RedisBackplane (for
// multi-process deployments) and MemoryBackplane (for single-node setups and
// tests).
type Backplane interface {
	// Publish sends an emission to every currently-connected process.
	// At-least-once; FIFO per publishing process per room.
	Publish(ctx context.Context, e Emission) error

	// Subscribe registers the handler that receives emissions. Must be
	// called before Publish traffic is expected.
	Subscribe(handler Handler) error

	// Degraded reports whether the backplane connection is currently lost.
	// A degraded backplane keeps retrying in the background; the flag is
	// surfaced on the health signal.
	Degraded() bool

	// Close shuts down the backplane. After Close returns, Publish and
	// Subscribe must not be called.
	Close() error
}
