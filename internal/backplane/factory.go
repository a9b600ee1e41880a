package backplane

import (
	"log"

	"github.com/elviskudo/mini-erp/realtime/internal/config"
)

// New creates a Backplane based on the application configuration. If
// REDIS_URL is set, it returns a RedisBackplane; otherwise it falls back to a
// MemoryBackplane suitable for single-node deployments.
func New(cfg *config.Config) (Backplane, error) {
	if cfg.RedisURL != "" {
		log.Printf("backplane: using RedisBackplane at %s", cfg.RedisURL)
		return NewRedisBackplane(cfg.RedisURL)
	}

	log.Println("backplane: using MemoryBackplane (REDIS_URL not set)")
	return NewMemoryBackplane(), nil
}
