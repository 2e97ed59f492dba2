package roomstate

import (
	"context"
	"time"

	"github.com/AltairaLabs/turnsync/internal/redisconn"
	"github.com/AltairaLabs/turnsync/logger"
)

// Options selects the store implementation.
type Options struct {
	UseRedis bool
	RedisURL string
	TTL      time.Duration
}

// Open returns a RedisStore when enabled and reachable, otherwise a
// MemoryStore. A Redis failure is logged, never returned.
func Open(ctx context.Context, opts Options) Store {
	if !opts.UseRedis {
		return NewMemoryStore()
	}
	client, err := redisconn.Open(ctx, opts.RedisURL)
	if err != nil {
		logger.Warn("redis room state unavailable, using in-process store", "error", err)
		return NewMemoryStore()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	logger.Info("redis room state enabled")
	return NewRedisStore(client, WithTTL(ttl))
}
