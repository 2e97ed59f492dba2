package roombus

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/turnsync/internal/redisconn"
	"github.com/AltairaLabs/turnsync/logger"
)

// Options selects the bus implementation.
type Options struct {
	Enabled    bool
	RedisURL   string
	InstanceID string
}

// Open returns a RedisBus when enabled and reachable, otherwise a LocalBus.
func Open(ctx context.Context, opts Options) Bus {
	if !opts.Enabled {
		return NewLocalBus()
	}
	client, err := redisconn.Open(ctx, opts.RedisURL)
	if err != nil {
		logger.Warn("redis room event bus unavailable, cross-instance fanout disabled", "error", err)
		return NewLocalBus()
	}
	logger.Info("redis room event bus enabled", "instance_id", opts.InstanceID)
	return NewRedisBus(client, opts.InstanceID)
}

// RunListener keeps bus.Listen running until ctx is done, restarting it
// after backoff when it fails.
func RunListener(ctx context.Context, bus Bus, h Handler, backoff time.Duration) {
	if !bus.Remote() {
		return
	}
	if backoff <= 0 {
		backoff = DefaultListenerBackoff
	}
	for {
		err := bus.Listen(ctx, h)
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}
		logger.Warn("room event listener failed, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
