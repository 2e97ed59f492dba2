package roombus

import (
	"context"
	"encoding/json"
)

// LocalBus is the single-instance bus. Publish is a no-op because local
// delivery never goes through the bus.
type LocalBus struct{}

// NewLocalBus creates a LocalBus.
func NewLocalBus() *LocalBus { return &LocalBus{} }

// Publish does nothing.
func (*LocalBus) Publish(context.Context, string, json.RawMessage) error { return nil }

// Listen blocks until ctx is done.
func (*LocalBus) Listen(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Remote reports false.
func (*LocalBus) Remote() bool { return false }

// Close is a no-op.
func (*LocalBus) Close() error { return nil }
