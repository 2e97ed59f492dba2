package roombus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
)

const channelPattern = "room:*:events"

func channel(roomID string) string { return "room:" + roomID + ":events" }

// roomFromChannel extracts the id from room:{id}:events.
func roomFromChannel(ch string) (string, bool) {
	parts := strings.Split(ch, ":")
	if len(parts) < 3 || parts[0] != "room" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RedisBus publishes on room:{id}:events and pattern-subscribes to
// room:*:events.
type RedisBus struct {
	client   *redis.Client
	instance string
	closed   atomic.Bool
}

// NewRedisBus creates a bus tagged with this instance's id.
func NewRedisBus(client *redis.Client, instanceID string) *RedisBus {
	if instanceID == "" {
		instanceID = "instance-unknown"
	}
	return &RedisBus{client: client, instance: instanceID}
}

// Publish wraps payload in an Envelope and publishes it on the room channel.
func (b *RedisBus) Publish(ctx context.Context, roomID string, payload json.RawMessage) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if roomID == "" {
		return nil
	}
	data, err := json.Marshal(Envelope{
		SourceInstance: b.instance,
		PublishedAt:    nowSeconds(),
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channel(roomID), data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Listen subscribes and delivers remote envelopes. Own echoes and
// undecodable messages are dropped. Fanout delay is observed per delivery.
func (b *RedisBus) Listen(ctx context.Context, h Handler) error {
	if b.closed.Load() {
		return ErrClosed
	}
	sub := b.client.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe failed: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				if b.closed.Load() {
					return ErrClosed
				}
				return fmt.Errorf("redis subscription closed")
			}
			b.dispatch(ctx, msg, h)
		}
	}
}

func (b *RedisBus) dispatch(ctx context.Context, msg *redis.Message, h Handler) {
	roomID, ok := roomFromChannel(msg.Channel)
	if !ok {
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		logger.Debug("room event decode failed", "channel", msg.Channel, "error", err)
		return
	}
	if env.SourceInstance == b.instance {
		return
	}
	env.RoomID = roomID
	if env.PublishedAt > 0 {
		metrics.ObserveFanoutDelay(nowDelay(env.PublishedAt))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("room event handler panic", "room_id", roomID, "panic", r)
		}
	}()
	h(ctx, env)
}

// Remote reports true.
func (b *RedisBus) Remote() bool { return true }

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.client.Close()
}
