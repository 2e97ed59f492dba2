// Package roombus fans room broadcasts out to other server instances.
//
// Each instance delivers broadcasts to its own sockets directly; the bus only
// carries them to the other instances. Receivers drop envelopes they
// published themselves.
package roombus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultListenerBackoff is the pause before a failed listener restarts.
const DefaultListenerBackoff = 1500 * time.Millisecond

// ErrClosed is returned after Close.
var ErrClosed = errors.New("room bus closed")

// Envelope is the wire form of one published room event.
type Envelope struct {
	RoomID         string          `json:"room_id,omitempty"`
	SourceInstance string          `json:"source_instance"`
	PublishedAt    float64         `json:"published_at"`
	Payload        json.RawMessage `json:"payload"`
}

// PublishedTime converts PublishedAt to a time.Time.
func (e Envelope) PublishedTime() time.Time {
	sec := int64(e.PublishedAt)
	return time.Unix(sec, int64((e.PublishedAt-float64(sec))*float64(time.Second)))
}

// Handler receives remote envelopes.
type Handler func(ctx context.Context, env Envelope)

// Bus publishes and receives room events.
type Bus interface {
	// Publish sends payload to every other instance serving roomID.
	Publish(ctx context.Context, roomID string, payload json.RawMessage) error

	// Listen delivers remote envelopes to h until ctx is done or the
	// subscription fails.
	Listen(ctx context.Context, h Handler) error

	// Remote reports whether the bus reaches other instances.
	Remote() bool

	Close() error
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func nowDelay(publishedAt float64) time.Duration {
	return time.Duration((nowSeconds() - publishedAt) * float64(time.Second))
}
