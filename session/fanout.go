package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/registry"
	"github.com/AltairaLabs/turnsync/roombus"
)

// Fanout delivers room messages to local members and, through the bus, to
// members connected to other instances.
type Fanout struct {
	conns *registry.Connections
	bus   roombus.Bus
}

// NewFanout creates a fanout over conns and bus.
func NewFanout(conns *registry.Connections, bus roombus.Bus) *Fanout {
	if bus == nil {
		bus = roombus.NewLocalBus()
	}
	return &Fanout{conns: conns, bus: bus}
}

// Broadcast sends msg to every member of roomID except exclude. Local members
// are served first and never wait on the bus. A bus failure is only logged.
func (f *Fanout) Broadcast(ctx context.Context, roomID string, msg any, exclude *registry.Conn) {
	if roomID == "" {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.WarnContext(ctx, "room broadcast encode failed", "error", err)
		return
	}
	f.conns.Broadcast(roomID, data, exclude)

	if !f.bus.Remote() {
		return
	}
	started := time.Now()
	err = f.bus.Publish(ctx, roomID, data)
	metrics.ObservePublishLatency(time.Since(started))
	if err != nil {
		logger.WarnContext(ctx, "room event publish failed", "room_id", roomID, "error", err)
	}
}

// Deliver is the bus handler for events published by other instances.
func (f *Fanout) Deliver(_ context.Context, env roombus.Envelope) {
	f.conns.Broadcast(env.RoomID, env.Payload, nil)
}
