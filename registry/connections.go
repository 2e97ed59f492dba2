package registry

import (
	"sync"

	"github.com/AltairaLabs/turnsync/logger"
)

// Connections indexes live sockets by room. It only knows about sockets on
// this instance.
type Connections struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	all   map[*Conn]struct{}
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{
		rooms: make(map[string]map[*Conn]struct{}),
		all:   make(map[*Conn]struct{}),
	}
}

// Register adds c and returns the number of rooms with local members.
func (r *Connections) Register(c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[c] = struct{}{}
	if c.RoomID != "" {
		set, ok := r.rooms[c.RoomID]
		if !ok {
			set = make(map[*Conn]struct{})
			r.rooms[c.RoomID] = set
		}
		set[c] = struct{}{}
	}
	return len(r.rooms)
}

// Unregister removes c and returns the number of rooms with local members.
func (r *Connections) Unregister(c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, c)
	if set, ok := r.rooms[c.RoomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, c.RoomID)
		}
	}
	return len(r.rooms)
}

// Members returns the local sockets in roomID.
func (r *Connections) Members(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered sockets.
func (r *Connections) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// Rooms returns the number of rooms with local members.
func (r *Connections) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Broadcast sends data to every local member of roomID except exclude and
// returns how many sends succeeded. A failing member never stops delivery to
// the others.
func (r *Connections) Broadcast(roomID string, data []byte, exclude *Conn) int {
	if roomID == "" {
		return 0
	}
	sent := 0
	for _, c := range r.Members(roomID) {
		if c == exclude {
			continue
		}
		if err := c.SendText(data); err != nil {
			logger.Debug("room broadcast send failed", "room_id", roomID, "connection_id", c.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every registered socket with reason.
func (r *Connections) CloseAll(code int, reason string) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.all))
	for c := range r.all {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close(code, reason)
	}
}
