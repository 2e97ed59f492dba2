// Package registry tracks live sockets by room and sessions by id.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteWait is the write deadline for one outbound frame.
const DefaultWriteWait = 10 * time.Second

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Socket is the subset of *websocket.Conn used for sending.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one client socket. Sends are serialized so frames never interleave.
type Conn struct {
	ID          string
	SessionID   string
	RoomID      string
	Participant string

	sock      Socket
	writeWait time.Duration

	sendMu sync.Mutex
	closed bool
}

// NewConn wraps sock.
func NewConn(id, sessionID, roomID, participant string, sock Socket) *Conn {
	return &Conn{
		ID:          id,
		SessionID:   sessionID,
		RoomID:      roomID,
		Participant: participant,
		sock:        sock,
		writeWait:   DefaultWriteWait,
	}
}

// SendJSON encodes v and sends it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.SendText(data)
}

// SendText sends pre-encoded JSON.
func (c *Conn) SendText(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame carrying reason and closes the socket. Later
// sends fail with ErrConnClosed.
func (c *Conn) Close(code int, reason string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.sock.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return c.sock.Close()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.closed
}
