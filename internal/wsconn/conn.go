// Package wsconn is the client-side WebSocket transport used for upstream
// streaming providers. It owns dialing, retry with jittered backoff,
// serialized writes, and the read loop, and leaves message encoding to the
// caller.
package wsconn

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/turnsync/logger"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 5 * time.Second
	DefaultMaxMessageSize   = 1 << 20
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultBackoffMax       = 8 * time.Second
	DefaultCloseGracePeriod = 2 * time.Second
)

// jitter is applied as +-25% of the delay.
const (
	jitterFactor    = 0.25
	jitterPrecision = 1000
)

var (
	// ErrNotConnected is returned by writes before Dial succeeds.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("websocket is closed")
)

// HandshakeError is a failed dial. Status is the HTTP status of the upgrade
// response, zero when the server was not reached.
type HandshakeError struct {
	URL    string
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dial %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("dial %s: %v", e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Config configures a Conn.
type Config struct {
	URL     string
	Headers http.Header

	DialTimeout      time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	CloseGracePeriod time.Duration

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.CloseGracePeriod <= 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			HandshakeTimeout: c.DialTimeout,
			TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
}

// Conn is a single upstream WebSocket connection.
type Conn struct {
	cfg Config

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

// New creates an unconnected Conn.
func New(cfg Config) *Conn {
	cfg.applyDefaults()
	return &Conn{cfg: cfg}
}

// Dial performs one handshake attempt.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		herr := &HandshakeError{URL: logger.RedactSensitiveData(c.cfg.URL), Err: err}
		if resp != nil {
			herr.Status = resp.StatusCode
		}
		logger.Debug("upstream websocket dial failed", "url", herr.URL, "status", herr.Status, "error", err)
		return herr
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws = ws
	return nil
}

// DialWithRetry dials up to MaxRetries times with exponential backoff.
func (c *Conn) DialWithRetry(ctx context.Context) error {
	var lastErr error
	delay := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = c.Dial(ctx); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrClosed) {
			return lastErr
		}
		logger.Warn("upstream websocket connect attempt failed",
			"attempt", attempt, "max_attempts", c.cfg.MaxRetries, "error", lastErr)
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(delay, c.cfg.BackoffMax)):
		}
		delay = min(delay*2, c.cfg.BackoffMax)
	}
	return fmt.Errorf("connect failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Conn) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.ws == nil {
		return nil, ErrNotConnected
	}
	return c.ws, nil
}

func (c *Conn) write(messageType int, data []byte) error {
	ws, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteBinary sends one binary frame.
func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// WriteJSON encodes v and sends it as a text frame.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// ReadLoop delivers every text frame to handle until the connection fails,
// the peer closes normally (nil error), or ctx is cancelled. Cancelling ctx
// closes the underlying socket to unblock the reader.
func (c *Conn) ReadLoop(ctx context.Context, handle func([]byte)) error {
	ws, err := c.current()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil
			case c.IsClosed():
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if msgType == websocket.TextMessage {
			handle(data)
		}
	}
}

// Close sends a close frame and closes the socket. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return ws.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Backoff returns base capped at maxDelay with +-25% jitter.
func Backoff(base, maxDelay time.Duration) time.Duration {
	d := min(base, maxDelay)
	n, err := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	if err != nil {
		return d
	}
	// n/500 - 1 spans [-1, 1)
	j := float64(d) * jitterFactor * (float64(n.Int64())/(jitterPrecision/2) - 1)
	out := time.Duration(float64(d) + j)
	if out < 0 {
		return 0
	}
	return min(out, maxDelay)
}
