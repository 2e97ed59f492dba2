package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/turnsync/answer"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/silence"
	"github.com/AltairaLabs/turnsync/stt"
)

const waitTimeout = 2 * time.Second

type frame struct {
	kind int
	data []byte
	err  error
}

// clientSocket plays the browser side of one session.
type clientSocket struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	msgs      []map[string]any
	closeCode int
	closeText string
}

func newClientSocket() *clientSocket {
	return &clientSocket{in: make(chan frame, 16), closed: make(chan struct{})}
}

func (c *clientSocket) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.kind, f.data, f.err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *clientSocket) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == websocket.CloseMessage {
		if len(data) >= 2 {
			c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
			c.closeText = string(data[2:])
		}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *clientSocket) SetWriteDeadline(time.Time) error { return nil }

func (c *clientSocket) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *clientSocket) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- frame{kind: websocket.TextMessage, data: data}
}

func (c *clientSocket) sendRaw(data []byte) {
	c.in <- frame{kind: websocket.TextMessage, data: data}
}

func (c *clientSocket) sendAudio(n int) {
	c.in <- frame{kind: websocket.BinaryMessage, data: make([]byte, n)}
}

func (c *clientSocket) hangup() {
	c.in <- frame{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
}

func (c *clientSocket) messages(kind string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, m := range c.msgs {
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *clientSocket) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

// waitFor returns the first message of kind matching match.
func (c *clientSocket) waitFor(t *testing.T, kind string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	var found map[string]any
	require.Eventually(t, func() bool {
		for _, m := range c.messages(kind) {
			if match == nil || match(m) {
				found = m
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond, "no %s message", kind)
	return found
}

// roundTrip sends a ping and waits for the pong, so every earlier frame has
// been handled.
func (c *clientSocket) roundTrip(t *testing.T) {
	t.Helper()
	before := len(c.messages("pong"))
	c.sendJSON(t, map[string]string{"type": "ping"})
	require.Eventually(t, func() bool { return len(c.messages("pong")) > before },
		waitTimeout, 5*time.Millisecond)
}

func (c *clientSocket) closeFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText
}

func field(key, want string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m[key] == want }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tick = 10 * time.Millisecond
	cfg.Silence = silence.Config{
		FinalAfter:      50 * time.Millisecond,
		PartialAfter:    150 * time.Millisecond,
		HardTimeout:     5 * time.Second,
		MinFinalWords:   4,
		MinPartialWords: 8,
		MaxMissedFinals: 2,
	}
	cfg.HeartbeatInterval = 0
	cfg.KeepaliveInterval = 0
	cfg.TextRatePerSec = 0
	cfg.MaxTextBytes = 1024
	cfg.AnswerTimeout = time.Second
	cfg.QAMode = false
	cfg.AllowBrowserSTT = false
	cfg.AutoNext = true
	cfg.MaxTurns = 5
	cfg.Questions = []string{"What is your biggest weakness?"}
	return cfg
}

func newTestHub(t *testing.T, cfg Config, opts ...HubOption) *Hub {
	t.Helper()
	h, err := NewHub(cfg, nil, nil, opts...)
	require.NoError(t, err)
	return h
}

// serve runs a session in the background and returns a channel closed when it ends.
func serve(ctx context.Context, h *Hub, sock *clientSocket, p Params) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(ctx, sock, p)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("session did not stop")
	}
}

func fixedGenerator(deltas ...string) answer.Generator {
	return answer.GeneratorFunc(func(ctx context.Context, _ answer.Request) (<-chan answer.Chunk, error) {
		out := make(chan answer.Chunk)
		go func() {
			defer close(out)
			for _, d := range deltas {
				select {
				case out <- answer.Chunk{Delta: d}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	})
}

// blockingGenerator never produces a chunk and ends when its context does.
func blockingGenerator() answer.Generator {
	return answer.GeneratorFunc(func(ctx context.Context, _ answer.Request) (<-chan answer.Chunk, error) {
		out := make(chan answer.Chunk)
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	})
}

// fakeStream is an upstream transcription stream driven by the test.
type fakeStream struct {
	events chan stt.Event
	once   sync.Once

	mu      sync.Mutex
	frames  int
	sendErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stt.Event, 16)}
}

func (s *fakeStream) SendAudio(context.Context, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return s.sendErr
}

func (s *fakeStream) failSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *fakeStream) Events() <-chan stt.Event { return s.events }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeStream) say(text string, final bool) {
	s.events <- stt.Event{Text: text, IsFinal: final, Received: time.Now()}
}

func streamDialer(s *fakeStream) stt.Dialer {
	return stt.DialerFunc(func(context.Context) (stt.Stream, error) { return s, nil })
}

// degradingDialer hands out s once; every later dial is refused for good.
func degradingDialer(s *fakeStream) stt.Dialer {
	var dials atomic.Int32
	return stt.DialerFunc(func(context.Context) (stt.Stream, error) {
		if dials.Add(1) == 1 {
			return s, nil
		}
		return nil, stt.NewTranscriptionError("fake", "401", "unauthorized", nil, false)
	})
}

// queueDialer hands out streams in order, one per session.
func queueDialer(streams ...*fakeStream) stt.Dialer {
	var mu sync.Mutex
	return stt.DialerFunc(func(context.Context) (stt.Stream, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(streams) == 0 {
			return nil, errors.New("no stream queued")
		}
		next := streams[0]
		streams = streams[1:]
		return next, nil
	})
}

// disconnects reads ws_disconnect_total for reason.
func disconnects(t *testing.T, reason string) float64 {
	t.Helper()
	families, err := metrics.NewExporter().Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "turnsync_ws_disconnect_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
