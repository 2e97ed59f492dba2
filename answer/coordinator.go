package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/telemetry"
)

// Terminal reasons carried by answer_suggestion_done.
const (
	ReasonCompleted       = "completed"
	ReasonEmpty           = "empty"
	ReasonTimeoutFallback = "timeout_fallback"
	ReasonErrorFallback   = "error_fallback"
	ReasonCancelled       = "cancelled"
)

// Defaults.
const (
	DefaultTimeout    = 20 * time.Second
	DefaultStateEvery = 10
)

// Sink receives everything a suggestion stream produces.
type Sink interface {
	// Emit delivers msg to the session's own socket and the rest of its room.
	Emit(ctx context.Context, msg protocol.Message)
	// UpdateRoom writes shared room state. Failures are the sink's to log.
	UpdateRoom(ctx context.Context, u roomstate.Update)
}

// Config configures a Coordinator.
type Config struct {
	SessionID       string
	RoomID          string
	AssistIntensity int
	Timeout         time.Duration
	// StateEvery is how many chunks pass between partial_answer room writes.
	StateEvery int
}

type stream struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator runs suggestion streams for one session.
type Coordinator struct {
	gen  Generator
	sink Sink
	cfg  Config

	// startMu serializes Start so supersede ordering is preserved.
	startMu sync.Mutex
	mu      sync.Mutex
	active  *stream
	closed  bool
}

// NewCoordinator creates a coordinator. A nil gen always produces the fallback answer.
func NewCoordinator(gen Generator, sink Sink, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StateEvery <= 0 {
		cfg.StateEvery = DefaultStateEvery
	}
	if cfg.AssistIntensity <= 0 {
		cfg.AssistIntensity = roomstate.DefaultAssistIntensity
	}
	return &Coordinator{gen: gen, sink: sink, cfg: cfg}
}

// Start begins a suggestion for q, bound to ctx. It returns false when q is
// blank, the same question is already streaming, or the coordinator is closed.
// A different question in flight is cancelled and has emitted its cancelled
// done event before Start launches the new stream.
func (c *Coordinator) Start(ctx context.Context, q string) bool {
	q = strings.TrimSpace(q)
	key := question.ShortKey(q)
	if key == "" {
		return false
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	prev := c.active
	if prev != nil && prev.key == key {
		c.mu.Unlock()
		logger.DebugContext(ctx, "answer already streaming for question", "key", key)
		return false
	}
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &stream{key: key, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return false
	}
	c.active = s
	c.mu.Unlock()

	go c.run(sctx, s, q)
	return true
}

// Cancel stops the in-flight stream, if any, and waits for its done event.
func (c *Coordinator) Cancel(reason string) bool {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return false
	}
	logger.Debug("cancelling answer stream", "session_id", c.cfg.SessionID, "reason", reason)
	s.cancel()
	<-s.done
	return true
}

// Active reports whether a stream is in flight.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Close cancels the in-flight stream and rejects further starts.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Cancel("session_closed")
}

func (c *Coordinator) run(ctx context.Context, s *stream, q string) {
	started := time.Now()
	ectx := context.WithoutCancel(ctx)
	reason, suggestion := ReasonCancelled, ""

	ctx, span := telemetry.StartSpan(ctx, "answer.stream",
		telemetry.AttrSessionID.String(c.cfg.SessionID),
		telemetry.AttrRoomID.String(c.cfg.RoomID),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ectx, "answer stream panicked", "panic", r)
			reason, suggestion = ReasonErrorFallback, Fallback(q)
		}
		c.finish(ectx, q, reason, suggestion)
		span.SetAttributes(telemetry.AttrReason.String(reason))
		telemetry.EndSpan(span, nil)
		metrics.ObserveAnswerStream(reason, time.Since(started))

		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
		s.cancel()
		close(s.done)
	}()

	metrics.AnswerStreamStarted()
	c.sink.Emit(ectx, protocol.AnswerStart(c.cfg.SessionID, c.cfg.RoomID, q))
	c.sink.UpdateRoom(ectx, roomstate.Update{
		ActiveQuestion:  roomstate.Ptr(q),
		PartialAnswer:   roomstate.Ptr(""),
		IsStreaming:     roomstate.Ptr(true),
		AssistIntensity: roomstate.Ptr(c.cfg.AssistIntensity),
	})
	c.sink.Emit(ectx, protocol.ThinkingChunk(c.cfg.SessionID, c.cfg.RoomID, q))

	reason, suggestion = c.generate(ctx, ectx, q)
}

// generate streams chunks and classifies how the stream ended.
func (c *Coordinator) generate(ctx, ectx context.Context, q string) (reason, suggestion string) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ended := func(err error) (string, string) {
		switch {
		case ctx.Err() != nil:
			return ReasonCancelled, ""
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			logger.WarnContext(ectx, "answer suggestion timed out")
			return ReasonTimeoutFallback, Fallback(q)
		default:
			logger.WarnContext(ectx, "answer suggestion failed", "error", err)
			return ReasonErrorFallback, Fallback(q)
		}
	}

	if c.gen == nil {
		return ended(ErrNoGenerator)
	}
	chunks, err := c.gen.Stream(tctx, Request{
		Question:        q,
		SessionID:       c.cfg.SessionID,
		AssistIntensity: c.cfg.AssistIntensity,
	})
	if err != nil {
		return ended(err)
	}

	var built strings.Builder
	index := 1
	for {
		select {
		case <-tctx.Done():
			return ended(tctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					return ReasonCancelled, ""
				}
				text := strings.TrimSpace(built.String())
				if text == "" {
					return ReasonEmpty, ""
				}
				return ReasonCompleted, text
			}
			if chunk.Err != nil {
				return ended(chunk.Err)
			}
			if chunk.Delta == "" {
				continue
			}
			built.WriteString(chunk.Delta)
			c.sink.Emit(ectx, protocol.AnswerChunk(c.cfg.SessionID, c.cfg.RoomID, q, chunk.Delta, index))
			index++
			if index%c.cfg.StateEvery == 0 {
				c.sink.UpdateRoom(ectx, roomstate.Update{
					ActiveQuestion:  roomstate.Ptr(q),
					PartialAnswer:   roomstate.Ptr(built.String()),
					IsStreaming:     roomstate.Ptr(true),
					AssistIntensity: roomstate.Ptr(c.cfg.AssistIntensity),
				})
			}
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, q, reason, suggestion string) {
	c.sink.Emit(ctx, protocol.AnswerDone(c.cfg.SessionID, c.cfg.RoomID, q, suggestion, reason))
	c.sink.UpdateRoom(ctx, roomstate.Update{
		ActiveQuestion:  roomstate.Ptr(q),
		PartialAnswer:   roomstate.Ptr(suggestion),
		IsStreaming:     roomstate.Ptr(false),
		AssistIntensity: roomstate.Ptr(c.cfg.AssistIntensity),
	})
	if reason == ReasonCancelled {
		metrics.AnswerStreamCancelled()
		return
	}
	if suggestion != "" {
		c.sink.Emit(ctx, protocol.AnswerSuggestion(c.cfg.SessionID, c.cfg.RoomID, q, suggestion, reason))
	}
}
