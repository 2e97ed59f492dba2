package stt

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/turnsync/internal/wsconn"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
)

// GuardConfig tunes a Guard.
type GuardConfig struct {
	// StaleAfter is how long the stream may go without an event while audio
	// is flowing before it is considered stalled.
	StaleAfter time.Duration

	// WatchdogInterval is how often staleness is checked.
	WatchdogInterval time.Duration

	// MaxReconnects is the number of dial attempts per reconnect before the
	// guard gives up and degrades.
	MaxReconnects int

	// BackoffBase and BackoffMax bound the delay between reconnect dials.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// StallTimeout is how long delivery waits on a full Events channel
	// before the event is dropped.
	StallTimeout time.Duration
}

// DefaultGuardConfig returns production settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		StaleAfter:       10 * time.Second,
		WatchdogInterval: 5 * time.Second,
		MaxReconnects:    3,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       4 * time.Second,
		EventBuffer:      64,
		StallTimeout:     5 * time.Second,
	}
}

// Reconnect outcomes recorded in metrics.
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeDegraded = "degraded"
)

// Guard supervises one upstream Stream for a session.
//
// Events with a Start offset below the last delivered one are dropped; the
// marker resets whenever a new stream is installed. Events with empty text
// refresh liveness but are not delivered.
type Guard struct {
	dialer Dialer
	cfg    GuardConfig
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	stream    Stream
	gen       uint64
	started   bool
	closed    bool
	lastAudio time.Time
	lastEvent time.Time
	lastStart float64

	reconnectMu sync.Mutex

	events      chan Event
	closeEvents sync.Once
	degraded    chan struct{}
	degradeOnce sync.Once
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardClock overrides the time source used for staleness checks.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard around dialer. Nothing is dialed until Start.
func NewGuard(dialer Dialer, cfg GuardConfig, opts ...GuardOption) *Guard {
	def := DefaultGuardConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = def.StallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Guard{
		dialer:   dialer,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, cfg.EventBuffer),
		degraded: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start dials the first stream and starts the watchdog. A failed first dial
// is returned to the caller and does not degrade the guard.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	s, err := g.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = s.Close()
		return ErrClosed
	}
	g.started = true
	g.lastAudio = g.now()
	g.mu.Unlock()

	g.install(s)
	g.wg.Add(1)
	go g.watchdog()
	return nil
}

func (g *Guard) install(s Stream) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = s.Close()
		return
	}
	g.gen++
	gen := g.gen
	g.stream = s
	g.lastStart = 0
	g.lastEvent = g.now()
	g.mu.Unlock()

	g.wg.Add(1)
	go g.pump(s, gen)
}

func (g *Guard) pump(s Stream, gen uint64) {
	defer g.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transcription pump panic", "panic", r)
		}
	}()

	for {
		select {
		case <-g.ctx.Done():
			return
		case ev, ok := <-s.Events():
			if !ok {
				if g.isCurrent(gen) && g.ctx.Err() == nil {
					g.reconnect("stream_closed")
				}
				return
			}
			g.deliver(gen, ev)
		}
	}
}

func (g *Guard) isCurrent(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen == gen
}

func (g *Guard) deliver(gen uint64, ev Event) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.lastEvent = g.now()
	if ev.Start < g.lastStart {
		g.mu.Unlock()
		logger.Warn("out-of-order transcription event ignored", "start", ev.Start)
		return
	}
	g.lastStart = ev.Start
	g.mu.Unlock()

	if ev.Text == "" {
		return
	}
	if ev.Received.IsZero() {
		ev.Received = g.now()
	}

	timer := time.NewTimer(g.cfg.StallTimeout)
	defer timer.Stop()
	select {
	case g.events <- ev:
	case <-timer.C:
		logger.Warn("transcription consumer stalled, event dropped",
			"stall_timeout", g.cfg.StallTimeout, "final", ev.IsFinal)
	case <-g.ctx.Done():
	}
}

func (g *Guard) watchdog() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.degraded:
			return
		case <-ticker.C:
			if g.stale() {
				logger.Error("transcription stream stalled, reconnecting",
					"stale_after", g.cfg.StaleAfter)
				g.reconnect("stale")
			}
		}
	}
}

// stale reports whether audio was sent since the last event and no event has
// arrived for StaleAfter.
func (g *Guard) stale() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stream == nil {
		return false
	}
	return g.lastAudio.After(g.lastEvent) && g.now().Sub(g.lastEvent) >= g.cfg.StaleAfter
}

// reconnect replaces the current stream. Concurrent triggers coalesce into
// the one already running.
func (g *Guard) reconnect(reason string) {
	if !g.reconnectMu.TryLock() {
		return
	}
	defer g.reconnectMu.Unlock()
	if g.IsDegraded() || g.ctx.Err() != nil {
		return
	}

	g.mu.Lock()
	old := g.stream
	g.stream = nil
	g.gen++
	g.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	logger.Warn("transcription stream reconnecting", "reason", reason)
	delay := g.cfg.BackoffBase
	for attempt := 1; attempt <= g.cfg.MaxReconnects; attempt++ {
		select {
		case <-g.ctx.Done():
			return
		case <-time.After(wsconn.Backoff(delay, g.cfg.BackoffMax)):
		}
		delay = min(delay*2, g.cfg.BackoffMax)

		s, err := g.dialer.Dial(g.ctx)
		if err == nil {
			metrics.STTReconnect(outcomeSuccess)
			logger.Info("transcription stream reconnected", "attempt", attempt)
			g.install(s)
			return
		}
		metrics.STTReconnect(outcomeFailure)
		logger.Warn("transcription reconnect failed",
			"attempt", attempt, "max_attempts", g.cfg.MaxReconnects,
			"retryable", IsRetryable(err), "error", err)
		if !IsRetryable(err) {
			break
		}
	}
	g.degrade()
}

func (g *Guard) degrade() {
	g.degradeOnce.Do(func() {
		metrics.STTReconnect(outcomeDegraded)
		logger.Error("transcription reconnect budget exhausted, continuing without live transcripts")
		close(g.degraded)
	})
}

// SendAudio forwards a frame and records audio activity.
func (g *Guard) SendAudio(ctx context.Context, frame []byte) error {
	return g.send(ctx, frame, true)
}

// SendKeepalive forwards a filler frame without counting it as audio
// activity for staleness detection.
func (g *Guard) SendKeepalive(ctx context.Context, frame []byte) error {
	return g.send(ctx, frame, false)
}

func (g *Guard) send(ctx context.Context, frame []byte, activity bool) error {
	if len(frame) == 0 {
		return ErrEmptyAudio
	}
	if g.IsDegraded() {
		return ErrDegraded
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	s := g.stream
	if activity {
		g.lastAudio = g.now()
	}
	g.mu.Unlock()

	if s == nil {
		return ErrNotStarted
	}
	return s.SendAudio(ctx, frame)
}

// Events delivers in-order transcription events. It is closed by Close.
func (g *Guard) Events() <-chan Event { return g.events }

// Degraded is closed when the guard stops reconnecting.
func (g *Guard) Degraded() <-chan struct{} { return g.degraded }

// IsDegraded reports whether the reconnect budget is spent.
func (g *Guard) IsDegraded() bool {
	select {
	case <-g.degraded:
		return true
	default:
		return false
	}
}

// Connected reports whether a stream is currently installed.
func (g *Guard) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream != nil && !g.closed
}

// Close stops the watchdog, closes the stream and the Events channel. It is
// idempotent.
func (g *Guard) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	s := g.stream
	g.stream = nil
	g.gen++
	g.mu.Unlock()

	g.cancel()
	var err error
	if s != nil {
		err = s.Close()
	}
	g.wg.Wait()
	g.closeEvents.Do(func() { close(g.events) })
	return err
}
