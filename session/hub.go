// Package session runs one voice interview connection: it routes inbound
// frames, decides when a spoken turn is finished, completes it exactly once,
// and keeps the room's shared state and members in sync.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/turnsync/answer"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/registry"
	"github.com/AltairaLabs/turnsync/roombus"
	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/scoring"
	"github.com/AltairaLabs/turnsync/stt"
)

// Socket is a client connection. *websocket.Conn satisfies it.
type Socket interface {
	registry.Socket
	ReadMessage() (messageType int, p []byte, err error)
}

// Params identify one connection.
type Params struct {
	SessionID       string
	RoomID          string
	RoomReassigned  bool
	Participant     string
	AssistIntensity int
}

// Hub holds the collaborators shared by every session on this instance.
type Hub struct {
	cfg      Config
	conns    *registry.Connections
	sessions *registry.Sessions
	store    roomstate.Store
	bus      roombus.Bus
	fanout   *Fanout
	decoder  *protocol.Decoder
	active   sync.WaitGroup

	dialer    stt.Dialer
	generator answer.Generator
	newScorer func() scoring.Scorer
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithDialer sets the upstream transcription dialer. Without one every
// session warns stt_unavailable and relies on browser or QA transcripts.
func WithDialer(d stt.Dialer) HubOption {
	return func(h *Hub) { h.dialer = d }
}

// WithGenerator sets the answer suggestion backend.
func WithGenerator(g answer.Generator) HubOption {
	return func(h *Hub) { h.generator = g }
}

// WithScorer sets the per-session scorer factory.
func WithScorer(newScorer func() scoring.Scorer) HubOption {
	return func(h *Hub) { h.newScorer = newScorer }
}

// WithSessions shares a session registry with the caller, for cleanup.
func WithSessions(s *registry.Sessions) HubOption {
	return func(h *Hub) { h.sessions = s }
}

// NewHub creates a hub. A nil store or bus selects the in-process implementation.
func NewHub(cfg Config, store roomstate.Store, bus roombus.Bus, opts ...HubOption) (*Hub, error) {
	decoder, err := protocol.NewDecoder()
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = roomstate.NewMemoryStore()
	}
	if bus == nil {
		bus = roombus.NewLocalBus()
	}
	conns := registry.NewConnections()
	h := &Hub{
		cfg:      cfg,
		conns:    conns,
		sessions: registry.NewSessions(),
		store:    store,
		bus:      bus,
		fanout:   NewFanout(conns, bus),
		decoder:  decoder,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.newScorer == nil {
		questions := cfg.Questions
		h.newScorer = func() scoring.Scorer { return scoring.NewQuestionBank(questions) }
	}
	return h, nil
}

// Connections exposes the local connection registry.
func (h *Hub) Connections() *registry.Connections { return h.conns }

// Sessions exposes the session registry.
func (h *Hub) Sessions() *registry.Sessions { return h.sessions }

// Listen runs the room bus listener until ctx is done, retrying after backoff.
func (h *Hub) Listen(ctx context.Context, backoff time.Duration) {
	roombus.RunListener(ctx, h.bus, h.fanout.Deliver, backoff)
}

// Serve runs one connection until it stops. It blocks.
func (h *Hub) Serve(ctx context.Context, sock Socket, p Params) {
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if p.Participant != ParticipantInterviewer {
		p.Participant = ParticipantCandidate
	}
	if p.AssistIntensity <= 0 {
		p.AssistIntensity = roomstate.DefaultAssistIntensity
	}
	h.active.Add(1)
	defer h.active.Done()
	newSession(h, sock, p).run(ctx)
}

// Wait blocks until every Serve call has returned or ctx is done. Sessions
// stop with server_shutdown when the context passed to Serve is cancelled.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("sessions still open at shutdown deadline", "count", h.conns.Len())
		return ctx.Err()
	}
}
