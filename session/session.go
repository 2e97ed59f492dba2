package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/turnsync/answer"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/registry"
	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/scoring"
	"github.com/AltairaLabs/turnsync/silence"
	"github.com/AltairaLabs/turnsync/stt"
	"github.com/AltairaLabs/turnsync/transcript"
)

const sttUnavailableMessage = "Streaming transcription unavailable. Speech scoring is paused until reconnect."

// Session is one client connection.
type Session struct {
	hub  *Hub
	cfg  Config
	p    Params
	sock Socket
	conn *registry.Conn
	now  func() time.Time

	agg       *transcript.Aggregator
	watcher   *silence.Watcher
	pending   silence.PendingQuestion
	questions question.Dedup
	candidate question.Dedup
	scorer    scoring.Scorer
	answers   *answer.Coordinator
	guard     *stt.Guard
	limiter   *rate.Limiter

	st     state
	cancel context.CancelFunc
}

func newSession(h *Hub, sock Socket, p Params) *Session {
	cfg := h.cfg
	s := &Session{
		hub:  h,
		cfg:  cfg,
		p:    p,
		sock: sock,
		conn: registry.NewConn(uuid.NewString(), p.SessionID, p.RoomID, p.Participant, sock),
		now:  time.Now,
		agg: transcript.NewAggregator(
			transcript.WithHesitationBand(cfg.HesitationMin, cfg.HesitationMax),
		),
		watcher: silence.NewWatcher(cfg.Silence),
		scorer:  h.newScorer(),
		limiter: newLimiter(cfg.TextRatePerSec, cfg.TextBurst),
	}
	s.answers = answer.NewCoordinator(h.generator, s, answer.Config{
		SessionID:       p.SessionID,
		RoomID:          p.RoomID,
		AssistIntensity: p.AssistIntensity,
		Timeout:         cfg.AnswerTimeout,
	})
	return s
}

// newLimiter returns the inbound text-frame limiter. A non-positive rate disables limiting.
func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
}

func (s *Session) candidateRole() bool { return s.p.Participant == ParticipantCandidate }

// run owns the session from registration to teardown.
func (s *Session) run(parent context.Context) {
	ctx := logger.WithLoggingContext(parent, &logger.LoggingFields{
		SessionID:    s.p.SessionID,
		RoomID:       s.p.RoomID,
		ConnectionID: s.conn.ID,
		Participant:  s.p.Participant,
	})
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	defer s.cancel()
	stopOnShutdown := context.AfterFunc(parent, func() { s.stop(ctx, StopServerShutdown) })
	defer stopOnShutdown()

	now := s.now()
	s.st.seen(now)
	s.st.audio(now)
	s.register(ctx)
	s.startTranscription(ctx)

	if err := s.greet(ctx); err != nil {
		logger.WarnContext(ctx, "initial question send failed, closing session early", "error", err)
		s.stop(ctx, StopSocketClosed)
		s.teardown(ctx, nil)
		return
	}
	logger.InfoContext(ctx, "session started")

	g := &errgroup.Group{}
	s.spawn(ctx, g, "ingress", s.readLoop)
	if s.guard != nil {
		s.spawn(ctx, g, "transcripts", s.transcriptLoop)
		s.spawn(ctx, g, "keepalive", s.keepaliveLoop)
	}
	if s.candidateRole() {
		s.spawn(ctx, g, "silence", s.silenceLoop)
	}
	s.spawn(ctx, g, "heartbeat", s.heartbeatLoop)

	<-ctx.Done()
	s.teardown(ctx, g)
}

// spawn runs task in g. Panics are logged and end only that task.
func (s *Session) spawn(ctx context.Context, g *errgroup.Group, name string, task func(context.Context) error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				_, lc, _ := s.st.current()
				tctx := ctx
				if lc != nil {
					tctx = logger.WithTurnID(ctx, lc.ID())
				}
				logger.ErrorContext(tctx, "session task panicked", "task", name, "panic", r)
				err = nil
			}
		}()
		if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WarnContext(ctx, "session task ended", "task", name, "error", err)
		}
		return nil
	})
}

// stop records reason once and cancels the session.
func (s *Session) stop(ctx context.Context, reason string) {
	if s.st.setStopReason(reason) {
		logger.InfoContext(ctx, "session stop requested", "reason", reason)
		s.hub.sessions.Touch(s.p.SessionID)
	}
	s.cancel()
}

func (s *Session) register(ctx context.Context) {
	metrics.ConnectionOpened()
	metrics.SetRoomsActive(s.hub.conns.Register(s.conn))
	s.hub.sessions.Register(s.p.SessionID, s.p.RoomID, s.p.Participant)
	if s.p.RoomID == "" {
		return
	}
	if err := s.hub.store.AddMember(ctx, s.p.RoomID, s.conn.ID); err != nil {
		logger.WarnContext(ctx, "room member add failed", "error", err)
	}
}

func (s *Session) startTranscription(ctx context.Context) {
	if s.cfg.QAMode {
		logger.InfoContext(ctx, "qa mode, upstream transcription disabled")
		return
	}
	if s.hub.dialer == nil {
		s.warn(ctx, protocol.WarnSTTUnavailable, sttUnavailableMessage)
		return
	}
	guard := stt.NewGuard(s.hub.dialer, s.cfg.Guard)
	if err := guard.Start(ctx); err != nil {
		logger.WarnContext(ctx, "transcription connect failed", "error", logger.RedactSensitiveData(err.Error()))
		_ = guard.Close()
		s.warn(ctx, protocol.WarnSTTUnavailable, sttUnavailableMessage)
		return
	}
	s.guard = guard
}

// greet sends room_assigned when needed and the opening question.
func (s *Session) greet(ctx context.Context) error {
	first := question.DefaultOpening
	var room roomstate.State
	if s.p.RoomID != "" {
		var err error
		if room, err = s.hub.store.Get(ctx, s.p.RoomID); err != nil {
			logger.WarnContext(ctx, "room state read failed", "error", err)
		}
		first = question.WaitingPlaceholder
		if room.ActiveQuestion != "" {
			first = room.ActiveQuestion
		}
	}
	s.st.begin(first, s.now())

	if s.p.RoomReassigned {
		if err := s.conn.SendJSON(protocol.RoomAssigned(s.p.SessionID, s.p.RoomID)); err != nil {
			return err
		}
	}
	if err := s.conn.SendJSON(protocol.Question(s.p.SessionID, s.p.RoomID, first)); err != nil {
		return err
	}
	if s.p.RoomID != "" && room.ActiveQuestion == "" {
		s.UpdateRoom(ctx, s.roomUpdate(first, "", false))
	}
	return nil
}

// teardown releases everything in a fixed order. No step blocks the next.
func (s *Session) teardown(ctx context.Context, g *errgroup.Group) {
	reason := s.st.reason()
	if reason == "" {
		reason = StopSocketClosed
	}
	ctx = context.WithoutCancel(ctx)

	s.answers.Close()
	if s.guard != nil {
		if err := s.guard.Close(); err != nil {
			logger.WarnContext(ctx, "transcription close failed", "error", err)
		}
	}
	metrics.SetRoomsActive(s.hub.conns.Unregister(s.conn))
	if s.p.RoomID != "" {
		if err := s.hub.store.RemoveMember(ctx, s.p.RoomID, s.conn.ID); err != nil {
			logger.WarnContext(ctx, "room member remove failed", "error", err)
		}
	}
	// closing the socket unblocks the reader so the group can finish
	if err := s.conn.Close(closeCode(reason), reason); err != nil {
		logger.DebugContext(ctx, "socket close failed", "error", err)
	}
	if g != nil {
		_ = g.Wait()
	}
	s.hub.sessions.MarkInactive(s.p.SessionID)
	metrics.ConnectionClosed(reason)
	logger.InfoContext(ctx, "session stopped", "reason", reason)
}

func closeCode(reason string) int {
	switch reason {
	case StopServerShutdown:
		return websocket.CloseGoingAway
	case StopHeartbeatTimeout, StopUnstableNoFinal:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseNormalClosure
	}
}

// send writes msg to this session's socket only.
func (s *Session) send(ctx context.Context, msg any) {
	if err := s.conn.SendJSON(msg); err != nil && !errors.Is(err, registry.ErrConnClosed) {
		logger.DebugContext(ctx, "send failed", "error", err)
	}
}

// Emit sends msg to this socket and to every other member of the room.
func (s *Session) Emit(ctx context.Context, msg protocol.Message) {
	s.send(ctx, msg)
	s.hub.fanout.Broadcast(ctx, s.p.RoomID, msg, s.conn)
}

// UpdateRoom writes room state when the session belongs to a room.
func (s *Session) UpdateRoom(ctx context.Context, u roomstate.Update) {
	if s.p.RoomID == "" {
		return
	}
	if _, err := s.hub.store.Update(ctx, s.p.RoomID, u); err != nil {
		logger.WarnContext(ctx, "room state update failed", "error", err)
	}
}

func (s *Session) roomUpdate(q, partial string, streaming bool) roomstate.Update {
	return roomstate.Update{
		ActiveQuestion:  roomstate.Ptr(q),
		PartialAnswer:   roomstate.Ptr(partial),
		IsStreaming:     roomstate.Ptr(streaming),
		AssistIntensity: roomstate.Ptr(s.p.AssistIntensity),
	}
}

func (s *Session) warn(ctx context.Context, code, message string) {
	metrics.STTWarning(code)
	logger.WarnContext(ctx, "transcription warning", "code", code)
	s.send(ctx, protocol.STTWarning(s.p.SessionID, code, message))
}
