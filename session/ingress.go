package session

import (
	"context"
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/turnsync/answer"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/stt"
)

// readLoop reads client frames until the socket fails or the session stops.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		mt, data, err := s.sock.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.stop(ctx, StopClientDisconnect)
			} else {
				logger.DebugContext(ctx, "socket read failed", "error", err)
				s.stop(ctx, StopSocketClosed)
			}
			return nil
		}
		s.st.seen(s.now())

		switch mt {
		case websocket.BinaryMessage:
			s.handleAudio(ctx, data)
		case websocket.TextMessage:
			if !s.handleText(ctx, data) {
				return nil
			}
		}
	}
}

func (s *Session) handleAudio(ctx context.Context, frame []byte) {
	if s.cfg.QAMode || len(frame) < minAudioFrame || s.guard == nil {
		return
	}
	s.st.audio(s.now())
	err := s.guard.SendAudio(ctx, frame)
	switch {
	case err == nil, errors.Is(err, stt.ErrDegraded), errors.Is(err, stt.ErrClosed):
	case s.st.firstWarning(protocol.WarnSTTStreamError):
		logger.WarnContext(ctx, "audio forward failed", "error", err)
		s.warn(ctx, protocol.WarnSTTStreamError, "Live transcription hit a stream error")
	default:
		logger.DebugContext(ctx, "audio forward failed", "error", err)
	}
}

// handleText routes one JSON frame. It returns false when the session must stop.
func (s *Session) handleText(ctx context.Context, data []byte) bool {
	if s.cfg.MaxTextBytes > 0 && len(data) > s.cfg.MaxTextBytes {
		metrics.InboundDropped(dropTooLarge)
		logger.WarnContext(ctx, "inbound text frame too large, dropped", "bytes", len(data), "limit", s.cfg.MaxTextBytes)
		return true
	}
	if !s.limiter.Allow() {
		metrics.InboundDropped(dropRateLimited)
		logger.DebugContext(ctx, "inbound text frame rate limited")
		return true
	}
	in, err := s.hub.decoder.Decode(data)
	if err != nil {
		metrics.InboundDropped(dropInvalid)
		logger.WarnContext(ctx, "inbound message dropped", "error", err)
		return true
	}

	switch in.Type {
	case protocol.KindStop:
		s.stop(ctx, StopCommand)
		return false
	case protocol.KindStopAnswerGeneration:
		s.answers.Cancel(answer.ReasonCancelled)
	case protocol.KindSyncStateRequest:
		s.syncState(ctx)
	case protocol.KindPing:
		s.send(ctx, protocol.Pong(s.p.SessionID, s.now()))
	case protocol.KindPong:
	case protocol.KindInterviewerQuestion:
		s.interviewerQuestion(ctx, in.Text)
	case protocol.KindSetQuestion:
		s.setQuestion(ctx, in.Question)
	case protocol.KindCandidateTranscript:
		s.browserTranscript(ctx, in.Text, in.IsFinal)
	case protocol.KindQATranscript:
		s.qaTranscript(ctx, in.Text)
	}
	return true
}

func (s *Session) syncState(ctx context.Context) {
	if s.p.RoomID == "" {
		q, _, _ := s.st.current()
		s.send(ctx, protocol.Question(s.p.SessionID, "", q))
		return
	}
	st, err := s.hub.store.Get(ctx, s.p.RoomID)
	if err != nil {
		logger.WarnContext(ctx, "room state read failed", "error", err)
	}
	s.send(ctx, protocol.SyncState(s.p.SessionID, s.p.RoomID, st, s.p.AssistIntensity, s.now()))
}

func (s *Session) interviewerQuestion(ctx context.Context, text string) {
	if len(strings.Fields(text)) < question.MinQuestionWords {
		logger.DebugContext(ctx, "interviewer question too short, ignored")
		return
	}
	if !s.questions.Admit(question.Key(text), s.now(), question.InterviewerWindow) {
		logger.DebugContext(ctx, "duplicate interviewer question suppressed")
		return
	}
	s.announce(ctx, text)
}

// setQuestion replaces the current question without broadcasting it.
func (s *Session) setQuestion(ctx context.Context, text string) {
	if !s.questions.Admit(question.Key(text), s.now(), question.SetQuestionWindow) {
		logger.DebugContext(ctx, "duplicate set_question suppressed")
		return
	}
	s.beginQuestion(ctx, text)
	s.send(ctx, protocol.Question(s.p.SessionID, s.p.RoomID, text))
	if s.candidateRole() {
		s.UpdateRoom(ctx, s.roomUpdate(text, "", false))
		s.answers.Start(ctx, text)
	}
}

// browserTranscript handles speech recognised in the client when upstream
// transcription is not available.
func (s *Session) browserTranscript(ctx context.Context, text string, final bool) {
	if !s.cfg.AllowBrowserSTT {
		if s.st.firstWarning(protocol.WarnBrowserFallbackDisabled) {
			s.warn(ctx, protocol.WarnBrowserFallbackDisabled,
				"Browser speech fallback disabled. Reconnect mic stream to continue.")
		}
		return
	}
	now := s.now()
	if !final {
		s.agg.IngestPartial(text, s.p.Participant, now)
		s.send(ctx, protocol.PartialTranscript(s.p.SessionID, text))
		return
	}

	current, lc, _ := s.st.current()
	if question.LooksLikeQuestion(text) {
		key := question.Key(text)
		if s.candidate.Duplicate(key, now, question.CandidateWindow) {
			return
		}
		if question.ShouldUpgrade(current, text) || key != question.Key(current) {
			s.candidate.Record(key, now)
			s.announce(ctx, text)
		}
		return
	}
	if question.IsWaiting(current) {
		return
	}
	if s.agg.IngestFinal(text, s.p.Participant, now) && lc != nil {
		lc.MarkSilencePending()
	}
}

// qaTranscript injects a committed answer as if it had gone quiet just past
// the finalize threshold.
func (s *Session) qaTranscript(ctx context.Context, text string) {
	if !s.cfg.QAMode {
		logger.DebugContext(ctx, "qa transcript ignored outside qa mode")
		return
	}
	at := s.now().Add(-(s.cfg.Silence.FinalAfter + qaLead))
	if s.agg.IngestFinal(text, s.p.Participant, at) {
		if _, lc, _ := s.st.current(); lc != nil {
			lc.MarkSilencePending()
		}
	}
}
