package session

import (
	"context"
	"strings"
	"time"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/stt"
)

// transcriptLoop consumes upstream transcription events until the guard closes.
func (s *Session) transcriptLoop(ctx context.Context) error {
	events := s.guard.Events()
	degraded := s.guard.Degraded()
	stall := time.NewTicker(eventStall)
	defer stall.Stop()
	lastEvent := s.now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-degraded:
			degraded = nil
			s.warn(ctx, protocol.WarnSTTDegraded,
				"Transcription stream lost after repeated reconnects. Speech scoring is paused; session kept alive.")
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			lastEvent = s.now()
			s.handleTranscript(ctx, ev)
		case <-stall.C:
			now := s.now()
			if now.Sub(lastEvent) >= eventStall && s.st.sinceAudio(now) < eventStall {
				logger.DebugContext(ctx, "transcription events stalled", "since_event", now.Sub(lastEvent))
			}
		}
	}
}

func (s *Session) handleTranscript(ctx context.Context, ev stt.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	at := ev.Received
	if at.IsZero() {
		at = s.now()
	}

	if !ev.IsFinal {
		s.agg.IngestPartial(text, s.p.Participant, at)
		s.send(ctx, protocol.PartialTranscript(s.p.SessionID, text))
		if s.candidateRole() && question.LooksLikeQuestion(text) &&
			len(strings.Fields(text)) >= question.MinQuestionWords {
			s.pending.Track(text, at, false)
		}
		return
	}

	if !s.candidateRole() {
		if len(strings.Fields(text)) < question.MinQuestionWords {
			return
		}
		if s.questions.Admit(question.Key(text), at, question.InterviewerWindow) {
			s.announce(ctx, text)
		}
		return
	}

	current, lc, _ := s.st.current()
	if question.LooksLikeQuestion(text) {
		if question.IsIncomplete(text) {
			s.pending.Track(text, at, true)
			return
		}
		key := question.Key(text)
		if !s.questions.Admit(key, at, question.InterviewerWindow) {
			return
		}
		if question.ShouldUpgrade(current, text) || key != question.Key(current) {
			s.pending.Clear()
			s.announce(ctx, text)
		}
		return
	}
	if question.IsWaiting(current) {
		return
	}
	if s.agg.IngestFinal(text, s.p.Participant, at) && lc != nil {
		lc.MarkSilencePending()
	}
}

// announce makes q the room's active question and starts a suggestion for it.
func (s *Session) announce(ctx context.Context, q string) {
	s.beginQuestion(ctx, q)
	s.Emit(ctx, protocol.InterviewerQuestion(s.p.SessionID, s.p.RoomID, q))
	s.UpdateRoom(ctx, s.roomUpdate(q, "", false))
	s.answers.Start(ctx, q)
}

// beginQuestion opens a fresh turn for q and drops any uncommitted transcript.
func (s *Session) beginQuestion(ctx context.Context, q string) {
	lc := s.st.begin(q, s.now())
	s.agg.Reset()
	s.pending.Clear()
	logger.DebugContext(logger.WithTurnID(ctx, lc.ID()), "turn started")
}
