package session

import (
	"context"
	"time"

	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/silence"
)

// silenceLoop evaluates the finalize triggers on a fixed tick.
func (s *Session) silenceLoop(ctx context.Context) error {
	tick := s.cfg.Tick
	if tick <= 0 {
		tick = silence.DefaultTick
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.evaluate(ctx)
		}
	}
}

func (s *Session) evaluate(ctx context.Context) {
	now := s.now()
	snap := s.agg.Snapshot()
	q, lc, startedAt := s.st.current()
	lastActivity := startedAt
	if snap.LastUpdate.After(lastActivity) {
		lastActivity = snap.LastUpdate
	}

	if text, ok := s.pending.Due(now, lastActivity); ok {
		if s.questions.Admit(question.Key(text), now, question.PendingWindow) {
			s.announce(ctx, text)
		}
		return
	}
	if lc == nil || lc.Closed() || question.IsWaiting(q) {
		return
	}

	d := s.watcher.Evaluate(silence.Input{
		Now:            now,
		FinalReady:     snap.FinalReady,
		LastFinalAt:    snap.LastFinalAt,
		LastActivityAt: lastActivity,
		TurnStartedAt:  startedAt,
		FinalText:      snap.LastFinalText,
		PartialText:    snap.PartialText,
		AudioActive:    s.st.audioSince(startedAt),
		SourceDown:     s.transcriptionDown(),
	})
	switch d.Action {
	case silence.ActionFinalize:
		if d.Warning != "" {
			s.warn(ctx, d.Warning, d.Message)
		}
		s.finalize(ctx, lc, q, d.Reason, d.Text)
	case silence.ActionWarn:
		s.warn(ctx, d.Warning, d.Message)
		s.st.restartClock(now)
	case silence.ActionRestart:
		s.st.restartClock(now)
	case silence.ActionStop:
		s.warn(ctx, d.Warning, d.Message)
		s.stop(ctx, d.Reason)
	}
}

// transcriptionDown reports whether no source can currently produce
// transcripts for this session.
func (s *Session) transcriptionDown() bool {
	switch {
	case s.cfg.QAMode:
		return false
	case s.guard == nil:
		return !s.cfg.AllowBrowserSTT
	default:
		return s.guard.IsDegraded()
	}
}
