package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/question"
	"github.com/AltairaLabs/turnsync/scoring"
	"github.com/AltairaLabs/turnsync/telemetry"
	"github.com/AltairaLabs/turnsync/turn"
)

var (
	errDuplicateTurn  = errors.New("turn text matches the last completed turn")
	errSupersededTurn = errors.New("a newer question replaced the turn while it was scored")
)

const waitingMessage = "Waiting for interviewer question"

// finalize completes lc once. A failed completion leaves the turn ACTIVE so
// the next tick can try again.
func (s *Session) finalize(ctx context.Context, lc *turn.Lifecycle, q, reason, text string) {
	ctx = logger.WithTurnID(ctx, lc.ID())
	ctx, span := telemetry.StartSpan(ctx, "turn.finalize",
		telemetry.AttrSessionID.String(s.p.SessionID),
		telemetry.AttrRoomID.String(s.p.RoomID),
		telemetry.AttrTurnID.String(lc.ID()),
		telemetry.AttrReason.String(reason),
	)

	var decision scoring.Decision
	ran, latency, err := lc.Finalize(ctx, reason, func(ctx context.Context) error {
		d, err := s.complete(ctx, lc, q, reason, text)
		decision = d
		return err
	})
	telemetry.EndSpan(span, err)
	if !ran {
		return
	}
	if errors.Is(err, errSupersededTurn) {
		logger.DebugContext(ctx, "turn superseded during scoring, result discarded", "reason", reason)
		return
	}
	if err != nil {
		logger.WarnContext(ctx, "turn completion failed, turn reopened", "reason", reason, "error", err)
		return
	}

	metrics.ObserveFinalize(reason, latency)
	logger.InfoContext(ctx, "turn finalized", "reason", reason, "latency", latency)
	s.watcher.ResetMisses()
	s.advance(ctx, decision)
}

// complete scores the pending answer and reports it. The aggregator is only
// committed once scoring succeeded and lc is still the session's turn.
func (s *Session) complete(ctx context.Context, lc *turn.Lifecycle, q, reason, text string) (scoring.Decision, error) {
	turnID := lc.ID()
	ans, ok := s.agg.Peek(text)
	if !ok {
		s.agg.Reset()
		return scoring.Decision{}, errDuplicateTurn
	}
	d, err := s.scorer.Score(ctx, scoring.Turn{
		Question: q,
		Answer:   ans,
		Reason:   reason,
		Number:   ans.ID + 1,
	})
	if err != nil {
		return scoring.Decision{}, fmt.Errorf("score turn: %w", err)
	}
	if !s.st.isCurrent(lc) {
		return scoring.Decision{}, errSupersededTurn
	}
	s.send(ctx, protocol.Transcript(s.p.SessionID, turnID, reason, ans.Text))
	s.send(ctx, protocol.TurnDecision(s.p.SessionID, turnID, reason, d))
	s.agg.Commit(text)
	return d, nil
}

// advance moves the session on after a completed turn.
func (s *Session) advance(ctx context.Context, d scoring.Decision) {
	n := s.st.completeTurn()
	defer s.hub.sessions.Touch(s.p.SessionID)

	if s.cfg.MaxTurns > 0 && n >= s.cfg.MaxTurns {
		s.stop(ctx, StopMaxTurns)
		return
	}
	// only candidate sessions run the silence loop, so only they get here
	switch {
	case s.cfg.AutoNext:
		next := d.NextQuestion
		if next == "" {
			next = scoring.DefaultFollowUp
		}
		s.beginQuestion(ctx, next)
		s.send(ctx, protocol.Question(s.p.SessionID, s.p.RoomID, next))
	default:
		s.beginQuestion(ctx, question.WaitingPlaceholder)
		s.Emit(ctx, protocol.WaitingForInterviewer(s.p.SessionID, s.p.RoomID, waitingMessage))
	}
}
