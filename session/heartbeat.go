package session

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/stt"
)

// heartbeatLoop pings the client and stops the session once it has been
// silent for longer than the heartbeat timeout.
func (s *Session) heartbeatLoop(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return nil
	}
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			now := s.now()
			if idle := s.st.sinceSeen(now); s.cfg.HeartbeatTimeout > 0 && idle > s.cfg.HeartbeatTimeout {
				logger.WarnContext(ctx, "client heartbeat timed out", "idle", idle)
				s.stop(ctx, StopHeartbeatTimeout)
				return nil
			}
			s.send(ctx, protocol.Ping(s.p.SessionID, now))
		}
	}
}

// keepaliveLoop feeds silence upstream while the client sends no audio, so
// the provider does not close an idle stream.
func (s *Session) keepaliveLoop(ctx context.Context) error {
	if s.cfg.QAMode || s.cfg.KeepaliveInterval <= 0 {
		return nil
	}
	frame := make([]byte, keepaliveBytes)
	t := time.NewTicker(s.cfg.KeepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if s.st.sinceAudio(s.now()) < s.cfg.KeepaliveAfterIdle {
				continue
			}
			err := s.guard.SendKeepalive(ctx, frame)
			switch {
			case err == nil:
			case errors.Is(err, stt.ErrClosed):
				return nil
			case !errors.Is(err, stt.ErrDegraded):
				logger.DebugContext(ctx, "transcription keepalive failed", "error", err)
			}
		}
	}
}
