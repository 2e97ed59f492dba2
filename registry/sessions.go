package registry

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/turnsync/logger"
)

// MinInactiveTTL is the floor applied to cleanup TTLs.
const MinInactiveTTL = 30 * time.Second

// SessionInfo describes a registered session.
type SessionInfo struct {
	ID          string
	RoomID      string
	Participant string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Active      bool
}

// Sessions tracks sessions on this instance, including recently ended ones
// until they age out.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*SessionInfo
	now      func() time.Time
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*SessionInfo), now: time.Now}
}

// Register adds or replaces an active session.
func (s *Sessions) Register(id, roomID, participant string) {
	now := s.now()
	s.mu.Lock()
	s.sessions[id] = &SessionInfo{
		ID:          id,
		RoomID:      roomID,
		Participant: participant,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
	}
	s.mu.Unlock()
}

// Touch refreshes the session's last activity.
func (s *Sessions) Touch(id string) {
	s.mu.Lock()
	if info, ok := s.sessions[id]; ok {
		info.UpdatedAt = s.now()
	}
	s.mu.Unlock()
}

// MarkInactive flags the session as ended.
func (s *Sessions) MarkInactive(id string) {
	s.mu.Lock()
	if info, ok := s.sessions[id]; ok {
		info.Active = false
		info.UpdatedAt = s.now()
	}
	s.mu.Unlock()
}

// Get returns a copy of the session info.
func (s *Sessions) Get(id string) (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return *info, true
}

// Active returns the number of active sessions.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, info := range s.sessions {
		if info.Active {
			n++
		}
	}
	return n
}

// CleanupInactive drops inactive sessions idle for longer than ttl and
// returns how many were removed.
func (s *Sessions) CleanupInactive(ttl time.Duration) int {
	cutoff := s.now().Add(-max(ttl, MinInactiveTTL))
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, info := range s.sessions {
		if info.Active || info.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// RunCleanup calls CleanupInactive every interval until ctx is done.
func (s *Sessions) RunCleanup(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CleanupInactive(ttl); n > 0 {
				logger.Debug("inactive sessions removed", "count", n)
			}
		}
	}
}
