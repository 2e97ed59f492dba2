package session

import (
	"sync"
	"time"

	"github.com/AltairaLabs/turnsync/turn"
)

// state is the context shared by a session's tasks. Every field is guarded by mu.
type state struct {
	mu sync.Mutex

	question       string
	turn           *turn.Lifecycle
	turnStartedAt  time.Time
	completedTurns int
	lastSeen       time.Time
	lastAudio      time.Time
	warned         map[string]bool
	stopReason     string
}

func (st *state) current() (string, *turn.Lifecycle, time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.question, st.turn, st.turnStartedAt
}

// isCurrent reports whether lc is still the active turn.
func (st *state) isCurrent(lc *turn.Lifecycle) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.turn == lc
}

// begin installs a new question with a fresh turn.
func (st *state) begin(question string, now time.Time) *turn.Lifecycle {
	lc := turn.New()
	st.mu.Lock()
	st.question = question
	st.turn = lc
	st.turnStartedAt = now
	st.mu.Unlock()
	return lc
}

func (st *state) restartClock(now time.Time) {
	st.mu.Lock()
	st.turnStartedAt = now
	st.mu.Unlock()
}

// completeTurn increments and returns the completed-turn count.
func (st *state) completeTurn() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completedTurns++
	return st.completedTurns
}

func (st *state) seen(now time.Time) {
	st.mu.Lock()
	st.lastSeen = now
	st.mu.Unlock()
}

func (st *state) sinceSeen(now time.Time) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	return now.Sub(st.lastSeen)
}

func (st *state) audio(now time.Time) {
	st.mu.Lock()
	st.lastAudio = now
	st.mu.Unlock()
}

// audioSince reports whether client audio arrived after t.
func (st *state) audioSince(t time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastAudio.After(t)
}

func (st *state) sinceAudio(now time.Time) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	return now.Sub(st.lastAudio)
}

// firstWarning reports true the first time code is seen.
func (st *state) firstWarning(code string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.warned[code] {
		return false
	}
	if st.warned == nil {
		st.warned = make(map[string]bool)
	}
	st.warned[code] = true
	return true
}

// setStopReason records reason unless one is already set and reports whether it did.
func (st *state) setStopReason(reason string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopReason != "" {
		return false
	}
	st.stopReason = reason
	return true
}

func (st *state) reason() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stopReason
}
