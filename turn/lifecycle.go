// Package turn implements the per-turn finalize-once state machine.
//
// A Lifecycle starts ACTIVE when a question begins. Any number of triggers may
// race to finalize it; exactly one wins TryFinalize and runs the completion
// flow, the rest are no-ops. A failed completion rolls back to ACTIVE so a
// later trigger can retry. The next question gets a new Lifecycle.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a turn lifecycle state.
type State string

// Turn states.
const (
	StateActive         State = "ACTIVE"
	StateSilencePending State = "SILENCE_PENDING"
	StateFinalizing     State = "FINALIZING"
	StateFinalized      State = "FINALIZED"
)

// Lifecycle guards one turn.
type Lifecycle struct {
	id  string
	now func() time.Time

	mu          sync.Mutex
	state       State
	reason      string
	startedAt   time.Time
	triggeredAt time.Time
	finalizedAt time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithID sets an explicit turn id instead of a generated uuid.
func WithID(id string) Option {
	return func(l *Lifecycle) { l.id = id }
}

// New creates an ACTIVE turn.
func New(opts ...Option) *Lifecycle {
	l := &Lifecycle{now: time.Now, state: StateActive}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.NewString()
	}
	l.startedAt = l.now()
	return l
}

// ID returns the turn id.
func (l *Lifecycle) ID() string { return l.id }

// StartedAt returns when the turn began.
func (l *Lifecycle) StartedAt() time.Time { return l.startedAt }

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Reason returns the reason passed to the winning TryFinalize, if any.
func (l *Lifecycle) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// FinalizedAt returns when the turn reached FINALIZED, or the zero time.
func (l *Lifecycle) FinalizedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalizedAt
}

// Closed reports whether the turn is FINALIZING or FINALIZED.
func (l *Lifecycle) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateFinalizing || l.state == StateFinalized
}

// MarkSilencePending moves an ACTIVE turn to SILENCE_PENDING. Other states are left alone.
func (l *Lifecycle) MarkSilencePending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive {
		l.state = StateSilencePending
	}
}

// TryFinalize claims the turn for completion. It returns false without any
// mutation when the turn is already FINALIZING or FINALIZED.
func (l *Lifecycle) TryFinalize(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFinalizing || l.state == StateFinalized {
		return false
	}
	l.state = StateFinalizing
	l.reason = reason
	l.triggeredAt = l.now()
	return true
}

// MarkFinalized moves FINALIZING to FINALIZED and returns the finalize latency.
// It is a no-op returning zero in any other state.
func (l *Lifecycle) MarkFinalized() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFinalizing {
		return 0
	}
	l.state = StateFinalized
	l.finalizedAt = l.now()
	return l.finalizedAt.Sub(l.triggeredAt)
}

// Rollback returns a FINALIZING turn to ACTIVE so a later trigger can retry.
func (l *Lifecycle) Rollback() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFinalizing {
		l.state = StateActive
		l.reason = ""
		l.triggeredAt = time.Time{}
	}
}

// Finalize runs complete exactly once across racing callers. It returns
// ran=false when another trigger already owns the turn. A completion error or
// panic rolls the turn back to ACTIVE and is returned as err.
func (l *Lifecycle) Finalize(
	ctx context.Context, reason string, complete func(context.Context) error,
) (ran bool, latency time.Duration, err error) {
	if !l.TryFinalize(reason) {
		return false, 0, nil
	}
	ran = true
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn %s completion panicked: %v", l.id, r)
		}
		if err != nil {
			l.Rollback()
			return
		}
		latency = l.MarkFinalized()
	}()
	err = complete(ctx)
	return ran, latency, err
}
