// Package transcript turns raw partial and final speech-recognition events
// into committed turn text.
//
// Partials are provisional and only ever replace the rolling buffer. Finals
// are committed, merged fragment by fragment, and mark the turn final-ready.
// An Aggregator belongs to exactly one session.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Default hesitation band: inter-event gaps in [0.7s, 2.5s) count as a pause.
const (
	DefaultHesitationMin = 700 * time.Millisecond
	DefaultHesitationMax = 2500 * time.Millisecond
)

// State is a point-in-time copy of the aggregator.
type State struct {
	PartialText    string
	LastFinalText  string
	TurnID         int
	PauseCount     int
	WordCount      int
	CurrentSpeaker string
	LastUpdate     time.Time
	LastFinalAt    time.Time
	TurnStartedAt  time.Time
	FinalReady     bool
}

// Turn is a completed, committed turn.
type Turn struct {
	ID          int
	Speaker     string
	Text        string
	StartedAt   time.Time
	EndedAt     time.Time
	Hesitations int
	WordCount   int
}

// Duration returns how long the turn lasted.
func (t Turn) Duration() time.Duration { return t.EndedAt.Sub(t.StartedAt) }

// Aggregator accumulates transcript events for one session.
type Aggregator struct {
	hesitationMin time.Duration
	hesitationMax time.Duration
	now           func() time.Time

	mu            sync.Mutex
	state         State
	lastSpeechAt  time.Time
	lastCompleted string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithHesitationBand sets the pause band. Gaps in [lo, hi) count as hesitations.
func WithHesitationBand(lo, hi time.Duration) Option {
	return func(a *Aggregator) {
		a.hesitationMin = lo
		a.hesitationMax = hi
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		hesitationMin: DefaultHesitationMin,
		hesitationMax: DefaultHesitationMax,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.state.TurnStartedAt = a.now()
	return a
}

// IngestPartial replaces the provisional buffer. Committed text is never touched.
func (a *Aggregator) IngestPartial(text, speaker string, ts time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.observeGap(ts)
	if a.state.CurrentSpeaker == "" {
		a.state.CurrentSpeaker = speaker
	}
	a.state.PartialText = text
	a.state.LastUpdate = ts
}

// IngestFinal commits text into the turn buffer and marks the turn final-ready.
// It returns false, without mutating anything, when the text is empty or was
// already committed.
func (a *Aggregator) IngestFinal(text, speaker string, ts time.Time) bool {
	text = normalizeSpace(text)
	if text == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := AppendFragment(a.state.LastFinalText, text)
	if merged == a.state.LastFinalText {
		return false
	}

	a.observeGap(ts)
	if a.state.CurrentSpeaker == "" {
		a.state.CurrentSpeaker = speaker
	}
	a.state.LastFinalText = merged
	a.state.WordCount = len(strings.Fields(merged))
	a.state.FinalReady = true
	a.state.LastFinalAt = ts
	a.state.LastUpdate = ts
	return true
}

// observeGap counts a hesitation when the silence since the previous event
// falls inside the band. Callers hold mu.
func (a *Aggregator) observeGap(ts time.Time) {
	if !a.lastSpeechAt.IsZero() {
		gap := ts.Sub(a.lastSpeechAt)
		if gap >= a.hesitationMin && gap < a.hesitationMax {
			a.state.PauseCount++
		}
	}
	if ts.After(a.lastSpeechAt) {
		a.lastSpeechAt = ts
	}
}

// BestText returns the committed text, or the partial when nothing is committed.
func (a *Aggregator) BestText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.LastFinalText != "" {
		return a.state.LastFinalText
	}
	return a.state.PartialText
}

// Peek returns the turn Commit would produce for text without completing it.
func (a *Aggregator) Peek(text string) (Turn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingLocked(text)
}

// Commit completes the current turn on text. An empty text uses BestText.
// It refuses empty results and text identical to the previously completed
// turn, which guards against finalizing the same utterance twice.
func (a *Aggregator) Commit(text string) (Turn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn, ok := a.pendingLocked(text)
	if !ok {
		return Turn{}, false
	}
	a.lastCompleted = turn.Text
	nextID := a.state.TurnID + 1
	a.resetLocked(turn.EndedAt)
	a.state.TurnID = nextID
	return turn, true
}

func (a *Aggregator) pendingLocked(text string) (Turn, bool) {
	text = normalizeSpace(text)
	if text == "" {
		text = a.state.LastFinalText
	}
	if text == "" {
		text = normalizeSpace(a.state.PartialText)
	}
	if text == "" || text == a.lastCompleted {
		return Turn{}, false
	}
	return Turn{
		ID:          a.state.TurnID,
		Speaker:     a.state.CurrentSpeaker,
		Text:        text,
		StartedAt:   a.state.TurnStartedAt,
		EndedAt:     a.now(),
		Hesitations: a.state.PauseCount,
		WordCount:   len(strings.Fields(text)),
	}, true
}

// Reset clears per-turn buffers and counters and restarts the turn clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(a.now())
}

func (a *Aggregator) resetLocked(now time.Time) {
	id := a.state.TurnID
	a.state = State{TurnID: id, TurnStartedAt: now}
	a.lastSpeechAt = time.Time{}
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// AppendFragment merges a final fragment into a committed buffer. A fragment
// the buffer already ends with is dropped, a fragment that extends the whole
// buffer replaces it, anything else is joined with a space.
func AppendFragment(buffer, fragment string) string {
	current := strings.TrimSpace(buffer)
	next := normalizeSpace(fragment)
	switch {
	case next == "":
		return current
	case current == "":
		return next
	case strings.HasSuffix(current, next):
		return current
	case strings.HasPrefix(next, current):
		return next
	default:
		return current + " " + next
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
