// Package question holds the text heuristics used to recognise, key, and
// deduplicate interviewer questions arriving from speech or from clients.
package question

import (
	"strings"
	"sync"
	"time"
)

// Placeholder questions sent to a candidate.
const (
	WaitingPlaceholder = "Waiting for interviewer question."
	DefaultOpening     = "Tell me about yourself."
)

// Dedup windows.
const (
	InterviewerWindow = 3 * time.Second
	SetQuestionWindow = 5 * time.Second
	PendingWindow     = 5 * time.Second
	CandidateWindow   = 2 * time.Second
)

// MinQuestionWords is the shortest text accepted as an interviewer question.
const MinQuestionWords = 4

var questionPrompts = []string{
	"can you", "could you", "would you",
	"what is", "what are", "what does",
	"how do", "how does",
	"why", "when", "where",
	"explain", "tell me",
}

var openings = map[string]bool{
	"hi": true, "hello": true, "hey": true,
	"good morning": true, "good afternoon": true, "good evening": true,
}

var genericQuestions = map[string]bool{
	"can you explain?":              true,
	"can you please explain?":       true,
	"can you explain about?":        true,
	"can you please explain about?": true,
	"can you explain this?":         true,
	"what is this?":                 true,
}

var incompleteLastWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`the a an to of in on at by for with and or but if when where how what which
		is are was were be been being do does did have has had
		can could would should will shall may might
		between about into from your my their our`) {
		incompleteLastWords[w] = true
	}
}

var incompleteStarts = []string{
	"what is the", "what are the", "how do you", "how does the",
	"can you tell me about", "explain the", "describe the",
	"what would you", "what is your", "tell me about the",
}

func lower(text string) string { return strings.ToLower(strings.TrimSpace(text)) }

// Key normalises text for equality checks: lowercase, single spaces, no
// trailing ?.! characters.
func Key(text string) string {
	return strings.TrimRight(strings.Join(strings.Fields(strings.ToLower(text)), " "), "?.!")
}

// ShortKey identifies an in-flight answer stream: the first 50 characters
// of Key, so typed and spoken forms of a question share a stream.
func ShortKey(text string) string {
	k := []rune(Key(text))
	if len(k) > 50 {
		k = k[:50]
	}
	return strings.TrimSpace(string(k))
}

// LooksLikeQuestion reports whether text contains a question mark or opens
// with a common question prompt.
func LooksLikeQuestion(text string) bool {
	n := lower(text)
	if n == "" {
		return false
	}
	if strings.Contains(n, "?") {
		return true
	}
	for _, p := range questionPrompts {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

// LooksLikeOpening reports whether text is an interviewer greeting.
func LooksLikeOpening(text string) bool {
	n := Key(text)
	if n == "" {
		return false
	}
	if openings[n] {
		return true
	}
	for _, p := range []string{"hi ", "hello ", "hey "} {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

// IsQuestionOrOpening combines LooksLikeQuestion and LooksLikeOpening.
func IsQuestionOrOpening(text string) bool {
	return LooksLikeQuestion(text) || LooksLikeOpening(text)
}

// IsWaiting reports whether text is the waiting placeholder.
func IsWaiting(text string) bool {
	return strings.Contains(lower(text), "waiting for interviewer question")
}

// IsGeneric reports whether text is a question with no real topic, such as
// "can you explain?" or "what would you say about?".
func IsGeneric(text string) bool {
	n := lower(text)
	if n == "" || genericQuestions[n] {
		return true
	}
	return strings.HasSuffix(n, " about?") || strings.HasSuffix(n, " regarding?")
}

// ShouldUpgrade reports whether next should replace current as the active
// question: current is empty or the placeholder, or next extends current (or
// a generic current) by more than a few characters.
func ShouldUpgrade(current, next string) bool {
	cur := strings.TrimSpace(current)
	nxt := strings.TrimSpace(next)
	switch {
	case nxt == "":
		return false
	case cur == "", IsWaiting(cur):
		return true
	case strings.EqualFold(cur, nxt):
		return false
	}

	curNorm := strings.TrimRight(strings.ToLower(cur), "?.! ")
	nxtNorm := strings.TrimRight(strings.ToLower(nxt), "?.! ")
	if IsGeneric(cur) && len(nxtNorm) > len(curNorm)+4 {
		return true
	}
	return curNorm != "" && strings.HasPrefix(nxtNorm, curNorm) && len(nxtNorm) > len(curNorm)+4
}

// IsIncomplete reports whether text looks cut off mid-thought.
func IsIncomplete(text string) bool {
	t := strings.TrimSpace(text)
	words := strings.Fields(t)
	if len(words) < 4 {
		return true
	}
	if strings.HasSuffix(t, "?") || strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") {
		return false
	}
	last := strings.TrimRight(strings.ToLower(words[len(words)-1]), ",.;:")
	if incompleteLastWords[last] {
		return true
	}
	l := strings.ToLower(t)
	for _, p := range incompleteStarts {
		if strings.HasPrefix(l, p) && len(words) <= len(strings.Fields(p))+2 {
			return true
		}
	}
	return false
}

// Dedup remembers the last accepted key and rejects repeats within a window.
// The zero value is ready to use.
type Dedup struct {
	mu   sync.Mutex
	key  string
	seen time.Time
}

// Duplicate reports whether key matches the last recorded key within window.
func (d *Dedup) Duplicate(key string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return key != "" && key == d.key && now.Sub(d.seen) < window
}

// Record stores key as the last accepted key.
func (d *Dedup) Record(key string, now time.Time) {
	d.mu.Lock()
	d.key, d.seen = key, now
	d.mu.Unlock()
}

// Admit records key and returns true unless it is a duplicate within window.
func (d *Dedup) Admit(key string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key != "" && key == d.key && now.Sub(d.seen) < window {
		return false
	}
	d.key, d.seen = key, now
	return true
}
