package silence

import (
	"sync"
	"time"
)

// PendingQuestion tracks a partial transcript that looks like a question
// until enough silence has passed to promote it.
type PendingQuestion struct {
	mu       sync.Mutex
	text     string
	at       time.Time
	wasFinal bool
}

// Track replaces the pending text.
func (p *PendingQuestion) Track(text string, at time.Time, wasFinal bool) {
	p.mu.Lock()
	p.text, p.at, p.wasFinal = text, at, wasFinal
	p.mu.Unlock()
}

// Clear drops the pending text.
func (p *PendingQuestion) Clear() {
	p.mu.Lock()
	p.text, p.at, p.wasFinal = "", time.Time{}, false
	p.mu.Unlock()
}

// Text returns the pending text, if any.
func (p *PendingQuestion) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Due returns the pending text and clears it once both the silence since it
// was tracked and the silence since lastActivity reach its Threshold.
func (p *PendingQuestion) Due(now, lastActivity time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.text == "" || p.at.IsZero() {
		return "", false
	}
	need := Threshold(p.text, p.wasFinal)
	if now.Sub(p.at) < need || now.Sub(lastActivity) < need {
		return "", false
	}
	text := p.text
	p.text, p.at, p.wasFinal = "", time.Time{}, false
	return text, true
}
