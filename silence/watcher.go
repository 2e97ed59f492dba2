// Package silence decides when a spoken turn is over.
//
// A Watcher is evaluated on a fixed tick against a snapshot of transcript
// timing. It never finalizes anything itself; it returns a Decision that the
// session acts on through the turn lifecycle.
package silence

import (
	"strings"
	"time"
)

// DefaultTick is the evaluation interval.
const DefaultTick = 100 * time.Millisecond

// Finalize reasons.
const (
	ReasonFinal                      = "final"
	ReasonPartialFallback            = "partial_fallback"
	ReasonHardTimeoutFinal           = "hard_timeout_final"
	ReasonHardTimeoutPartialFallback = "hard_timeout_partial_fallback"
	ReasonUnstableNoFinal            = "stt_unstable_no_final"
	ReasonUserSilent                 = "user_silent"
)

// Warning codes raised by the watcher.
const (
	WarnPartialFallbackUsed = "partial_fallback_used"
	WarnHardTimeoutPartial  = ReasonHardTimeoutPartialFallback
	WarnFinalMissing        = "final_transcript_missing"
	WarnNoSpeech            = "no_speech_detected"
)

// Config holds the watcher thresholds.
type Config struct {
	FinalAfter      time.Duration
	PartialAfter    time.Duration
	HardTimeout     time.Duration
	MinFinalWords   int
	MinPartialWords int
	MaxMissedFinals int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		FinalAfter:      2 * time.Second,
		PartialAfter:    6 * time.Second,
		HardTimeout:     24 * time.Second,
		MinFinalWords:   4,
		MinPartialWords: 8,
		MaxMissedFinals: 2,
	}
}

// Input is the timing snapshot a Watcher evaluates.
type Input struct {
	Now            time.Time
	FinalReady     bool
	LastFinalAt    time.Time
	LastActivityAt time.Time
	TurnStartedAt  time.Time
	FinalText      string
	PartialText    string
	// AudioActive is set when audio arrived since TurnStartedAt. A miss
	// with audio blames transcription; a miss without it blames the speaker.
	AudioActive bool
	// SourceDown is set while no transcription source can deliver text.
	// Silence then says nothing about the speaker, so misses are not charged.
	SourceDown bool
}

// Action tells the caller what to do with a Decision.
type Action int

const (
	// ActionNone means keep waiting.
	ActionNone Action = iota
	// ActionFinalize means complete the turn on Decision.Text.
	ActionFinalize
	// ActionWarn means send Decision.Warning and restart the turn clock.
	ActionWarn
	// ActionStop means send Decision.Warning and stop the session.
	ActionStop
	// ActionRestart means restart the turn clock without a warning.
	ActionRestart
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Action  Action
	Reason  string
	Text    string
	Warning string
	Message string
}

// Watcher evaluates finalize triggers for one session.
type Watcher struct {
	cfg    Config
	misses int
}

// NewWatcher creates a watcher.
func NewWatcher(cfg Config) *Watcher {
	return &Watcher{cfg: cfg}
}

// Config returns the watcher thresholds.
func (w *Watcher) Config() Config { return w.cfg }

// Misses returns the consecutive hard-timeout-without-text count.
func (w *Watcher) Misses() int { return w.misses }

// ResetMisses clears the miss counter after a completed turn.
func (w *Watcher) ResetMisses() { w.misses = 0 }

// Evaluate checks the committed-final path, then the partial fallback, then
// the hard timeout. The first satisfied path wins.
func (w *Watcher) Evaluate(in Input) Decision {
	finalText := strings.TrimSpace(in.FinalText)
	partialText := strings.TrimSpace(in.PartialText)
	finalWords := len(strings.Fields(finalText))
	partialWords := len(strings.Fields(partialText))

	if in.FinalReady && in.Now.Sub(in.LastFinalAt) >= w.cfg.FinalAfter && finalWords >= w.cfg.MinFinalWords {
		return Decision{Action: ActionFinalize, Reason: ReasonFinal, Text: finalText}
	}

	if !in.FinalReady && in.Now.Sub(in.LastActivityAt) >= w.cfg.PartialAfter && partialWords >= w.cfg.MinPartialWords {
		return Decision{
			Action:  ActionFinalize,
			Reason:  ReasonPartialFallback,
			Text:    partialText,
			Warning: WarnPartialFallbackUsed,
			Message: "Final transcript delayed; using stable partial transcript for this turn.",
		}
	}

	if in.Now.Sub(in.TurnStartedAt) < w.cfg.HardTimeout {
		return Decision{}
	}
	if in.FinalReady && finalWords >= w.cfg.MinFinalWords {
		return Decision{Action: ActionFinalize, Reason: ReasonHardTimeoutFinal, Text: finalText}
	}
	if partialWords >= w.cfg.MinPartialWords {
		return Decision{
			Action:  ActionFinalize,
			Reason:  ReasonHardTimeoutPartialFallback,
			Text:    partialText,
			Warning: WarnHardTimeoutPartial,
			Message: "Using stable partial transcript after turn timeout.",
		}
	}

	if in.SourceDown {
		return Decision{Action: ActionRestart}
	}
	w.misses++
	d := Decision{
		Action:  ActionWarn,
		Warning: WarnFinalMissing,
		Message: "Waiting for stable final transcript; scoring is paused.",
		Reason:  ReasonUnstableNoFinal,
	}
	if !in.AudioActive {
		d.Warning = WarnNoSpeech
		d.Message = "No speech detected for this question."
		d.Reason = ReasonUserSilent
	}
	if w.misses >= w.cfg.MaxMissedFinals {
		d.Action = ActionStop
	}
	return d
}
