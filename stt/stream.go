package stt

import (
	"context"
	"time"
)

// Event is one transcription result from a provider.
type Event struct {
	// Text is the transcript of the segment.
	Text string

	// IsFinal marks the segment as committed by the provider.
	IsFinal bool

	// SpeechFinal marks the provider's end-of-speech detection.
	SpeechFinal bool

	// Start is the segment offset in seconds from stream start. Used to
	// discard events that arrive out of order.
	Start float64

	// Confidence is the provider confidence in [0, 1], zero when unknown.
	Confidence float64

	// Received is when the event was read from the provider.
	Received time.Time
}

// Stream is one live provider connection.
type Stream interface {
	// SendAudio forwards one PCM frame.
	SendAudio(ctx context.Context, frame []byte) error

	// Events yields results until the stream ends, then closes.
	Events() <-chan Event

	// Close ends the stream. It is safe to call more than once.
	Close() error
}

// Dialer opens provider streams.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Stream, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Stream, error) { return f(ctx) }
