// Package answer streams live answer suggestions for interview questions.
//
// A Coordinator keeps at most one suggestion in flight per session. Starting
// a different question cancels the running stream and waits for it to emit
// its terminal event before the new stream begins.
package answer

import (
	"context"
	"errors"
)

// ErrNoGenerator is returned when a stream is requested without a backend.
var ErrNoGenerator = errors.New("no answer generator configured")

// Request describes one suggestion to generate.
type Request struct {
	Question        string
	SessionID       string
	AssistIntensity int
}

// Chunk is one streamed fragment. A chunk with Err set is the last one.
type Chunk struct {
	Delta string
	Err   error
}

// Generator produces suggestion text incrementally. The returned channel is
// closed when generation ends; cancelling ctx must end it promptly.
type Generator interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (<-chan Chunk, error)

// Stream calls f.
func (f GeneratorFunc) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return f(ctx, req)
}
