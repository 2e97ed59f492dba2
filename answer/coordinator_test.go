package answer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/roomstate"
)

type recordingSink struct {
	mu      sync.Mutex
	msgs    []protocol.Message
	updates []roomstate.Update
}

func (s *recordingSink) Emit(_ context.Context, msg protocol.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordingSink) UpdateRoom(_ context.Context, u roomstate.Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func (s *recordingSink) messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.msgs...)
}

func (s *recordingSink) roomUpdates() []roomstate.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]roomstate.Update(nil), s.updates...)
}

// describe flattens messages to "kind:question:detail" for ordering assertions.
func describe(msgs []protocol.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case protocol.AnswerMessage:
			out = append(out, v.Type+":"+v.Question+":"+v.Reason)
		case protocol.AnswerChunkMessage:
			out = append(out, v.Type+":"+v.Question+":"+v.Chunk)
		default:
			out = append(out, m.Kind())
		}
	}
	return out
}

func fixedGenerator(deltas ...string) Generator {
	return GeneratorFunc(func(ctx context.Context, _ Request) (<-chan Chunk, error) {
		out := make(chan Chunk)
		go func() {
			defer close(out)
			for _, d := range deltas {
				select {
				case out <- Chunk{Delta: d}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	})
}

// blockingGenerator emits one chunk and then waits for cancellation.
func blockingGenerator(first string) Generator {
	return GeneratorFunc(func(ctx context.Context, _ Request) (<-chan Chunk, error) {
		out := make(chan Chunk)
		go func() {
			defer close(out)
			select {
			case out <- Chunk{Delta: first}:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		}()
		return out, nil
	})
}

func cancelledTotal(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.NewExporter().Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "turnsync_answer_streams_cancelled_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.Active() }, 2*time.Second, 5*time.Millisecond)
}

func TestCompletedStreamEventOrder(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(fixedGenerator("Go ", "is ", "great."), sink, Config{SessionID: "s1", RoomID: "r1"})

	require.True(t, c.Start(context.Background(), "Why Go?"))
	waitIdle(t, c)

	assert.Equal(t, []string{
		"answer_suggestion_start:Why Go?:",
		"answer_suggestion_chunk:Why Go?:" + protocol.ThinkingIndicator,
		"answer_suggestion_chunk:Why Go?:Go ",
		"answer_suggestion_chunk:Why Go?:is ",
		"answer_suggestion_chunk:Why Go?:great.",
		"answer_suggestion_done:Why Go?:completed",
		"answer_suggestion:Why Go?:completed",
	}, describe(sink.messages()))

	updates := sink.roomUpdates()
	require.Len(t, updates, 2)
	assert.True(t, *updates[0].IsStreaming)
	assert.Equal(t, "", *updates[0].PartialAnswer)
	assert.False(t, *updates[1].IsStreaming)
	assert.Equal(t, "Go is great.", *updates[1].PartialAnswer)
}

func TestRoomStateRefreshedEveryTenChunks(t *testing.T) {
	deltas := make([]string, 12)
	for i := range deltas {
		deltas[i] = "w "
	}
	sink := &recordingSink{}
	c := NewCoordinator(fixedGenerator(deltas...), sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "Tell me about Go"))
	waitIdle(t, c)

	// start, one partial refresh, done
	updates := sink.roomUpdates()
	require.Len(t, updates, 3)
	assert.True(t, *updates[1].IsStreaming)
	assert.Equal(t, "w w w w w w w w w ", *updates[1].PartialAnswer)
}

func TestSameQuestionIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(blockingGenerator("a"), sink, Config{SessionID: "s1"})
	defer c.Close()

	require.True(t, c.Start(context.Background(), "What is AWS Lambda?"))
	assert.False(t, c.Start(context.Background(), "what is aws lambda?"))
	assert.False(t, c.Start(context.Background(), "   "))
	assert.True(t, c.Active())
}

func TestSupersedeCancelsBeforeNewStart(t *testing.T) {
	before := cancelledTotal(t)
	sink := &recordingSink{}
	c := NewCoordinator(blockingGenerator("first"), sink, Config{SessionID: "s1", RoomID: "r1"})
	defer c.Close()

	require.True(t, c.Start(context.Background(), "What is Kafka?"))
	require.Eventually(t, func() bool { return len(sink.messages()) >= 3 }, time.Second, 5*time.Millisecond)

	require.True(t, c.Start(context.Background(), "What is Redis?"))
	require.Eventually(t, func() bool { return len(sink.messages()) >= 7 }, time.Second, 5*time.Millisecond)

	got := describe(sink.messages())
	assert.Equal(t, []string{
		"answer_suggestion_start:What is Kafka?:",
		"answer_suggestion_chunk:What is Kafka?:" + protocol.ThinkingIndicator,
		"answer_suggestion_chunk:What is Kafka?:first",
		"answer_suggestion_done:What is Kafka?:cancelled",
		"answer_suggestion_start:What is Redis?:",
		"answer_suggestion_chunk:What is Redis?:" + protocol.ThinkingIndicator,
		"answer_suggestion_chunk:What is Redis?:first",
	}, got[:7])
	assert.Equal(t, before+1, cancelledTotal(t))
}

func TestCancelEmitsSingleCancelledDone(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(blockingGenerator("x"), sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "Explain goroutines"))
	assert.True(t, c.Cancel("stop_answer_generation"))
	assert.False(t, c.Active())
	assert.False(t, c.Cancel("again"))

	var done []string
	for _, d := range describe(sink.messages()) {
		if d == "answer_suggestion_done:Explain goroutines:cancelled" {
			done = append(done, d)
		}
		assert.NotContains(t, d, "answer_suggestion:")
	}
	assert.Len(t, done, 1)
}

func TestTimeoutFallsBack(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(blockingGenerator("partial"), sink, Config{SessionID: "s1", Timeout: 30 * time.Millisecond})

	require.True(t, c.Start(context.Background(), "What is AWS ECS?"))
	waitIdle(t, c)

	msgs := sink.messages()
	last := msgs[len(msgs)-1].(protocol.AnswerMessage)
	assert.Equal(t, protocol.KindAnswerSuggestion, last.Type)
	assert.Equal(t, ReasonTimeoutFallback, last.Reason)
	assert.Equal(t, Fallback("What is AWS ECS?"), last.Suggestion)
}

func TestGeneratorErrorFallsBack(t *testing.T) {
	sink := &recordingSink{}
	gen := GeneratorFunc(func(context.Context, Request) (<-chan Chunk, error) {
		return nil, errors.New("upstream 500")
	})
	c := NewCoordinator(gen, sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "Describe system design for chat"))
	waitIdle(t, c)

	got := describe(sink.messages())
	assert.Contains(t, got, "answer_suggestion_done:Describe system design for chat:error_fallback")
	assert.Contains(t, got, "answer_suggestion:Describe system design for chat:error_fallback")
}

func TestChunkErrorFallsBack(t *testing.T) {
	sink := &recordingSink{}
	gen := GeneratorFunc(func(context.Context, Request) (<-chan Chunk, error) {
		out := make(chan Chunk, 2)
		out <- Chunk{Delta: "half"}
		out <- Chunk{Err: errors.New("reset")}
		close(out)
		return out, nil
	})
	c := NewCoordinator(gen, sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "What is gRPC?"))
	waitIdle(t, c)
	assert.Contains(t, describe(sink.messages()), "answer_suggestion_done:What is gRPC?:error_fallback")
}

func TestEmptyStream(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(fixedGenerator("  "), sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "What is nothing?"))
	waitIdle(t, c)

	got := describe(sink.messages())
	assert.Equal(t, "answer_suggestion_done:What is nothing?:empty", got[len(got)-1])
}

func TestNilGeneratorUsesFallback(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(nil, sink, Config{SessionID: "s1"})

	require.True(t, c.Start(context.Background(), "Tell me about conflict at work"))
	waitIdle(t, c)
	assert.Contains(t, describe(sink.messages()), "answer_suggestion:Tell me about conflict at work:error_fallback")
}

func TestCloseRejectsStarts(t *testing.T) {
	c := NewCoordinator(blockingGenerator("x"), &recordingSink{}, Config{SessionID: "s1"})
	require.True(t, c.Start(context.Background(), "First question here"))
	c.Close()
	assert.False(t, c.Active())
	assert.False(t, c.Start(context.Background(), "Second question here"))
}
