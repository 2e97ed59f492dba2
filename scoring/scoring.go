// Package scoring defines the turn scoring collaborator and a question-bank
// default that needs no external model.
package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/AltairaLabs/turnsync/transcript"
)

// DefaultFollowUp is asked when the bank is exhausted or empty.
const DefaultFollowUp = "Can you explain that in more detail?"

// ErrEmptyAnswer is returned when a turn carries no text to score.
var ErrEmptyAnswer = errors.New("turn has no answer text")

// Turn is one completed answer together with the question it answered.
type Turn struct {
	Question string
	Answer   transcript.Turn
	Reason   string
	Number   int
}

// Decision is the scorer's verdict on a turn.
type Decision struct {
	NextQuestion    string  `json:"next_question"`
	Confidence      float64 `json:"confidence"`
	HesitationCount int     `json:"hesitation_count"`
	WordCount       int     `json:"word_count"`
}

// Scorer evaluates completed turns.
type Scorer interface {
	Score(ctx context.Context, t Turn) (Decision, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, t Turn) (Decision, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, t Turn) (Decision, error) { return f(ctx, t) }

// QuestionBank cycles through a fixed list of questions. It is safe for
// concurrent use, though each session normally owns its own bank.
type QuestionBank struct {
	mu        sync.Mutex
	questions []string
	next      int
}

// NewQuestionBank returns a bank over questions. Blank entries are skipped.
func NewQuestionBank(questions []string) *QuestionBank {
	kept := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			kept = append(kept, q)
		}
	}
	return &QuestionBank{questions: kept}
}

// Score returns the next bank question and a confidence derived from answer
// length and hesitations.
func (b *QuestionBank) Score(ctx context.Context, t Turn) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	text := strings.TrimSpace(t.Answer.Text)
	if text == "" {
		return Decision{}, ErrEmptyAnswer
	}
	words := t.Answer.WordCount
	if words == 0 {
		words = len(strings.Fields(text))
	}
	return Decision{
		NextQuestion:    b.advance(t.Question),
		Confidence:      confidence(words, t.Answer.Hesitations),
		HesitationCount: t.Answer.Hesitations,
		WordCount:       words,
	}, nil
}

// advance returns the next question that differs from current.
func (b *QuestionBank) advance(current string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for range b.questions {
		if b.next >= len(b.questions) {
			break
		}
		q := b.questions[b.next]
		b.next++
		if !strings.EqualFold(q, strings.TrimSpace(current)) {
			return q
		}
	}
	return DefaultFollowUp
}

// confidence saturates at 60 words and loses 0.1 per hesitation, floored at 0.1.
func confidence(words, hesitations int) float64 {
	c := math.Min(1, float64(words)/60) - 0.1*float64(hesitations)
	c = math.Max(0.1, c)
	return math.Round(c*100) / 100
}
