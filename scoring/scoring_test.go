package scoring

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/turnsync/transcript"
)

func answer(words, hesitations int) transcript.Turn {
	return transcript.Turn{
		Text:        strings.TrimSpace(strings.Repeat("word ", words)),
		WordCount:   words,
		Hesitations: hesitations,
	}
}

func TestQuestionBankCyclesQuestions(t *testing.T) {
	bank := NewQuestionBank([]string{"Tell me about yourself.", " ", "Why this role?", "What is your biggest win?"})
	ctx := context.Background()

	d, err := bank.Score(ctx, Turn{Question: "Tell me about yourself.", Answer: answer(10, 0)})
	require.NoError(t, err)
	// the current question is skipped
	assert.Equal(t, "Why this role?", d.NextQuestion)

	d, err = bank.Score(ctx, Turn{Question: d.NextQuestion, Answer: answer(10, 0)})
	require.NoError(t, err)
	assert.Equal(t, "What is your biggest win?", d.NextQuestion)

	d, err = bank.Score(ctx, Turn{Question: d.NextQuestion, Answer: answer(10, 0)})
	require.NoError(t, err)
	assert.Equal(t, DefaultFollowUp, d.NextQuestion)
}

func TestQuestionBankEmpty(t *testing.T) {
	d, err := NewQuestionBank(nil).Score(context.Background(), Turn{Answer: answer(5, 0)})
	require.NoError(t, err)
	assert.Equal(t, DefaultFollowUp, d.NextQuestion)
}

func TestQuestionBankConfidence(t *testing.T) {
	bank := NewQuestionBank(nil)
	ctx := context.Background()

	long, err := bank.Score(ctx, Turn{Answer: answer(90, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, long.Confidence)

	hesitant, err := bank.Score(ctx, Turn{Answer: answer(90, 3)})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, hesitant.Confidence, 1e-9)
	assert.Equal(t, 3, hesitant.HesitationCount)

	short, err := bank.Score(ctx, Turn{Answer: answer(2, 5)})
	require.NoError(t, err)
	assert.Equal(t, 0.1, short.Confidence)
}

func TestQuestionBankCountsWordsWhenMissing(t *testing.T) {
	d, err := NewQuestionBank(nil).Score(context.Background(), Turn{Answer: transcript.Turn{Text: "one two three"}})
	require.NoError(t, err)
	assert.Equal(t, 3, d.WordCount)
}

func TestQuestionBankErrors(t *testing.T) {
	bank := NewQuestionBank(nil)
	_, err := bank.Score(context.Background(), Turn{Answer: transcript.Turn{Text: "  "}})
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bank.Score(ctx, Turn{Answer: answer(5, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(context.Context, Turn) (Decision, error) {
		return Decision{NextQuestion: "next"}, nil
	})
	d, err := s.Score(context.Background(), Turn{})
	require.NoError(t, err)
	assert.Equal(t, "next", d.NextQuestion)
}
