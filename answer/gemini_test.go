package answer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeminiGenerator(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	g, err := NewGeminiGenerator(context.Background(), "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiModel, g.model)
	assert.NotNil(t, g.config.SystemInstruction)
}
