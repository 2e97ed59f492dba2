package answer

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// ErrMissingAPIKey is returned when the Gemini generator has no key.
var ErrMissingAPIKey = errors.New("gemini api key is required")

// GeminiGenerator streams suggestions from the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiGenerator creates a generator using apiKey. An empty model selects DefaultGeminiModel.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.4),
			MaxOutputTokens:   400,
		},
	}, nil
}

const systemPrompt = "You help a job candidate answer a live interview question. " +
	"Reply in first person with one direct sentence, then three or four short bullet points " +
	"with a concrete example and a trade-off. No preamble."

// Stream implements Generator.
func (g *GeminiGenerator) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)
	prompt := fmt.Sprintf("Interview question: %s\nAssist intensity: %d of 3.", req.Question, req.AssistIntensity)

	go func() {
		defer close(out)
		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config) {
			if err != nil {
				send(Chunk{Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			if text := resp.Text(); text != "" && !send(Chunk{Delta: text}) {
				return
			}
		}
	}()
	return out, nil
}
