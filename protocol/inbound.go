package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Decode errors.
var (
	ErrMalformed = errors.New("malformed inbound message")
	ErrInvalid   = errors.New("inbound message failed validation")
)

// Inbound is a decoded client message. Only the fields relevant to Type are set.
type Inbound struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Question string `json:"question,omitempty"`
	IsFinal  bool   `json:"is_final,omitempty"`
}

// ValidationError lists the schema violations of one message.
type ValidationError struct {
	Kind    string
	Details []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Details, "; "))
}

// Is matches ErrInvalid.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

const inboundSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": [
        "interviewer_question", "set_question", "candidate_transcript",
        "qa_transcript", "stop", "stop_answer_generation",
        "sync_state_request", "ping", "pong"
      ]
    },
    "text": {"type": "string"},
    "question": {"type": "string"},
    "is_final": {"type": "boolean"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"enum": ["interviewer_question", "candidate_transcript", "qa_transcript"]}}},
      "then": {"required": ["text"]}
    },
    {
      "if": {"properties": {"type": {"const": "set_question"}}},
      "then": {"required": ["question"]}
    }
  ]
}`

// Decoder validates and decodes inbound frames. It is safe for concurrent use.
type Decoder struct {
	schema *gojsonschema.Schema
}

// NewDecoder compiles the inbound schema.
func NewDecoder() (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inboundSchema))
	if err != nil {
		return nil, fmt.Errorf("compile inbound schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode parses data. The type is lowercased and text fields trimmed.
func (d *Decoder) Decode(data []byte) (Inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if t, ok := raw["type"].(string); ok {
		raw["type"] = strings.ToLower(strings.TrimSpace(t))
	}

	result, err := d.schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !result.Valid() {
		kind, _ := raw["type"].(string)
		details := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			details[i] = e.String()
		}
		return Inbound{}, &ValidationError{Kind: kind, Details: details}
	}

	in := Inbound{Type: raw["type"].(string)}
	in.Text, _ = raw["text"].(string)
	in.Question, _ = raw["question"].(string)
	in.IsFinal, _ = raw["is_final"].(bool)
	in.Text = strings.TrimSpace(in.Text)
	in.Question = strings.TrimSpace(in.Question)
	return in, nil
}
