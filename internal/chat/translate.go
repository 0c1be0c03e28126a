package chat

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/yungtweek/byte-proxy/internal/config"
	"github.com/yungtweek/byte-proxy/internal/upstream"
)

// Temperature is fixed for every upstream call.
const Temperature = 0.7

var ErrEmptyCompletion = errors.New("upstream completion has no choices")

// Translator maps between the public BYTE surface and the upstream API.
// It holds only startup configuration and is safe for concurrent use.
type Translator struct {
	Persona          config.Persona
	UpstreamModel    string
	DefaultMaxTokens int
}

func NewTranslator(cfg config.Config, p config.Persona) Translator {
	return Translator{
		Persona:          p,
		UpstreamModel:    cfg.UpstreamModel,
		DefaultMaxTokens: cfg.DefaultMaxTokens,
	}
}

// NewMessageID returns a response-local identifier: "msg_" and 32 hex digits.
func NewMessageID() string {
	id := uuid.New()
	return "msg_" + hex.EncodeToString(id[:])
}

// Upstream builds the outbound payload: system prompt first, then the
// caller's turns, with the upstream model substituted for the public alias.
// max_tokens is passed through as sent; the default applies only when the
// field is absent.
func (t Translator) Upstream(req Request, in Input) *upstream.ChatRequest {
	turns := in.Turns()
	msgs := make([]json.RawMessage, 0, len(turns)+1)
	msgs = append(msgs, upstream.Message{Role: "system", Content: t.Persona.SystemPrompt}.Raw())
	msgs = append(msgs, turns...)

	maxTokens := req.MaxTokens
	if len(maxTokens) == 0 {
		maxTokens = json.RawMessage(strconv.Itoa(t.DefaultMaxTokens))
	}

	return &upstream.ChatRequest{
		Model:       t.UpstreamModel,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: Temperature,
		Stream:      req.Stream,
	}
}

// Envelope wraps the first upstream choice in a BYTE-branded completion.
func (t Translator) Envelope(id string, c *upstream.Completion) (*Envelope, error) {
	if len(c.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	env := &Envelope{
		ID:        id,
		Object:    "chat.completion",
		Model:     t.Persona.PublicModel,
		Developer: t.Persona.Developer,
		Choices: []EnvelopeChoice{{
			Index:        0,
			Message:      AssistantMessage{Role: "assistant", Content: c.Choices[0].Message.Content},
			FinishReason: "stop",
		}},
	}
	if c.Usage != nil {
		env.Usage = *c.Usage
	}
	return env, nil
}

func (t Translator) DeltaFrame(id, content string) DeltaFrame {
	return DeltaFrame{
		Choices: []DeltaChoice{{Delta: Delta{Content: content}}},
		ID:      id,
		Model:   t.Persona.PublicModel,
	}
}

func (t Translator) DoneFrame(id string) DoneFrame {
	return DoneFrame{
		Choices:   []DoneChoice{{FinishReason: "stop"}},
		ID:        id,
		Model:     t.Persona.PublicModel,
		Developer: t.Persona.Developer,
	}
}

// InterruptedFrame is the terminal frame written when the upstream stream fails.
func InterruptedFrame() ErrorFrame {
	return ErrorFrame{Error: "Stream interrupted"}
}
