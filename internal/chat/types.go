package chat

import "github.com/yungtweek/byte-proxy/internal/upstream"

type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EnvelopeChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// Envelope is the non-streaming response body.
type Envelope struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	Model     string           `json:"model"`
	Choices   []EnvelopeChoice `json:"choices"`
	Usage     upstream.Usage   `json:"usage"`
	Developer string           `json:"developer"`
}

type Delta struct {
	Content string `json:"content"`
}

type DeltaChoice struct {
	Delta Delta `json:"delta"`
}

// DeltaFrame carries one text fragment of a stream.
type DeltaFrame struct {
	Choices []DeltaChoice `json:"choices"`
	ID      string        `json:"id"`
	Model   string        `json:"model"`
}

type DoneChoice struct {
	FinishReason string `json:"finish_reason"`
}

// DoneFrame ends a stream that completed normally.
type DoneFrame struct {
	Choices   []DoneChoice `json:"choices"`
	ID        string       `json:"id"`
	Model     string       `json:"model"`
	Developer string       `json:"developer"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}
