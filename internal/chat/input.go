package chat

import (
	"encoding/json"
	"errors"

	"github.com/yungtweek/byte-proxy/internal/upstream"
)

const RoleUser = "user"

// ErrNoInput is returned when neither `message` nor `messages` yields a turn.
var ErrNoInput = errors.New("request has neither message nor messages")

// Request is the body accepted by the chat endpoint. Model is accepted for
// OpenAI compatibility but does not select the upstream model. Messages and
// MaxTokens stay raw so they are forwarded exactly as the caller sent them.
type Request struct {
	Model     string            `json:"model"`
	MaxTokens json.RawMessage   `json:"max_tokens"`
	Messages  []json.RawMessage `json:"messages"`
	Message   json.RawMessage   `json:"message"`
	Stream    bool              `json:"stream"`
}

// Input is the conversation supplied by the caller, resolved once from
// whichever request field was used.
type Input interface {
	Turns() []json.RawMessage
	isInput()
}

// SingleMessage is a plain `message` string sent as one user turn.
type SingleMessage string

func (m SingleMessage) Turns() []json.RawMessage {
	return []json.RawMessage{upstream.Message{Role: RoleUser, Content: string(m)}.Raw()}
}

func (SingleMessage) isInput() {}

// MessageList is a `messages` array forwarded verbatim, including fields the
// proxy does not know about (tool_calls, tool_call_id, ...).
type MessageList []json.RawMessage

func (l MessageList) Turns() []json.RawMessage { return l }

func (MessageList) isInput() {}

// Resolve picks the caller's conversation: a non-empty string `message` wins,
// then a non-empty `messages`. A `message` of any other JSON type is ignored.
func Resolve(req Request) (Input, error) {
	if len(req.Message) > 0 {
		var s string
		if err := json.Unmarshal(req.Message, &s); err == nil && s != "" {
			return SingleMessage(s), nil
		}
	}
	if len(req.Messages) > 0 {
		return MessageList(req.Messages), nil
	}
	return nil, ErrNoInput
}
