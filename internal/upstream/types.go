package upstream

import "encoding/json"

// Message is a plain role/content turn built by the proxy itself.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Raw encodes m as a turn for ChatRequest.Messages.
func (m Message) Raw() json.RawMessage {
	b, _ := json.Marshal(m)
	return b
}

// ChatRequest is the body sent to the chat-completions endpoint. Messages and
// MaxTokens are raw JSON so caller-supplied values reach the upstream as sent.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []json.RawMessage `json:"messages"`
	MaxTokens   json.RawMessage   `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the subset of a non-streaming response the proxy reads.
type Completion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// streamChunk is one `data:` payload of a streaming response.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}
