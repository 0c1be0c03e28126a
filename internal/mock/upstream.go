package mock

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Script controls how the fake upstream answers.
type Script struct {
	// Status, when non-zero and not 2xx, is returned with ErrorBody.
	Status    int
	ErrorBody string

	// Content is the completion text; empty means BuildOutput from the last
	// user message.
	Content string
	// Usage overrides the computed usage; OmitUsage drops the field entirely.
	Usage     *Usage
	OmitUsage bool

	// Frames, when set, are written verbatim as the streaming body (each
	// followed by a blank line) instead of chunking Content.
	Frames    []string
	ChunkSize int
	// Abort drops the connection after the streamed frames instead of ending
	// the body cleanly.
	Abort bool
	// Hold keeps the stream open after the frames until the caller goes away.
	Hold bool
}

// Call is one request received by the fake upstream.
type Call struct {
	Authorization string
	Accept        string
	Request       ChatRequest
	Body          string
}

// Upstream is an OpenAI-compatible chat-completions server for tests.
type Upstream struct {
	*httptest.Server
	script Script

	mu    sync.Mutex
	calls []Call

	gone     chan struct{}
	goneOnce sync.Once
}

func NewUpstream(s Script) *Upstream {
	u := &Upstream{script: s, gone: make(chan struct{})}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	return u
}

// URL of the chat-completions endpoint.
func (u *Upstream) ChatURL() string {
	return u.Server.URL + "/v1/chat/completions"
}

func (u *Upstream) Calls() []Call {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Call(nil), u.calls...)
}

// Gone is closed once a held stream sees its request context end.
func (u *Upstream) Gone() <-chan struct{} {
	return u.gone
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":{"message":"bad json"}}`, http.StatusBadRequest)
		return
	}

	u.mu.Lock()
	u.calls = append(u.calls, Call{
		Authorization: r.Header.Get("Authorization"),
		Accept:        r.Header.Get("Accept"),
		Request:       req,
		Body:          string(body),
	})
	u.mu.Unlock()

	if s := u.script.Status; s != 0 && (s < 200 || s >= 300) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s)
		_, _ = io.WriteString(w, u.script.ErrorBody)
		return
	}

	content := u.script.Content
	if content == "" {
		content = BuildOutput(lastUserMessage(req), req.MaxTokens)
	}

	if req.Stream {
		u.serveStream(w, r, req, content)
		return
	}

	resp := ChatResponse{
		ID:      "chatcmpl-mock-" + RandID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
	}
	choice := Choice{FinishReason: "stop"}
	choice.Message.Role = "assistant"
	choice.Message.Content = content
	resp.Choices = []Choice{choice}

	switch {
	case u.script.OmitUsage:
	case u.script.Usage != nil:
		resp.Usage = u.script.Usage
	default:
		pt := ApproxTokens(lastUserMessage(req))
		ct := ApproxTokens(content)
		resp.Usage = &Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (u *Upstream) serveStream(w http.ResponseWriter, r *http.Request, req ChatRequest, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	bw := bufio.NewWriter(w)

	frames := u.script.Frames
	if frames == nil {
		frames = chunkFrames(req.Model, content, u.script.ChunkSize)
	}
	for _, f := range frames {
		if _, err := fmt.Fprintf(bw, "%s\n\n", f); err != nil {
			return
		}
		if err := bw.Flush(); err != nil {
			return
		}
		flusher.Flush()
	}

	if u.script.Hold {
		select {
		case <-r.Context().Done():
			u.goneOnce.Do(func() { close(u.gone) })
		case <-time.After(holdLimit):
		}
		return
	}

	if u.script.Abort {
		// Closes the connection without the terminating chunk.
		panic(http.ErrAbortHandler)
	}
}

// holdLimit bounds a held stream so a broken test cannot hang Close.
const holdLimit = 10 * time.Second

// chunkFrames renders content the way OpenAI-style servers stream it: a role
// chunk, content chunks, a finish chunk, then [DONE].
func chunkFrames(model, content string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 12
	}
	id := "chatcmpl-mock-" + RandID()
	created := time.Now().Unix()

	frame := func(choice StreamChoice) string {
		b, _ := json.Marshal(StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []StreamChoice{choice},
		})
		return "data: " + string(b)
	}

	var first StreamChoice
	first.Delta.Role = "assistant"
	out := []string{frame(first)}

	for i := 0; i < len(content); i += chunkSize {
		end := min(i+chunkSize, len(content))
		var c StreamChoice
		c.Delta.Content = content[i:end]
		out = append(out, frame(c))
	}

	stop := "stop"
	out = append(out, frame(StreamChoice{FinishReason: &stop}), "data: [DONE]")
	return out
}
