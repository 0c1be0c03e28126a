package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yungtweek/byte-proxy/internal/chat"
	"github.com/yungtweek/byte-proxy/internal/metrics"
	"github.com/yungtweek/byte-proxy/internal/upstream"
)

// Completer is the upstream chat-completions API.
type Completer interface {
	Complete(ctx context.Context, req *upstream.ChatRequest) (*upstream.Completion, error)
	Stream(ctx context.Context, req *upstream.ChatRequest) (*upstream.Stream, error)
}

// ChatHandler serves POST /byte: it injects the persona, calls the upstream
// model and returns either a JSON completion or a re-framed SSE stream.
type ChatHandler struct {
	tr      chat.Translator
	up      Completer
	m       *metrics.Metrics
	maxBody int64
	policy  ChunkPolicy
}

// NewChatHandler builds the /byte handler. An empty policy means
// IgnoreMalformedChunk.
func NewChatHandler(tr chat.Translator, up Completer, m *metrics.Metrics, maxBody int64, policy ChunkPolicy) *ChatHandler {
	if policy == "" {
		policy = IgnoreMalformedChunk
	}
	return &ChatHandler{
		tr:      tr,
		up:      up,
		m:       m,
		maxBody: maxBody,
		policy:  policy,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)

	if r.Method != http.MethodPost {
		writeError(w, methodNotAllowed())
		return
	}

	var req chat.Request
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	// An empty body is treated like an empty object so it gets the
	// missing-input message rather than a parse error.
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Infow("[chat] rejected body", "err", err)
		writeError(w, badRequest(msgInvalidBody, err))
		return
	}

	in, err := chat.Resolve(req)
	if err != nil {
		writeError(w, badRequest(msgNoInput, err))
		return
	}

	upReq := h.tr.Upstream(req, in)
	id := chat.NewMessageID()
	log.Infow("[chat] start", "id", id, "stream", req.Stream, "turns", len(in.Turns()), "maxTokens", string(upReq.MaxTokens))

	if req.Stream {
		h.serveStream(w, r, upReq, id)
		return
	}
	h.serveCompletion(w, r, upReq, id)
}

func (h *ChatHandler) serveCompletion(w http.ResponseWriter, r *http.Request, upReq *upstream.ChatRequest, id string) {
	log := requestLogger(r)

	c, err := h.up.Complete(r.Context(), upReq)
	h.m.UpstreamCall("json", upstreamOutcome(err))
	if err != nil {
		log.Errorw("[chat] upstream failed", "id", id, "err", err)
		writeError(w, classifyUpstream(err))
		return
	}

	env, err := h.tr.Envelope(id, c)
	if err != nil {
		log.Errorw("[chat] unusable completion", "id", id, "err", err)
		writeError(w, internalError(err))
		return
	}
	h.m.Tokens(env.Usage.PromptTokens, env.Usage.CompletionTokens)

	writeJSON(w, http.StatusOK, env)
}

func (h *ChatHandler) serveStream(w http.ResponseWriter, r *http.Request, upReq *upstream.ChatRequest, id string) {
	log := requestLogger(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, internalError(errors.New("streaming unsupported")))
		return
	}

	s, err := h.up.Stream(r.Context(), upReq)
	h.m.UpstreamCall("stream", upstreamOutcome(err))
	if err != nil {
		log.Errorw("[chat] upstream stream failed", "id", id, "err", err)
		writeError(w, classifyUpstream(err))
		return
	}
	defer s.Close()

	rl := relay{tr: h.tr, m: h.m, policy: h.policy, log: log}
	_ = rl.run(w, r, flusher, s, id)
}
