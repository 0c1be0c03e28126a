package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/yungtweek/byte-proxy/internal/chat"
	"github.com/yungtweek/byte-proxy/internal/config"
	"github.com/yungtweek/byte-proxy/internal/metrics"
	"github.com/yungtweek/byte-proxy/internal/mock"
	"github.com/yungtweek/byte-proxy/internal/upstream"
)

const testKey = "sk-test-secret"

var msgID = regexp.MustCompile(`^msg_[0-9a-f]{32}$`)

type harness struct {
	handler http.Handler
	up      *mock.Upstream
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, s mock.Script, key upstream.KeySource, opts ...func(*Deps)) *harness {
	t.Helper()

	up := mock.NewUpstream(s)
	t.Cleanup(up.Close)

	if key == nil {
		key = func() (string, error) { return testKey, nil }
	}
	cfg := config.Config{UpstreamModel: config.GroqChatModel, DefaultMaxTokens: 4096}
	m := metrics.New()

	d := Deps{
		Translator:    chat.NewTranslator(cfg, config.DefaultPersona()),
		Upstream:      upstream.New(up.ChatURL(), key),
		Metrics:       m,
		MaxBodyBytes:  1 << 20,
		ExposeMetrics: true,
	}
	for _, o := range opts {
		o(&d)
	}
	return &harness{handler: NewHandler(d), up: up, metrics: m}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rr := h.do(http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	return rr.Body.String()
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
	}
	return out
}

// parseSSE returns the JSON payload of every `data:` event in order.
func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()

	var frames []map[string]any
	for _, evt := range strings.Split(body, "\n\n") {
		evt = strings.TrimSpace(evt)
		if evt == "" {
			continue
		}
		if !strings.HasPrefix(evt, "data: ") {
			t.Fatalf("unexpected SSE event: %q", evt)
		}
		var f map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(evt, "data: ")), &f); err != nil {
			t.Fatalf("failed to unmarshal SSE frame: %v\npayload: %s", err, evt)
		}
		frames = append(frames, f)
	}
	return frames
}

func deltaOf(t *testing.T, f map[string]any) string {
	t.Helper()
	choices, _ := f["choices"].([]any)
	if len(choices) != 1 {
		t.Fatalf("frame has %d choices: %v", len(choices), f)
	}
	delta, _ := choices[0].(map[string]any)["delta"].(map[string]any)
	s, _ := delta["content"].(string)
	return s
}

func finishReasonOf(f map[string]any) string {
	choices, _ := f["choices"].([]any)
	if len(choices) != 1 {
		return ""
	}
	s, _ := choices[0].(map[string]any)["finish_reason"].(string)
	return s
}

func TestChatRejectsWrongMethod(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "unused"}, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			rr := h.do(method, "/byte", `{"message":"hi"}`)
			if rr.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d", rr.Code)
			}
			if got := decodeBody(t, rr)["error"]; got != "Method not allowed" {
				t.Fatalf("error = %v", got)
			}
		})
	}
	if n := len(h.up.Calls()); n != 0 {
		t.Fatalf("no upstream call expected, got %d", n)
	}
}

func TestChatRejectsMissingInput(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "unused"}, nil)

	for _, body := range []string{``, `{}`, `{"messages":[]}`, `{"message":""}`, `{"message":5}`, `{"model":"byte-mini","stream":true}`} {
		t.Run(body, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/byte", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["error"]; got != msgNoInput {
				t.Fatalf("error = %v", got)
			}
		})
	}
	if n := len(h.up.Calls()); n != 0 {
		t.Fatalf("no upstream call expected, got %d", n)
	}
}

func TestChatRejectsInvalidJSON(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "unused"}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(h.up.Calls()) != 0 {
		t.Fatalf("no upstream call expected")
	}
}

func TestChatNonStreaming(t *testing.T) {
	h := newHarness(t, mock.Script{
		Content: "hi",
		Usage:   &mock.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":"hello","max_tokens":64}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var env chat.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !msgID.MatchString(env.ID) {
		t.Fatalf("bad id %q", env.ID)
	}
	if env.Model != "byte-mini" || env.Object != "chat.completion" || env.Developer != "AJ STUDIOZ" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if len(env.Choices) != 1 || env.Choices[0].Message.Content != "hi" || env.Choices[0].Message.Role != "assistant" {
		t.Fatalf("unexpected choices: %+v", env.Choices)
	}
	if env.Usage.TotalTokens != 4 {
		t.Fatalf("usage = %+v", env.Usage)
	}

	calls := h.up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
	sent := calls[0].Request
	if sent.Model != config.GroqChatModel || sent.MaxTokens != 64 || sent.Temperature != 0.7 || sent.Stream {
		t.Fatalf("unexpected upstream payload: %+v", sent)
	}
	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" || sent.Messages[1].Content != "hello" {
		t.Fatalf("unexpected upstream messages: %+v", sent.Messages)
	}
	if calls[0].Authorization != "Bearer "+testKey {
		t.Fatalf("credential not sent")
	}
	if !strings.Contains(h.scrape(t), `byte_upstream_tokens_total{type="prompt"} 3`) {
		t.Fatalf("prompt tokens not counted")
	}
}

func TestChatForwardsToolTurns(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "done"}, nil)

	body := `{"messages":[` +
		`{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"add","arguments":"{}"}}]},` +
		`{"role":"tool","tool_call_id":"c1","content":"42"}]}`
	rr := h.do(http.MethodPost, "/byte", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	calls := h.up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
	for _, want := range []string{`"tool_call_id":"c1"`, `"tool_calls":[{"id":"c1"`, `"content":null`} {
		if !strings.Contains(calls[0].Body, want) {
			t.Fatalf("upstream body missing %s: %s", want, calls[0].Body)
		}
	}
}

func TestChatNonStreamingUsageDefaultsToZero(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "x", OmitUsage: true}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"messages":[{"role":"user","content":"q"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	usage, _ := decodeBody(t, rr)["usage"].(map[string]any)
	for _, k := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		if usage[k] != float64(0) {
			t.Fatalf("%s = %v", k, usage[k])
		}
	}
}

func TestChatUpstreamError(t *testing.T) {
	h := newHarness(t, mock.Script{
		Status:    401,
		ErrorBody: `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`,
	}, nil)

	for _, body := range []string{`{"message":"hi"}`, `{"message":"hi","stream":true}`} {
		rr := h.do(http.MethodPost, "/byte", body)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("upstream errors are JSON even for streams, got %q", ct)
		}
		if strings.Contains(rr.Body.String(), testKey) {
			t.Fatalf("credential leaked: %s", rr.Body.String())
		}

		out := decodeBody(t, rr)
		if out["error"] != msgUpstreamFailed {
			t.Fatalf("error = %v", out["error"])
		}
		details, _ := out["details"].(map[string]any)
		inner, _ := details["error"].(map[string]any)
		if inner["message"] != "Invalid API Key" {
			t.Fatalf("upstream details not attached: %v", out)
		}
	}
}

func TestChatMissingCredential(t *testing.T) {
	t.Setenv("BYTE_TEST_MISSING_KEY", "")
	h := newHarness(t, mock.Script{Content: "unused"}, upstream.EnvKey("BYTE_TEST_MISSING_KEY"))

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	errObj, _ := decodeBody(t, rr)["error"].(map[string]any)
	if errObj["type"] != "internal_error" {
		t.Fatalf("expected internal_error, got %v", errObj)
	}
	if len(h.up.Calls()) != 0 {
		t.Fatalf("must fail closed without calling upstream")
	}
	if !strings.Contains(h.scrape(t), `byte_upstream_requests_total{mode="json",outcome="missing_credential"} 1`) {
		t.Fatalf("missing credential not counted")
	}
}

func TestChatTransportError(t *testing.T) {
	h := newHarness(t, mock.Script{Content: "unused"}, nil)
	h.up.Close()

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	errObj, _ := decodeBody(t, rr)["error"].(map[string]any)
	if errObj["type"] != "internal_error" || errObj["message"] == "" {
		t.Fatalf("unexpected error payload: %v", errObj)
	}
}

func TestChatStreaming(t *testing.T) {
	h := newHarness(t, mock.Script{Frames: []string{
		`data: {"choices":[{"delta":{"content":"A"}}]}`,
		`data: [DONE]`,
	}}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi","stream":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("cache control = %q", cc)
	}

	frames := parseSSE(t, rr.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected delta + terminal frame, got %d: %s", len(frames), rr.Body.String())
	}
	if deltaOf(t, frames[0]) != "A" {
		t.Fatalf("first frame = %v", frames[0])
	}
	if finishReasonOf(frames[1]) != "stop" || frames[1]["developer"] != "AJ STUDIOZ" {
		t.Fatalf("terminal frame = %v", frames[1])
	}

	id, _ := frames[0]["id"].(string)
	if !msgID.MatchString(id) || frames[1]["id"] != id {
		t.Fatalf("frames must share one synthetic id: %v / %v", frames[0]["id"], frames[1]["id"])
	}
	if frames[0]["model"] != "byte-mini" || frames[1]["model"] != "byte-mini" {
		t.Fatalf("frames must report the public model")
	}

	calls := h.up.Calls()
	if len(calls) != 1 || !calls[0].Request.Stream {
		t.Fatalf("upstream not asked to stream: %+v", calls)
	}
}

func TestChatStreamingDropsMalformedChunk(t *testing.T) {
	h := newHarness(t, mock.Script{Frames: []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"A"}}]}`,
		`data: {"choices":[{"delta":{"content":`,
		`data: {"choices":[{"delta":{"content":"B"}}]}`,
		`data: [DONE]`,
	}}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi","stream":true}`)

	frames := parseSSE(t, rr.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected A, B and terminal frame, got %d: %s", len(frames), rr.Body.String())
	}
	if deltaOf(t, frames[0]) != "A" || deltaOf(t, frames[1]) != "B" || finishReasonOf(frames[2]) != "stop" {
		t.Fatalf("unexpected frames: %v", frames)
	}
	if !strings.Contains(h.scrape(t), `byte_stream_frames_total{kind="dropped"} 1`) {
		t.Fatalf("dropped chunk not counted")
	}
}

func TestChatStreamingRelaysGeneratedContent(t *testing.T) {
	content := "The quick brown fox jumps over the lazy dog."
	h := newHarness(t, mock.Script{Content: content, ChunkSize: 5}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"messages":[{"role":"user","content":"fox?"}],"stream":true}`)

	frames := parseSSE(t, rr.Body.String())
	var b strings.Builder
	for _, f := range frames[:len(frames)-1] {
		b.WriteString(deltaOf(t, f))
	}
	if b.String() != content {
		t.Fatalf("reassembled %q", b.String())
	}
	if want := (len(content) + 4) / 5; len(frames)-1 != want {
		t.Fatalf("delta frames = %d, want %d", len(frames)-1, want)
	}
	if finishReasonOf(frames[len(frames)-1]) != "stop" {
		t.Fatalf("missing terminal frame")
	}
}

func TestChatStreamingInterrupted(t *testing.T) {
	h := newHarness(t, mock.Script{
		Frames: []string{`data: {"choices":[{"delta":{"content":"A"}}]}`},
		Abort:  true,
	}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi","stream":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("headers were committed; status = %d", rr.Code)
	}

	frames := parseSSE(t, rr.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected delta + error frame, got %d: %s", len(frames), rr.Body.String())
	}
	if deltaOf(t, frames[0]) != "A" {
		t.Fatalf("first frame = %v", frames[0])
	}
	if frames[1]["error"] != "Stream interrupted" {
		t.Fatalf("terminal frame = %v", frames[1])
	}
}

func TestChatStreamingEndsWithoutSentinel(t *testing.T) {
	h := newHarness(t, mock.Script{Frames: []string{`data: {"choices":[{"delta":{"content":"A"}}]}`}}, nil)

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi","stream":true}`)

	frames := parseSSE(t, rr.Body.String())
	if len(frames) != 1 || deltaOf(t, frames[0]) != "A" {
		t.Fatalf("expected a single delta frame, got %s", rr.Body.String())
	}
}

func TestChatStreamingFailOnMalformedChunk(t *testing.T) {
	h := newHarness(t, mock.Script{Frames: []string{
		`data: {"choices":[{"delta":{"content":"A"}}]}`,
		`data: {"choices":[{"delta":{"content":`,
		`data: {"choices":[{"delta":{"content":"B"}}]}`,
		`data: [DONE]`,
	}}, nil, func(d *Deps) { d.ChunkPolicy = FailOnMalformedChunk })

	rr := h.do(http.MethodPost, "/byte", `{"message":"hi","stream":true}`)

	frames := parseSSE(t, rr.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected delta + error frame, got %d: %s", len(frames), rr.Body.String())
	}
	if deltaOf(t, frames[0]) != "A" || frames[1]["error"] != "Stream interrupted" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestChatStreamingClientDisconnect(t *testing.T) {
	h := newHarness(t, mock.Script{
		Frames: []string{`data: {"choices":[{"delta":{"content":"A"}}]}`},
		Hold:   true,
	}, nil)

	returned := make(chan struct{})
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(returned)
		h.handler.ServeHTTP(w, r)
	}))
	defer front.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, front.URL+"/byte", strings.NewReader(`{"message":"hi","stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := front.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.Contains(line, `"content":"A"`) {
		t.Fatalf("first frame = %q, %v", line, err)
	}

	cancel()

	select {
	case <-h.up.Gone():
	case <-time.After(5 * time.Second):
		t.Fatalf("upstream request still open after the client left")
	}
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler still relaying after the client left")
	}
}
