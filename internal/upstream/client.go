package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	maxErrorBody     = 64 << 10
	defaultStreamBuf = 1 << 20
	initialStreamBuf = 64 << 10
)

// KeySource yields the bearer credential for one upstream call.
type KeySource func() (string, error)

// EnvKey reads the credential from the named environment variable on every
// call, so a missing key fails the request rather than the process.
func EnvKey(name string) KeySource {
	return func() (string, error) {
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrMissingCredential, name)
		}
		return v, nil
	}
}

// Client talks to a single OpenAI-compatible chat-completions endpoint.
type Client struct {
	url       string
	key       KeySource
	hc        *http.Client
	streamBuf int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithStreamBuffer caps the size of a single SSE line.
func WithStreamBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.streamBuf = n
		}
	}
}

// NewHTTPClient returns a client without an overall timeout (streams may run
// for minutes) that still bounds the wait for response headers.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

func New(url string, key KeySource, opts ...Option) *Client {
	c := &Client{
		url:       url,
		key:       key,
		hc:        http.DefaultClient,
		streamBuf: defaultStreamBuf,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// open issues the request and returns the response only for 2xx statuses.
func (c *Client) open(ctx context.Context, req *ChatRequest) (*http.Response, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: b}
	}
	return resp, nil
}

// Complete performs a non-streaming completion.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*Completion, error) {
	req.Stream = false
	resp, err := c.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upstream completion: %w", err)
	}
	return &out, nil
}

// Stream starts a streaming completion. The caller must Close the result.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	req.Stream = true
	resp, err := c.open(ctx, req)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, c.streamBuf), nil
}
