package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingCredential is returned before any network call when the bearer
// credential is not available.
var ErrMissingCredential = errors.New("upstream credential is not configured")

// StatusError reports a non-2xx upstream response. Body holds the (truncated)
// response body for diagnostics; it never contains the request credential.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Details returns the upstream body as JSON when it parses, otherwise as a
// plain string.
func (e *StatusError) Details() any {
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

// ChunkError reports a `data:` line whose payload is not valid JSON.
type ChunkError struct {
	Raw string
	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("malformed stream chunk: %v", e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
