package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/yungtweek/byte-proxy/internal/logger"
	"github.com/yungtweek/byte-proxy/internal/metrics"
	"github.com/yungtweek/byte-proxy/internal/upstream"
)

type Kind int

const (
	KindInternal Kind = iota
	KindMethodNotAllowed
	KindBadRequest
	KindUpstream
	// KindStreamInterrupted is reported as a terminal SSE frame, never as a
	// status code: headers are already committed when it happens.
	KindStreamInterrupted
)

const (
	msgMethodNotAllowed = "Method not allowed"
	msgNoInput          = `Either "message" string or "messages" array is required`
	msgInvalidBody      = "Invalid JSON body"
	msgUpstreamFailed   = "Failed to get response from BYTE"
)

// Error is the only error shape handlers write to clients.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) payload() any {
	switch e.Kind {
	case KindMethodNotAllowed, KindBadRequest:
		return map[string]any{"error": e.Message}
	case KindUpstream:
		return map[string]any{"error": e.Message, "details": e.Details}
	default:
		return map[string]any{
			"error": map[string]string{
				"type":    "internal_error",
				"message": e.Message,
			},
		}
	}
}

func methodNotAllowed() *Error {
	return &Error{Kind: KindMethodNotAllowed, Message: msgMethodNotAllowed}
}

func badRequest(msg string, err error) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// classifyUpstream maps an upstream client error to a client-facing error.
// Upstream bodies are passed through; the credential never appears in them.
func classifyUpstream(err error) *Error {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return &Error{Kind: KindUpstream, Message: msgUpstreamFailed, Details: se.Details(), Err: err}
	}
	return internalError(err)
}

func upstreamOutcome(err error) string {
	var se *upstream.StatusError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, upstream.ErrMissingCredential):
		return metrics.OutcomeMissingCredential
	case errors.As(err, &se):
		return metrics.OutcomeUpstreamError
	default:
		return metrics.OutcomeTransportError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("[http] failed to write response", "status", status, "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = internalError(err)
	}
	writeJSON(w, e.Status(), e.payload())
}
