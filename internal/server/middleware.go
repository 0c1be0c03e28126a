package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yungtweek/byte-proxy/internal/logger"
	"github.com/yungtweek/byte-proxy/internal/metrics"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID reuses the caller's X-Request-ID or assigns a new UUID, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestLogger(r *http.Request) *zap.SugaredLogger {
	return logger.With("requestId", RequestIDFrom(r.Context()), "path", r.URL.Path)
}

// statusRecorder remembers the status code and whether headers went out. It
// forwards Flush so SSE keeps working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		if !s.wrote {
			s.status = http.StatusOK
			s.wrote = true
		}
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Instrument adds the access log line, request metrics and panic recovery
// for one named handler.
func Instrument(name string, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		log := requestLogger(r)

		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Errorw("[http] handler panic", "handler", name, "panic", v, "stack", string(debug.Stack()))
				if !rec.wrote {
					writeError(rec, internalError(fmt.Errorf("panic: %v", v)))
				}
			}

			d := time.Since(start)
			m.ObserveHTTP(name, r.Method, rec.status, d)
			log.Infow("[http] request",
				"handler", name,
				"method", r.Method,
				"status", rec.status,
				"durationMs", d.Milliseconds(),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(rec, r)
	})
}
