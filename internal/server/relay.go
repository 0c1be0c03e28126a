package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/yungtweek/byte-proxy/internal/chat"
	"github.com/yungtweek/byte-proxy/internal/metrics"
	"github.com/yungtweek/byte-proxy/internal/upstream"
)

// ChunkPolicy decides what happens to an upstream data line that is not JSON.
type ChunkPolicy string

const (
	// IgnoreMalformedChunk drops the line and keeps relaying.
	IgnoreMalformedChunk ChunkPolicy = "ignore-malformed-chunk"
	// FailOnMalformedChunk ends the stream with an interrupted frame.
	FailOnMalformedChunk ChunkPolicy = "fail-on-malformed-chunk"
)

// ParseChunkPolicy validates a policy name from configuration.
func ParseChunkPolicy(s string) (ChunkPolicy, error) {
	switch p := ChunkPolicy(s); p {
	case IgnoreMalformedChunk, FailOnMalformedChunk:
		return p, nil
	case "":
		return IgnoreMalformedChunk, nil
	default:
		return "", fmt.Errorf("unknown chunk policy %q (want %q or %q)", s, IgnoreMalformedChunk, FailOnMalformedChunk)
	}
}

type eventSource interface {
	Next() (upstream.Event, error)
}

// relay re-frames upstream SSE events for the client, one write and flush
// per event.
type relay struct {
	tr     chat.Translator
	m      *metrics.Metrics
	policy ChunkPolicy
	log    *zap.SugaredLogger
}

func (rl relay) run(w http.ResponseWriter, r *http.Request, flusher http.Flusher, src eventSource, id string) (err error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	bw := bufio.NewWriter(w)
	emit := func(kind string, v any) error {
		if err := writeSSE(bw, v); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		rl.m.Frame(kind)
		return nil
	}

	deltas := 0
	defer func() {
		switch {
		case err == nil:
			rl.log.Infow("[relay] done", "id", id, "deltas", deltas)
		case errors.Is(err, context.Canceled) || r.Context().Err() != nil:
			rl.log.Infow("[relay] canceled", "id", id, "deltas", deltas, "err", err)
		default:
			rl.log.Errorw("[relay] error", "id", id, "deltas", deltas, "err", err)
		}
	}()

	for {
		ev, nerr := src.Next()
		var ce *upstream.ChunkError
		switch {
		case nerr == nil && ev.Done:
			return emit(metrics.FrameDone, rl.tr.DoneFrame(id))

		case nerr == nil:
			if err := emit(metrics.FrameDelta, rl.tr.DeltaFrame(id, ev.Delta)); err != nil {
				return err
			}
			deltas++

		case errors.As(nerr, &ce) && rl.policy == IgnoreMalformedChunk:
			rl.m.Frame(metrics.FrameDropped)
			rl.log.Debugw("[relay] dropped malformed chunk", "id", id, "policy", rl.policy, "err", ce.Err)

		case errors.Is(nerr, io.EOF):
			// Upstream closed without [DONE]; nothing more to say.
			return nil

		default:
			ierr := &Error{Kind: KindStreamInterrupted, Message: "stream interrupted", Err: nerr}
			if werr := emit(metrics.FrameError, chat.InterruptedFrame()); werr != nil {
				return errors.Join(ierr, werr)
			}
			return ierr
		}
	}
}

func writeSSE(w *bufio.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	return nil
}
