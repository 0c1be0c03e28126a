package upstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Event is one meaningful item read from the upstream SSE stream: either a
// text delta or the end-of-stream sentinel.
type Event struct {
	Done  bool
	Delta string
}

// Stream reads OpenAI-style SSE frames line by line.
type Stream struct {
	body io.ReadCloser
	sc   *bufio.Scanner
}

func newStream(body io.ReadCloser, maxLine int) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, min(initialStreamBuf, maxLine)), maxLine)
	return &Stream{body: body, sc: sc}
}

// Next returns the next delta or the [DONE] sentinel.
//
// Blank lines, non-data lines and chunks without text (role-only or
// finish-only chunks) are skipped. It returns io.EOF when the body ends
// without a sentinel, a *ChunkError for a data line that is not JSON (the
// stream stays usable), and any other error for a failed read.
func (s *Stream) Next() (Event, error) {
	for s.sc.Scan() {
		line := strings.TrimRight(s.sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := line[len(dataPrefix):]
		if data == doneSentinel {
			return Event{Done: true}, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return Event{}, &ChunkError{Raw: data, Err: err}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if c := chunk.Choices[0].Delta.Content; c != nil && *c != "" {
			return Event{Delta: *c}, nil
		}
	}

	if err := s.sc.Err(); err != nil {
		return Event{}, fmt.Errorf("read upstream stream: %w", err)
	}
	return Event{}, io.EOF
}

func (s *Stream) Close() error {
	return s.body.Close()
}
