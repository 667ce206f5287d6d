package openrouter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// Idle timeout per read. A stalled upstream surfaces as a stream error
// instead of hanging the turn loop forever.
const sseIdleTimeout = 60 * time.Second

// Stream yields raw per-frame chunks from a text/event-stream response.
// It does no accumulation; merging positional tool-call fragments is the
// caller's job. Comment lines and frames without choices (OpenRouter sends
// ": OPENROUTER PROCESSING" keepalives) are skipped.
type Stream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	logger    *zap.Logger
	done      bool
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, logger *zap.Logger) *Stream {
	reader := &timedReader{r: body, timeout: sseIdleTimeout}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line
	return &Stream{
		body:    body,
		scanner: scanner,
		logger:  logger,
	}
}

// Recv returns the next chunk, or io.EOF after "[DONE]" or stream end.
func (s *Stream) Recv() (service.StreamChunk, error) {
	if s.done {
		return service.StreamChunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return service.StreamChunk{}, io.EOF
		}

		var frame StreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			s.logger.Debug("Skip unparseable SSE chunk", zap.Error(err))
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}

		choice := frame.Choices[0]
		chunk := service.StreamChunk{Delta: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, service.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != nil {
			chunk.FinishReason = *choice.FinishReason
		}
		return chunk, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			return service.StreamChunk{}, fmt.Errorf("SSE stream stalled: no data for %v", sseIdleTimeout)
		}
		return service.StreamChunk{}, fmt.Errorf("SSE scan error: %w", err)
	}
	return service.StreamChunk{}, io.EOF
}

// Close releases the response body. Safe to call more than once; also
// unblocks a Recv stuck on a silent connection.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.body.Close()
	})
}

var _ service.CompletionStream = (*Stream)(nil)

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
