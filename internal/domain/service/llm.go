package service

import (
	"context"
	"fmt"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/tool"
)

// CompletionClient is the interface the agent uses to talk to the
// chat-completion backend. It decouples the turn loop from the HTTP/SSE
// transport.
type CompletionClient interface {
	// StreamCompletion opens a streaming completion. The returned stream
	// yields raw chunks; merging tool-call deltas is the turn loop's job.
	StreamCompletion(ctx context.Context, req *Request) (CompletionStream, error)

	// Complete performs a non-streaming completion and returns the
	// assistant text. Used for compaction summaries.
	Complete(ctx context.Context, req *Request) (string, error)

	// ModelDetails fetches backend metadata for one model id.
	ModelDetails(ctx context.Context, model string) (map[string]interface{}, error)

	// Close releases idle connections. The client must not be used after.
	Close()
}

// ModelLister fetches the backend's model catalog.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelEntry, error)
}

// CompletionStream is one in-flight streaming completion.
// Recv returns io.EOF when the stream is exhausted. Close may be called at
// any point to abandon the stream; it is idempotent.
type CompletionStream interface {
	Recv() (StreamChunk, error)
	Close()
}

// Request is a completion request. Messages carry the system prompt
// prepended; Tools is omitted from the wire when empty.
type Request struct {
	Model    string
	Messages []entity.Message
	Tools    []tool.Definition
}

// StreamChunk is the payload of one streamed SSE frame, undecorated:
// a text fragment, zero or more positional tool-call deltas, and the
// finish reason once the backend emits it.
type StreamChunk struct {
	Delta        string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta is a fragment of a tool call at a stream position. The last
// non-empty ID and Name win; Arguments fragments are concatenated in arrival
// order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ModelEntry is one row of the backend model catalog.
type ModelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// APIError is a non-2xx response from the completion backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Body)
}

var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return retryableStatus[e.StatusCode]
}
