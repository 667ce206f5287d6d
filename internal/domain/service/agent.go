package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/tool"
	apperrors "github.com/tetherhq/tether/gateway/pkg/errors"
	"github.com/tetherhq/tether/gateway/pkg/safego"
	"go.uber.org/zap"
)

// CredentialEnv is the environment variable holding the backend API key.
// Start fails when it is unset.
const CredentialEnv = "OPENROUTER_API_KEY"

// DefaultModel is used when no model is configured or snapshotted.
const DefaultModel = "anthropic/claude-sonnet-4"

const (
	eventBufferSize = 64
	charsPerToken   = 4
)

// AgentConfig tunes the turn loop. Zero fields fall back to defaults.
type AgentConfig struct {
	Model        string
	SystemPrompt string

	// Retry policy for opening completion streams.
	MaxRetries    int           // default 3
	RetryBaseWait time.Duration // default 1s, doubles per attempt
	RetryMaxWait  time.Duration // default 30s cap

	// Compaction triggers when the estimated prompt exceeds this share of
	// the model's context window; the newest KeepRecentTokens survive.
	CompactionThreshold float64 // default 0.8
	KeepRecentTokens    int     // default 20000
}

func (c *AgentConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = time.Second
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 30 * time.Second
	}
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = 0.8
	}
	if c.KeepRecentTokens <= 0 {
		c.KeepRecentTokens = 20000
	}
}

// ClientFactory builds a CompletionClient once the credential is validated.
type ClientFactory func(apiKey string) CompletionClient

// ContextWindows resolves a model id to its declared context window size.
type ContextWindows interface {
	ContextWindow(model string) int
}

// Snapshot is the persisted session state.
type Snapshot struct {
	Model        string           `json:"model"`
	SystemPrompt string           `json:"system_prompt"`
	Messages     []entity.Message `json:"messages"`
}

// SnapshotStore loads and saves the session snapshot. Load returns (nil, nil)
// when no snapshot exists.
type SnapshotStore interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// ContextInfo is the per-role token accounting returned by Agent.ContextInfo.
type ContextInfo struct {
	System        int `json:"system"`
	Tools         int `json:"tools"`
	User          int `json:"user"`
	Assistant     int `json:"assistant"`
	ToolResults   int `json:"tool_results"`
	ContextWindow int `json:"context_window"`
}

// Agent owns the conversation and runs the turn loop against the completion
// backend. One instance per gateway process; the session multiplexer
// serializes Prompt calls, and Steer/Abort/ContextInfo may arrive from any
// goroutine.
type Agent struct {
	cfg       AgentConfig
	tools     tool.Registry
	windows   ContextWindows
	newClient ClientFactory
	store     SnapshotStore
	logger    *zap.Logger

	mu       sync.Mutex // guards model, system, messages, running, client
	model    string
	system   string
	messages []entity.Message
	running  bool
	client   CompletionClient

	aborted atomic.Bool

	steerMu sync.Mutex
	steered []string

	detailsMu sync.Mutex
	details   map[string]map[string]interface{}
}

// NewAgent wires an agent. store may be nil to disable session snapshots.
func NewAgent(cfg AgentConfig, tools tool.Registry, windows ContextWindows, factory ClientFactory, store SnapshotStore, logger *zap.Logger) *Agent {
	cfg.applyDefaults()
	return &Agent{
		cfg:       cfg,
		tools:     tools,
		windows:   windows,
		newClient: factory,
		store:     store,
		logger:    logger.With(zap.String("component", "agent")),
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		details:   make(map[string]map[string]interface{}),
	}
}

// Running reports whether Start has succeeded and Stop has not been called.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Model returns the current model id.
func (a *Agent) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// SetModel switches the model id for subsequent turns.
func (a *Agent) SetModel(id string) {
	a.mu.Lock()
	a.model = id
	a.mu.Unlock()
	a.logger.Info("Model switched", zap.String("model", id))
}

// State returns the conversation state for handoff to a replacement agent.
func (a *Agent) State() (model, systemPrompt string, messages []entity.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := make([]entity.Message, len(a.messages))
	copy(msgs, a.messages)
	return a.model, a.system, msgs
}

// Restore installs conversation state carried over from a previous agent.
func (a *Agent) Restore(model, systemPrompt string, messages []entity.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
	a.system = systemPrompt
	a.messages = messages
}

// Start validates the backend credential, builds the completion client, and
// loads the session snapshot when one exists.
func (a *Agent) Start(ctx context.Context) error {
	apiKey := os.Getenv(CredentialEnv)
	if apiKey == "" {
		return apperrors.NewCredentialsError(CredentialEnv)
	}

	a.mu.Lock()
	a.client = a.newClient(apiKey)
	a.messages = nil
	a.running = true
	a.mu.Unlock()
	a.aborted.Store(false)

	a.logger.Info("Agent started", zap.String("model", a.Model()))
	a.loadSnapshot()
	return nil
}

// Stop aborts any in-flight turn and closes the completion client.
func (a *Agent) Stop() {
	a.aborted.Store(true)

	a.mu.Lock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("Agent stopped")
}

// Abort raises the abort flag. The turn loop observes it at the next chunk
// or tool boundary.
func (a *Agent) Abort() {
	a.aborted.Store(true)
}

// Steer injects an out-of-band instruction. Commands (/compact, /model-info)
// run immediately and stream their events; plain text is queued and drained
// at the next turn boundary. The returned channel is closed when done.
func (a *Agent) Steer(ctx context.Context, message string) (<-chan entity.AgentEvent, error) {
	switch strings.TrimSpace(message) {
	case "/compact":
		client, err := a.currentClient()
		if err != nil {
			return nil, err
		}
		events := make(chan entity.AgentEvent, 4)
		safego.Go(a.logger, "steer-compact", func() {
			defer close(events)
			events <- entity.AgentEvent{Type: entity.EventCompactionStart}
			summary, tokensBefore, err := a.compact(ctx, client)
			if err != nil {
				a.logger.Warn("Compaction failed", zap.Error(err))
				events <- entity.AgentEvent{
					Type:    entity.EventCompactionEnd,
					Message: fmt.Sprintf("Compaction failed: %v", err),
				}
				return
			}
			events <- entity.AgentEvent{
				Type:         entity.EventCompactionEnd,
				Summary:      summary,
				TokensBefore: tokensBefore,
			}
		})
		return events, nil

	case "/model-info":
		client, err := a.currentClient()
		if err != nil {
			return nil, err
		}
		events := make(chan entity.AgentEvent, 1)
		safego.Go(a.logger, "steer-model-info", func() {
			defer close(events)
			events <- entity.AgentEvent{
				Type:      entity.EventModelInfo,
				ModelInfo: a.modelInfo(ctx, client),
			}
		})
		return events, nil

	default:
		a.steerMu.Lock()
		a.steered = append(a.steered, message)
		a.steerMu.Unlock()
		events := make(chan entity.AgentEvent)
		close(events)
		return events, nil
	}
}

// Prompt appends the user text and runs turns until the model finishes
// without tool calls, is aborted, or fails. Events stream on the returned
// channel, which is closed after agent_end.
func (a *Agent) Prompt(ctx context.Context, text string) (<-chan entity.AgentEvent, error) {
	client, err := a.currentClient()
	if err != nil {
		return nil, err
	}

	a.aborted.Store(false)
	a.appendMessage(entity.UserMessage(text))

	events := make(chan entity.AgentEvent, eventBufferSize)
	safego.Go(a.logger, "agent-turn", func() {
		defer close(events)
		a.runTurns(ctx, client, events)
	})
	return events, nil
}

func (a *Agent) currentClient() (CompletionClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.client == nil {
		return nil, apperrors.NewNotRunningError()
	}
	return a.client, nil
}

func (a *Agent) appendMessage(msg entity.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, msg)
	a.mu.Unlock()
}

// runTurns is the turn loop proper. It emits turn_start/turn_end around each
// completion round trip and exactly one agent_end before returning.
func (a *Agent) runTurns(ctx context.Context, client CompletionClient, events chan<- entity.AgentEvent) {
	events <- entity.AgentEvent{Type: entity.EventTurnStart}

	for {
		a.drainSteerQueue()

		if a.aborted.Load() {
			events <- entity.AgentEvent{Type: entity.EventTurnEnd}
			events <- entity.AgentEvent{Type: entity.EventAgentEnd}
			return
		}

		if a.shouldCompact() {
			events <- entity.AgentEvent{Type: entity.EventCompactionStart}
			summary, tokensBefore, err := a.compact(ctx, client)
			if err != nil {
				a.logger.Warn("Compaction failed", zap.Error(err))
				events <- entity.AgentEvent{
					Type:    entity.EventCompactionEnd,
					Message: fmt.Sprintf("Compaction failed: %v", err),
				}
			} else {
				events <- entity.AgentEvent{
					Type:         entity.EventCompactionEnd,
					Summary:      summary,
					TokensBefore: tokensBefore,
				}
			}
		}

		stream, err := a.streamWithRetry(ctx, client)
		if err != nil {
			events <- entity.AgentEvent{Type: entity.EventError, Message: errMessage(err)}
			events <- entity.AgentEvent{Type: entity.EventAgentEnd}
			return
		}

		text, toolCalls, finishReason, aborted, err := a.consumeStream(stream, events)
		if aborted {
			events <- entity.AgentEvent{Type: entity.EventTurnEnd}
			events <- entity.AgentEvent{Type: entity.EventAgentEnd}
			return
		}
		if err != nil {
			events <- entity.AgentEvent{Type: entity.EventError, Message: fmt.Sprintf("Stream error: %v", err)}
			events <- entity.AgentEvent{Type: entity.EventAgentEnd}
			return
		}

		a.appendMessage(entity.AssistantMessage(text, toolCalls))

		if len(toolCalls) == 0 || finishReason != "tool_calls" {
			break
		}

		for _, call := range toolCalls {
			if a.aborted.Load() {
				events <- entity.AgentEvent{Type: entity.EventTurnEnd}
				events <- entity.AgentEvent{Type: entity.EventAgentEnd}
				return
			}

			var args map[string]interface{}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args == nil {
				args = map[string]interface{}{}
			}

			events <- entity.AgentEvent{
				Type:       entity.EventToolStart,
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
				Args:       args,
			}

			result := a.executeTool(ctx, call.Function.Name, args)

			events <- entity.AgentEvent{
				Type:       entity.EventToolEnd,
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
				Result:     result.Output,
				IsError:    result.IsError,
			}

			a.appendMessage(entity.ToolResultMessage(call.ID, result.Output))
		}

		events <- entity.AgentEvent{Type: entity.EventTurnEnd}
		events <- entity.AgentEvent{Type: entity.EventTurnStart}
	}

	events <- entity.AgentEvent{Type: entity.EventTurnEnd}
	events <- entity.AgentEvent{Type: entity.EventAgentEnd}
}

// consumeStream reads the completion stream to exhaustion, emitting
// text_delta events and merging positional tool-call deltas: the last
// non-empty id/name win, argument fragments concatenate in arrival order.
func (a *Agent) consumeStream(stream CompletionStream, events chan<- entity.AgentEvent) (string, []entity.ToolCall, string, bool, error) {
	defer stream.Close()

	type draft struct {
		id   string
		name string
		args strings.Builder
	}
	var (
		text    strings.Builder
		drafts  = make(map[int]*draft)
		finish  string
	)

	for {
		if a.aborted.Load() {
			return "", nil, "", true, nil
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, "", false, err
		}

		if chunk.Delta != "" {
			text.WriteString(chunk.Delta)
			events <- entity.AgentEvent{Type: entity.EventTextDelta, Delta: chunk.Delta}
		}

		for _, tc := range chunk.ToolCalls {
			d, ok := drafts[tc.Index]
			if !ok {
				d = &draft{}
				drafts[tc.Index] = d
			}
			if tc.ID != "" {
				d.id = tc.ID
			}
			if tc.Name != "" {
				d.name = tc.Name
			}
			if tc.Arguments != "" {
				d.args.WriteString(tc.Arguments)
			}
		}

		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	indexes := make([]int, 0, len(drafts))
	for idx := range drafts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	toolCalls := make([]entity.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		d := drafts[idx]
		toolCalls = append(toolCalls, entity.ToolCall{
			ID:   d.id,
			Type: "function",
			Function: entity.ToolCallFunction{
				Name:      d.name,
				Arguments: d.args.String(),
			},
		})
	}

	return text.String(), toolCalls, finish, false, nil
}

// executeTool resolves and runs one tool call. Unknown tools and panicking
// tools become error results the model can read; nothing escapes.
func (a *Agent) executeTool(ctx context.Context, name string, args map[string]interface{}) (result *tool.Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Tool panicked",
				zap.String("tool", name),
				zap.Any("panic", r),
			)
			result = tool.Errorf(fmt.Sprintf("Tool execution error: %v", r))
		}
	}()

	t, ok := a.tools.Get(name)
	if !ok {
		return tool.Errorf("Unknown tool: " + name)
	}

	start := time.Now()
	res := t.Execute(ctx, args)
	if res == nil {
		res = &tool.Result{}
	}
	a.logger.Debug("Tool executed",
		zap.String("tool", name),
		zap.Bool("is_error", res.IsError),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// streamWithRetry opens a completion stream with exponential backoff.
// Non-retryable API statuses surface immediately; exhaustion returns a
// max-retries error wrapping the last failure.
func (a *Agent) streamWithRetry(ctx context.Context, client CompletionClient) (CompletionStream, error) {
	req := a.buildRequest()

	var lastErr error
	wait := a.cfg.RetryBaseWait
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		stream, err := client.StreamCompletion(ctx, req)
		if err == nil {
			return stream, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, apperrors.NewAPIError(apiErr.StatusCode, err)
		}

		lastErr = err
		if attempt == a.cfg.MaxRetries {
			break
		}

		a.logger.Warn("Completion call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= 2
		if wait > a.cfg.RetryMaxWait {
			wait = a.cfg.RetryMaxWait
		}
	}

	return nil, apperrors.NewMaxRetriesError(a.cfg.MaxRetries, lastErr)
}

// buildRequest snapshots the conversation with the system prompt prepended.
func (a *Agent) buildRequest() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]entity.Message, 0, len(a.messages)+1)
	messages = append(messages, entity.SystemMessage(a.system))
	messages = append(messages, a.messages...)

	return &Request{
		Model:    a.model,
		Messages: messages,
		Tools:    a.tools.Schemas(),
	}
}

func (a *Agent) drainSteerQueue() {
	a.steerMu.Lock()
	pending := a.steered
	a.steered = nil
	a.steerMu.Unlock()

	for _, msg := range pending {
		a.appendMessage(entity.UserMessage(msg))
	}
}

// ContextInfo estimates tokens per role plus the model's context window.
func (a *Agent) ContextInfo() ContextInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	toolsJSON, _ := json.Marshal(schemaObjects(a.tools.Schemas()))

	var userChars, assistantChars, toolChars int
	for _, msg := range a.messages {
		serialized, _ := json.Marshal(msg)
		switch msg.Role {
		case entity.RoleUser:
			userChars += len(serialized)
		case entity.RoleAssistant:
			assistantChars += len(serialized)
		case entity.RoleTool:
			toolChars += len(serialized)
		}
	}

	return ContextInfo{
		System:        len(a.system) / charsPerToken,
		Tools:         len(toolsJSON) / charsPerToken,
		User:          userChars / charsPerToken,
		Assistant:     assistantChars / charsPerToken,
		ToolResults:   toolChars / charsPerToken,
		ContextWindow: a.windows.ContextWindow(a.model),
	}
}

// SaveSession writes the current conversation to the snapshot store.
func (a *Agent) SaveSession() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		a.logger.Warn("Agent is not running, session not saved")
		return nil
	}
	snap := &Snapshot{
		Model:        a.model,
		SystemPrompt: a.system,
		Messages:     make([]entity.Message, len(a.messages)),
	}
	copy(snap.Messages, a.messages)
	a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	if err := a.store.Save(snap); err != nil {
		a.logger.Error("Failed to save session", zap.Error(err))
		return err
	}
	a.logger.Info("Session saved")
	return nil
}

func (a *Agent) loadSnapshot() {
	if a.store == nil {
		return
	}
	snap, err := a.store.Load()
	if err != nil {
		a.logger.Error("Failed to reload session", zap.Error(err))
		return
	}
	if snap == nil {
		a.logger.Info("No session snapshot found")
		return
	}

	a.mu.Lock()
	if snap.Model != "" {
		a.model = snap.Model
	}
	if snap.SystemPrompt != "" {
		a.system = snap.SystemPrompt
	}
	a.messages = snap.Messages
	a.mu.Unlock()

	a.logger.Info("Session reloaded", zap.Int("messages", len(snap.Messages)))
}

// errMessage strips the AppError code prefix for user-facing error events.
func errMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
