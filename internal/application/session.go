package application

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"github.com/tetherhq/tether/gateway/internal/interfaces/websocket"
	apperrors "github.com/tetherhq/tether/gateway/pkg/errors"
	"github.com/tetherhq/tether/gateway/pkg/safego"
)

// ClientConn is the session's view of one connected client. Send never
// fails: delivery problems are the write pump's business, and a dead
// connection swallows frames silently until its read loop deregisters it.
type ClientConn interface {
	ID() string
	Send(frame []byte)
}

// SessionAgent is the agent surface the session drives. *service.Agent
// implements it.
type SessionAgent interface {
	Start(ctx context.Context) error
	Stop()
	Prompt(ctx context.Context, text string) (<-chan entity.AgentEvent, error)
	Steer(ctx context.Context, message string) (<-chan entity.AgentEvent, error)
	Abort()
	ContextInfo() service.ContextInfo
	Model() string
	SetModel(id string)
	State() (model, systemPrompt string, messages []entity.Message)
	Restore(model, systemPrompt string, messages []entity.Message)
	SaveSession() error
}

// AgentFactory builds a replacement agent for hot reload.
type AgentFactory func() SessionAgent

// Session binds every connected client to the single agent instance. The
// prompt mutex serializes turns (the agent handles one prompt at a time);
// agent events broadcast to all clients so each renders the same transcript.
type Session struct {
	logger *zap.Logger

	agentMu sync.RWMutex
	agent   SessionAgent

	newAgent AgentFactory
	lister   service.ModelLister

	clientsMu sync.RWMutex
	clients   map[string]ClientConn

	promptMu sync.Mutex

	modelsMu   sync.Mutex
	modelCache []service.ModelEntry
}

// NewSession creates the multiplexer. factory may be nil, which turns
// /reload into a reported failure; lister may be nil, which makes the model
// list empty.
func NewSession(agent SessionAgent, factory AgentFactory, lister service.ModelLister, logger *zap.Logger) *Session {
	return &Session{
		logger:   logger.With(zap.String("component", "session")),
		agent:    agent,
		newAgent: factory,
		lister:   lister,
		clients:  make(map[string]ClientConn),
	}
}

// Agent returns the current agent instance (it changes across reloads).
func (s *Session) Agent() SessionAgent {
	s.agentMu.RLock()
	defer s.agentMu.RUnlock()
	return s.agent
}

// AddClient registers a connected client for broadcasts.
func (s *Session) AddClient(c ClientConn) {
	s.clientsMu.Lock()
	s.clients[c.ID()] = c
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("Client connected",
		zap.String("client_id", c.ID()),
		zap.Int("total", total),
	)
}

// RemoveClient deregisters a client. Removing an unknown client is a no-op.
func (s *Session) RemoveClient(c ClientConn) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID())
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("Client disconnected",
		zap.String("client_id", c.ID()),
		zap.Int("total", total),
	)
}

// Broadcast delivers one frame to every connected client, concurrently, and
// waits for all sends. Clients are never evicted here; eviction happens when
// a connection's read loop observes closure.
func (s *Session) Broadcast(frame []byte) {
	s.clientsMu.RLock()
	targets := make([]ClientConn, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		target := c
		safego.Go(s.logger, "broadcast-send", func() {
			defer wg.Done()
			target.Send(frame)
		})
	}
	wg.Wait()
}

// HandleClientMessage parses and dispatches one inbound frame. Malformed
// frames get an error reply to the sender only; the connection stays open.
func (s *Session) HandleClientMessage(ctx context.Context, client ClientConn, data []byte) {
	msg, err := websocket.ParseClientMessage(data)
	if err != nil {
		client.Send(websocket.ErrorFrame(errorText(err)))
		return
	}

	switch msg.Type {
	case websocket.TypePrompt:
		s.handlePrompt(ctx, msg.Message)
	case websocket.TypeSteer:
		s.handleSteer(ctx, msg.Message)
	case websocket.TypeAbort:
		s.logger.Debug("Abort requested", zap.String("client_id", client.ID()))
		s.Agent().Abort()
	case websocket.TypeContextRequest:
		client.Send(websocket.ContextInfoFrame(s.Agent().ContextInfo()))
	case websocket.TypeModelListRequest:
		client.Send(websocket.ModelListFrame(s.modelList(ctx), s.Agent().Model()))
	}
}

// handlePrompt echoes the prompt to every client, then runs the turn loop
// under the prompt mutex and broadcasts each event as it arrives.
func (s *Session) handlePrompt(ctx context.Context, text string) {
	s.Broadcast(websocket.UserMessageFrame(text))

	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	events, err := s.Agent().Prompt(ctx, text)
	if err != nil {
		s.logger.Error("Prompt rejected", zap.Error(err))
		s.Broadcast(websocket.ErrorFrame(errorText(err)))
		return
	}
	for event := range events {
		s.Broadcast(websocket.EventFrame(event))
	}
}

func (s *Session) handleSteer(ctx context.Context, message string) {
	stripped := strings.TrimSpace(message)
	switch {
	case stripped == "/reload":
		s.handleReload(ctx)
	case strings.HasPrefix(stripped, "/model"):
		s.handleModelCommand(ctx, stripped)
	default:
		s.steerAgent(ctx, message)
	}
}

// steerAgent forwards an instruction to the agent and broadcasts whatever
// events it emits (inline commands stream; queued steers emit nothing).
func (s *Session) steerAgent(ctx context.Context, message string) {
	s.logger.Debug("Steer", zap.String("message", message))

	events, err := s.Agent().Steer(ctx, message)
	if err != nil {
		s.Broadcast(websocket.ErrorFrame(errorText(err)))
		return
	}
	for event := range events {
		s.Broadcast(websocket.EventFrame(event))
	}
}

// handleModelCommand implements "/model [id]": with an argument it switches
// the model, without one it surfaces the current model's details.
func (s *Session) handleModelCommand(ctx context.Context, command string) {
	modelID := ""
	if i := strings.IndexAny(command, " \t"); i >= 0 {
		modelID = strings.TrimSpace(command[i+1:])
	}
	if modelID == "" {
		s.steerAgent(ctx, "/model-info")
		return
	}

	s.Agent().SetModel(modelID)
	s.Broadcast(websocket.ModelSetFrame(modelID))
}

// handleReload rebuilds the agent in place: a fresh instance is started,
// the conversation is carried over verbatim, and only then is the old agent
// stopped. A failed rebuild keeps the old agent running.
func (s *Session) handleReload(ctx context.Context) {
	s.Broadcast(websocket.ReloadStartFrame())

	var failures []string

	if s.newAgent == nil {
		failures = append(failures, "Agent reload failed: no agent factory configured")
	} else {
		old := s.Agent()
		model, systemPrompt, messages := old.State()

		fresh := s.newAgent()
		if err := fresh.Start(ctx); err != nil {
			s.logger.Error("Agent reload failed", zap.Error(err))
			failures = append(failures, "Agent reload failed: "+errorText(err))
		} else {
			fresh.Restore(model, systemPrompt, messages)
			old.Stop()

			s.agentMu.Lock()
			s.agent = fresh
			s.agentMu.Unlock()

			s.logger.Info("Agent reloaded",
				zap.String("model", model),
				zap.Int("messages", len(messages)),
			)
		}
	}

	success := len(failures) == 0
	message := "Reload complete"
	if !success {
		message = strings.Join(failures, "; ")
	}
	s.Broadcast(websocket.ReloadEndFrame(success, message))
}

// modelList returns the model catalog, fetching it once and caching the
// result. Fetch failures are not cached, so the next request retries.
func (s *Session) modelList(ctx context.Context) []service.ModelEntry {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if s.modelCache != nil {
		return s.modelCache
	}
	if s.lister == nil {
		return nil
	}

	models, err := s.lister.ListModels(ctx)
	if err != nil {
		s.logger.Warn("Failed to fetch model list", zap.Error(err))
		return nil
	}
	s.modelCache = models
	s.logger.Info("Fetched model catalog", zap.Int("models", len(models)))
	return models
}

// Shutdown persists the conversation and stops the agent.
func (s *Session) Shutdown() {
	agent := s.Agent()
	if err := agent.SaveSession(); err != nil {
		s.logger.Error("Failed to save session on shutdown", zap.Error(err))
	}
	agent.Stop()
}

// errorText strips the AppError code prefix for user-facing frames.
func errorText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
