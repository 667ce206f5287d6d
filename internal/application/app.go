package application

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/catalog"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/config"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/llm/openrouter"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/prompt"
	"github.com/tetherhq/tether/gateway/internal/infrastructure/state"
	toolpkg "github.com/tetherhq/tether/gateway/internal/infrastructure/tool"
	"github.com/tetherhq/tether/gateway/internal/interfaces/websocket"
)

// App is the dependency container: it wires configuration, the model
// catalog, the snapshot store, the agent, the session multiplexer and the
// WebSocket server together.
type App struct {
	config *config.Config
	logger *zap.Logger

	catalog *catalog.Catalog
	store   *state.Store
	session *Session
	server  *websocket.Server

	cancelWatch context.CancelFunc
}

// NewApp builds the gateway from configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initSession(); err != nil {
		return nil, fmt.Errorf("failed to init session: %w", err)
	}
	app.initServer()

	return app, nil
}

func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	cat, err := catalog.New(app.logger)
	if err != nil {
		return err
	}
	if err := cat.LoadOverrides(app.config.Catalog.Path); err != nil {
		app.logger.Warn("Model overrides not loaded", zap.Error(err))
	}
	app.catalog = cat

	app.store = state.NewStore(app.config.StateDir)

	return nil
}

func (app *App) initSession() error {
	app.logger.Info("Initializing session")

	tools, err := toolpkg.DefaultRegistry(app.config.Tools.BashTimeout, app.logger)
	if err != nil {
		return err
	}

	systemPrompt := prompt.Load(app.config.Agent.SystemPromptFile, app.logger)

	agentCfg := service.AgentConfig{
		Model:               app.config.Agent.Model,
		SystemPrompt:        systemPrompt,
		MaxRetries:          app.config.Agent.MaxRetries,
		RetryBaseWait:       app.config.Agent.RetryBaseWait,
		RetryMaxWait:        app.config.Agent.RetryMaxWait,
		CompactionThreshold: app.config.Agent.CompactionThreshold,
		KeepRecentTokens:    app.config.Agent.KeepRecentTokens,
	}

	clientFactory := func(apiKey string) service.CompletionClient {
		return openrouter.New(openrouter.Config{APIKey: apiKey}, app.logger)
	}
	factory := func() SessionAgent {
		return service.NewAgent(agentCfg, tools, app.catalog, clientFactory, app.store, app.logger)
	}

	// The catalog listing is a plain GET; it shares nothing with the agent's
	// streaming client, so the session gets its own.
	lister := openrouter.New(openrouter.Config{APIKey: os.Getenv(service.CredentialEnv)}, app.logger)

	app.session = NewSession(factory(), factory, lister, app.logger)

	return nil
}

func (app *App) initServer() {
	app.logger.Info("Initializing WebSocket server")

	app.server = websocket.NewServer(
		websocket.Config{
			Host: app.config.Gateway.Host,
			Port: app.config.Gateway.Port,
			Mode: app.config.Gateway.Mode,
		},
		websocket.Handlers{
			OnConnect:    func(c *websocket.Client) { app.session.AddClient(c) },
			OnDisconnect: func(c *websocket.Client) { app.session.RemoveClient(c) },
			OnMessage: func(ctx context.Context, c *websocket.Client, data []byte) {
				app.session.HandleClientMessage(ctx, c, data)
			},
		},
		app.logger,
	)
}

// Start brings the gateway up: catalog watcher, agent, then the listener. A
// missing credential or an unbindable address fails startup.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting gateway")

	if app.config.Catalog.Watch {
		watchCtx, cancel := context.WithCancel(context.Background())
		app.cancelWatch = cancel
		if err := app.catalog.Watch(watchCtx, app.config.Catalog.Path); err != nil {
			app.logger.Warn("Model catalog watch disabled", zap.Error(err))
		}
	}

	if err := app.session.Agent().Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	app.logger.Info("Gateway started", zap.String("addr", app.server.Addr()))
	return nil
}

// Stop shuts down in reverse order: stop accepting connections, persist and
// stop the agent, release the catalog watcher.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping gateway")

	if err := app.server.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop server", zap.Error(err))
	}

	app.session.Shutdown()

	if app.cancelWatch != nil {
		app.cancelWatch()
	}
	if err := app.catalog.Close(); err != nil {
		app.logger.Error("Failed to close catalog watcher", zap.Error(err))
	}

	app.logger.Info("Gateway stopped")
	return nil
}

// Logger returns the process logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// Addr returns the bound listen address once Start has succeeded.
func (app *App) Addr() string {
	return app.server.Addr()
}

// Session returns the client multiplexer.
func (app *App) Session() *Session {
	return app.session
}
