package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tetherhq/tether/gateway/pkg/safego"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the gateway binds to localhost by default
	},
}

// Config holds the listener settings.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Handlers are the session-side callbacks a Server drives. OnMessage runs on
// its own goroutine per frame.
type Handlers struct {
	OnConnect    func(client *Client)
	OnDisconnect func(client *Client)
	OnMessage    func(ctx context.Context, client *Client, data []byte)
}

// Server accepts WebSocket clients on /ws and answers health probes on
// /healthz.
type Server struct {
	server   *http.Server
	listener net.Listener
	handlers Handlers
	logger   *zap.Logger
}

// NewServer builds the listener around the given session callbacks.
func NewServer(cfg Config, handlers Handlers, logger *zap.Logger) *Server {
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	s := &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
		handlers: handlers,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.serveWS)

	return s
}

// Start binds the socket and begins serving. The bind happens synchronously
// so a taken port surfaces here, not in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Gateway listening",
		zap.String("address", listener.Addr().String()),
	)

	safego.Go(s.logger, "http-serve", func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	})
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// serveWS upgrades one HTTP request into a client connection and runs its
// pumps.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn, s.logger)
	if s.handlers.OnConnect != nil {
		s.handlers.OnConnect(client)
	}

	safego.Go(client.logger, "ws-write", client.writePump)
	safego.Go(client.logger, "ws-read", func() {
		client.readPump(
			func(data []byte) {
				if s.handlers.OnMessage != nil {
					s.handlers.OnMessage(context.Background(), client, data)
				}
			},
			func() {
				if s.handlers.OnDisconnect != nil {
					s.handlers.OnDisconnect(client)
				}
			},
		)
	})
}

// ginLogger logs one line per HTTP request through zap.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
