package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
)

// Client frame types, mirrored by the gateway's protocol parser.
const (
	framePrompt           = "prompt"
	frameSteer            = "steer"
	frameAbort            = "abort"
	frameContextRequest   = "context_request"
	frameModelListRequest = "model_list_request"
)

// clientFrame is one outbound frame. Abort and the request frames carry no
// message, so it is omitted when empty.
type clientFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ServerFrame is one decoded gateway frame. The gateway emits a single JSON
// object per frame with a "type" discriminator; fields that do not belong to
// the variant stay zero.
type ServerFrame struct {
	Type          string                 `json:"type"`
	Message       string                 `json:"message"`
	Delta         string                 `json:"delta"`
	ToolName      string                 `json:"tool_name"`
	ToolCallID    string                 `json:"tool_call_id"`
	Args          map[string]interface{} `json:"args"`
	Result        string                 `json:"result"`
	PartialResult string                 `json:"partial_result"`
	IsError       bool                   `json:"is_error"`
	Summary       string                 `json:"summary"`
	TokensBefore  int                    `json:"tokens_before"`
	ModelInfo     *entity.ModelInfo      `json:"model_info"`
	System        int                    `json:"system"`
	Tools         int                    `json:"tools"`
	User          int                    `json:"user"`
	Assistant     int                    `json:"assistant"`
	ToolResults   int                    `json:"tool_results"`
	ContextWindow int                    `json:"context_window"`
	Models        []service.ModelEntry   `json:"models"`
	Current       string                 `json:"current"`
	Model         string                 `json:"model"`
	Success       bool                   `json:"success"`
}

var dialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// Client is one gateway connection: a locked writer plus a read loop that
// decodes frames onto a channel until the connection drops.
type Client struct {
	addr      string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	frames    chan ServerFrame
	closeOnce sync.Once

	// readErr is written by the read loop before frames is closed; reading it
	// after the channel closes is ordered by that close.
	readErr error
}

// Dial connects to the gateway and starts the read loop. addr accepts a bare
// host:port, a ws:// or wss:// URL, or an http(s):// URL; a missing path
// defaults to /ws.
func Dial(addr string) (*Client, error) {
	u, err := normalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	conn, _, err := dialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}

	c := &Client{
		addr:   u,
		conn:   conn,
		frames: make(chan ServerFrame, 64),
	}
	go c.readLoop()
	return c, nil
}

// Addr returns the normalized URL the client dialed.
func (c *Client) Addr() string {
	return c.addr
}

// Frames returns the inbound frame stream. The channel closes when the
// connection drops; Err reports why.
func (c *Client) Frames() <-chan ServerFrame {
	return c.frames
}

// Err returns the read-loop error, nil for a clean close. Valid only after
// Frames is closed.
func (c *Client) Err() error {
	return c.readErr
}

// Prompt asks the agent to run a turn with the given text.
func (c *Client) Prompt(message string) error {
	return c.send(clientFrame{Type: framePrompt, Message: message})
}

// Steer sends mid-session guidance or a gateway command such as /model.
func (c *Client) Steer(message string) error {
	return c.send(clientFrame{Type: frameSteer, Message: message})
}

// Abort stops the in-flight turn.
func (c *Client) Abort() error {
	return c.send(clientFrame{Type: frameAbort})
}

// RequestContext asks for the token-usage breakdown; the reply comes back as
// a context_info frame.
func (c *Client) RequestContext() error {
	return c.send(clientFrame{Type: frameContextRequest})
}

// RequestModelList asks for the model catalog; the reply comes back as a
// model_list frame.
func (c *Client) RequestModelList() error {
	return c.send(clientFrame{Type: frameModelListRequest})
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(frame clientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", frame.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			return
		}
		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		c.frames <- frame
	}
}

// normalizeAddr turns the user-supplied address into a dialable ws(s) URL.
func normalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("gateway address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid gateway address %q: %w", addr, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in gateway address", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
