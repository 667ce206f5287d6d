package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tetherhq/tether/gateway/pkg/safego"
)

const (
	// maxFrameSize bounds one inbound frame. Prompts are text; half a
	// megabyte is already generous.
	maxFrameSize = 512 * 1024

	readWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client is one connected WebSocket peer. All writes go through the send
// queue so the connection sees a single writer; reads happen on the read
// pump, which dispatches every frame on its own goroutine.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("client_id", id)),
	}
}

// ID returns the connection's identifier.
func (c *Client) ID() string { return c.id }

// Send enqueues one frame for the write pump. It blocks while the queue is
// full (a slow consumer is supposed to throttle its broadcaster) and drops
// the frame once the connection is torn down.
func (c *Client) Send(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump consumes inbound frames until the connection dies. onFrame runs
// on a fresh goroutine per frame so that a long-running prompt never blocks
// the loop: aborts and steers must get through mid-turn.
func (c *Client) readPump(onFrame func(data []byte), onClose func()) {
	defer func() {
		onClose()
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		frame := data
		safego.Go(c.logger, "ws-frame", func() {
			onFrame(frame)
		})
	}
}

// writePump owns the connection's write side: queued frames, keepalive
// pings, and the closing handshake.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
