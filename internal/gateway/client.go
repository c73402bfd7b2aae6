package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terminuslabs/terminus/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer absorbs event bursts; SendEvent blocks rather than
	// drops once full, so per-client ordering survives backpressure.
	sendBuffer = 64
)

// Client is one WebSocket connection. A read loop handles inbound
// frames; a write pump serializes outbound events.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send      chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan protocol.Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the transport client id.
func (c *Client) ID() string { return c.id }

// SendEvent queues an event for delivery. Blocks under backpressure and
// returns silently once the client is closing.
func (c *Client) SendEvent(event protocol.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	}
}

// Run starts the write pump and blocks in the read loop until the
// connection drops.
func (c *Client) Run() {
	go c.writePump()
	c.readLoop()
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.server.publishValidationError(c.id, "malformed frame: "+err.Error())
			continue
		}

		switch frame.Type {
		case protocol.EventExecuteGoal:
			c.server.handleExecuteGoal(c, frame)
		default:
			slog.Debug("ignoring unknown frame type", "client", c.id, "type", frame.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write error", "client", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
