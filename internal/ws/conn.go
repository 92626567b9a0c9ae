package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"esic/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	writeWait    = 10 * time.Second
	queueSize    = 256
	maxFrameSize = 8 << 10
)

// Conn is one websocket client. Writes go through a bounded queue drained
// by WritePump; a client that cannot keep up is dropped.
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *Hub
	role     string
	ctx      context.Context
	channels map[string]struct{} // guarded by hub.mu

	queueMu sync.Mutex
	queue   chan []byte
	closed  bool
}

// NewConn wraps an upgraded connection. userID and role come from the
// bearer token, when there is one.
func NewConn(ws *websocket.Conn, hub *Hub, userID, role string) *Conn {
	return &Conn{
		id:       ulid.Make().String(),
		ws:       ws,
		hub:      hub,
		role:     role,
		ctx:      auth.WithUser(context.Background(), userID, role),
		channels: make(map[string]struct{}),
		queue:    make(chan []byte, queueSize),
	}
}

// enqueue never blocks and never writes to a closed queue.
func (c *Conn) enqueue(frame []byte) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) closeQueue() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *Conn) send(msg outbound) bool {
	frame, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Warn("Failed to marshal frame", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return c.enqueue(frame)
}

// ReadPump reads client frames until the connection fails.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.drop(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				c.send(errorFrame("", "bad_frame", "malformed frame"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("WebSocket read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		c.dispatch(msg)
	}
}

// WritePump drains the queue and keeps the connection alive with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.queue:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isDecodeError separates bad client JSON, after which the connection is
// still usable, from transport failures.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (c *Conn) dispatch(msg inbound) {
	channel := canonicalChannel(msg.Channel)

	switch msg.Type {
	case frameSubscribe:
		if channel == "" {
			c.send(errorFrame(msg.ID, "invalid_input", "channel required"))
			return
		}
		if !c.hub.Subscribe(c, channel) {
			c.send(outbound{Type: frameError, ID: msg.ID, Channel: channel, Code: "forbidden"})
			return
		}
		c.send(ackFrame("subscribed", channel))
	case frameUnsubscribe:
		if channel != "" {
			c.hub.Unsubscribe(c, channel)
			c.send(ackFrame("unsubscribed", channel))
		}
	case frameAck:
		if channel == "" || msg.Seq <= 0 || msg.Session == "" || len(msg.Session) > maxSessionLen {
			c.send(errorFrame(msg.ID, "invalid_input", "ack needs channel, seq and session"))
			return
		}
		if !allowed(c, channel) {
			c.send(errorFrame(msg.ID, "forbidden", "cannot ack channel"))
			return
		}
		c.hub.Acknowledge(c, channel, msg.Session, msg.Seq)
	case frameResume:
		if channel == "" || msg.Since < 0 || !allowed(c, channel) {
			c.send(errorFrame(msg.ID, "forbidden", "cannot resume channel"))
			return
		}
		if len(msg.Session) > maxSessionLen {
			c.send(errorFrame(msg.ID, "invalid_input", "session too long"))
			return
		}
		c.hub.Resume(c, channel, msg.Session, msg.Since)
	case frameCmd:
		handler := c.hub.commandHandler()
		if handler == nil {
			c.send(errorFrame(msg.ID, "unavailable", "commands are not enabled"))
			return
		}
		handler.Handle(c.ctx, c, msg)
	case framePing:
		c.send(ackFrame("pong", ""))
	default:
		c.send(errorFrame(msg.ID, "unknown_type", "unknown frame type: "+msg.Type))
	}
}
