package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256

	sendTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is a middleman between one websocket and the hub.
type Conn struct {
	hub *Hub
	ws  *websocket.Conn

	mu     sync.Mutex // guards send, closed and ids
	send   chan []byte
	closed bool
	ids    []string

	lastSeen atomic.Int64
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	c := &Conn{hub: h, ws: ws, send: make(chan []byte, sendBuffer)}
	c.touch()

	return c
}

func (c *Conn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns when the peer was last heard from.
func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Conn) bind(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.ids {
		if b == id {
			return
		}
	}

	c.ids = append(c.ids, id)
}

func (c *Conn) bound() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.ids...)
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// emit queues an event without blocking. It returns false if the connection is closed or its queue is full.
func (c *Conn) emit(event string, data interface{}) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Log.Error("[ws] encoding %s: %v", event, err)

		return false
	}

	f, _ := json.Marshal(Frame{Event: event, Data: raw})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// ReadPump reads frames until the peer goes away, then unregisters the connection.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.touch()

		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Log.Debug("[ws] read %v: %v", c.bound(), err)
			}

			return
		}

		c.touch()

		var f Frame
		if err = json.Unmarshal(data, &f); err != nil {
			c.emit(EventError, "Invalid frame")

			continue
		}

		c.handle(f)
	}
}

func (c *Conn) handle(f Frame) {
	switch f.Event {
	case EventRegister:
		var id string
		if err := json.Unmarshal(f.Data, &id); err != nil || id == "" {
			c.emit(EventError, "registerXionId expects an address")

			return
		}

		c.hub.register(id, c)

	case EventSend:
		var o Outgoing
		if err := json.Unmarshal(f.Data, &o); err != nil {
			c.emit(EventError, "Invalid sendMessage payload")

			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if _, err := c.hub.Send(ctx, o); err != nil {
			var e *errs.Error
			if errors.As(err, &e) {
				c.emit(EventError, e.Msg)
			}

			logging.Log.Warn("[ws] sendMessage from %s: %v", o.From, err)
		}

	default:
		logging.Log.Debug("[ws] ignoring event %q", f.Event)
	}
}

// WritePump writes queued frames and pings the peer until the send queue is closed.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
