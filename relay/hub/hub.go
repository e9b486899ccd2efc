// Package hub is the real-time channel of the relay. Browsers connect over a websocket, bind their chain address
// with a registerXionId event and exchange direct messages with sendMessage and receiveMessage events.
//
// The registry maps an address to the connection that registered it last. Entries are removed when the connection
// drops or when it stays silent for longer than the stale period. Messages for addresses not connected to this
// instance are published to the message broker so the instance holding the connection can deliver them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/msg"
	"github.com/tarancss/chatrelay/lib/msg/types"
	"github.com/tarancss/chatrelay/lib/store"
	"github.com/tarancss/chatrelay/relay/metrics"
)

// event names
const (
	EventRegister = "registerXionId"
	EventSend     = "sendMessage"
	EventReceive  = "receiveMessage"
	EventError    = "error"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outgoing is the payload of a sendMessage event.
type Outgoing struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// Incoming is the payload of a receiveMessage event.
type Incoming struct {
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is the registry of live connections.
type Hub struct {
	mu    deadlock.RWMutex
	ids   map[string]*Conn
	conns map[*Conn]struct{}

	db         store.DB
	mb         msg.MsgBroker
	instance   string
	staleAfter time.Duration

	done chan struct{}
	once sync.Once
}

// New returns a Hub persisting messages to db. mb may be nil for a single instance deployment.
func New(db store.DB, mb msg.MsgBroker, staleAfter time.Duration) *Hub {
	return &Hub{
		ids:        map[string]*Conn{},
		conns:      map[*Conn]struct{}{},
		db:         db,
		mb:         mb,
		instance:   uuid.NewString(),
		staleAfter: staleAfter,
		done:       make(chan struct{}),
	}
}

// Instance returns the id this hub publishes broker events with.
func (h *Hub) Instance() string { return h.instance }

// ServeWs upgrades the request and starts the pumps of the new connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Warn("[ws] upgrade from %s failed: %v", r.RemoteAddr, err)

		return
	}

	c := newConn(h, ws)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	logging.Log.Debug("[ws] %s connected", r.RemoteAddr)

	go c.WritePump()
	go c.ReadPump()
}

// register maps id to c, replacing any previous connection of id.
func (h *Hub) register(id string, c *Conn) {
	h.mu.Lock()
	if old, ok := h.ids[id]; ok && old != c {
		logging.Log.Info("[ws] %s moved to a new connection", id)
	}

	h.ids[id] = c
	n := len(h.ids)
	h.mu.Unlock()

	c.bind(id)
	metrics.Connections.Set(float64(n))
	logging.Log.Info("[ws] %s registered", id)
}

// unregister removes c and every id still mapped to it.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)

	for _, id := range c.bound() {
		if h.ids[id] == c {
			delete(h.ids, id)
		}
	}

	n := len(h.ids)
	h.mu.Unlock()

	c.closeSend()
	metrics.Connections.Set(float64(n))
}

// Registered returns the number of registered ids.
func (h *Hub) Registered() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.ids)
}

// Connected reports whether id is registered on this instance.
func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.ids[id]

	return ok
}

// deliver queues a receiveMessage frame for id. It returns false when id is not connected here or its queue is full.
func (h *Hub) deliver(id string, in Incoming) bool {
	h.mu.RLock()
	c, ok := h.ids[id]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	if !c.emit(EventReceive, in) {
		logging.Log.Warn("[ws] dropping message for %s: send queue full", id)

		return false
	}

	return true
}

// Send stores a direct message and delivers it. Recipients connected to another instance get it through the broker.
func (h *Hub) Send(ctx context.Context, o Outgoing) (store.ChatMessage, error) {
	if o.From == "" || o.To == "" || o.Message == "" {
		return store.ChatMessage{}, errs.E(errs.Validation, "from, to and message are required", nil)
	}

	m := store.ChatMessage{ID: uuid.NewString(), From: o.From, To: o.To, Body: o.Message, Timestamp: time.Now().UTC()}
	if err := h.db.AddMessage(ctx, m); err != nil {
		return store.ChatMessage{}, errs.E(errs.Internal, "Failed to save message", err)
	}

	if h.deliver(o.To, Incoming{From: m.From, Message: m.Body, Timestamp: m.Timestamp}) {
		metrics.Delivered.WithLabelValues("local").Inc()

		return m, nil
	}

	if h.mb == nil {
		metrics.Delivered.WithLabelValues("stored").Inc()

		return m, nil
	}

	if err := h.mb.SendChat(types.ChatEvent{
		Origin: h.instance, ID: m.ID, From: m.From, To: m.To, Message: m.Body, Timestamp: m.Timestamp,
	}); err != nil {
		logging.Log.Error("[ws] publishing message %s failed: %v", m.ID, err)
	} else {
		metrics.Delivered.WithLabelValues("broker").Inc()
	}

	return m, nil
}

// Sweep closes connections with no traffic since staleAfter before now and returns how many it closed.
func (h *Hub) Sweep(now time.Time) int {
	var stale []*Conn

	h.mu.RLock()
	for c := range h.conns {
		if now.Sub(c.LastSeen()) > h.staleAfter {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		logging.Log.Info("[ws] closing stale connection %v", c.bound())
		h.unregister(c)
		_ = c.ws.Close()
	}

	return len(stale)
}

// Run sweeps stale connections until Close is called.
func (h *Hub) Run() {
	period := h.staleAfter / 2
	if period <= 0 {
		period = time.Minute
	}

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case now := <-t.C:
			if n := h.Sweep(now); n > 0 {
				logging.Log.Debug("[ws] swept %d connections", n)
			}
		case <-h.done:
			return
		}
	}
}

// ManageEvents consumes chat events published by other instances and delivers those addressed to ids connected
// here. Events this instance published are skipped.
func (h *Hub) ManageEvents() error {
	if h.mb == nil {
		return errors.New("no message broker configured")
	}

	mut := new(sync.Mutex)
	mut.Lock()

	chats, errCh, err := h.mb.GetChats(h.instance, mut)
	if err != nil {
		return err
	}

	go func() {
		logging.Log.Info("[broker] start listening to chat events")

		for c := range chats {
			if c.Origin != h.instance && h.deliver(c.To, Incoming{From: c.From, Message: c.Message, Timestamp: c.Timestamp}) {
				metrics.Delivered.WithLabelValues("remote").Inc()
			}

			mut.Unlock()
		}

		logging.Log.Info("[broker] stop listening to chat events")
	}()

	go func() {
		for e := range errCh {
			logging.Log.Warn("[broker] chat event error: %v", e)
		}
	}()

	return nil
}

// Close stops the sweeper and drops every connection.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })

	h.mu.RLock()
	all := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
		_ = c.ws.Close()
	}
}
