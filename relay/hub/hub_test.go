package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarancss/chatrelay/lib/msg/types"
	"github.com/tarancss/chatrelay/lib/store/memory"
)

// broker is an in-process message broker.
type broker struct {
	mu    sync.Mutex
	sent  []types.ChatEvent
	chats chan types.ChatEvent
	mut   *sync.Mutex
}

func (b *broker) Setup(interface{}) error { return nil }
func (b *broker) Close() error            { return nil }
func (b *broker) SendChat(c types.ChatEvent) error {
	b.mu.Lock()
	b.sent = append(b.sent, c)
	b.mu.Unlock()
	return nil
}
func (b *broker) GetChats(_ string, mut *sync.Mutex) (<-chan types.ChatEvent, <-chan error, error) {
	b.mut = mut
	return b.chats, make(chan error), nil
}
func (b *broker) SendProvision(types.ProvisionEvent) error { return nil }

// push hands an event to the hub and waits until it has been dealt with.
func (b *broker) push(c types.ChatEvent) {
	b.chats <- c
	b.mut.Lock()
}

func start(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial:%e", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func emit(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := ws.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("write:%e", err)
	}
}

func receive(t *testing.T, ws *websocket.Conn) (Frame, Incoming) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read:%e", err)
	}
	var in Incoming
	_ = json.Unmarshal(f.Data, &in)
	return f, in
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func mapped(h *Hub, id string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ids[id]
}

func TestDirectMessage(t *testing.T) {
	db := memory.New()
	h := New(db, nil, time.Minute)
	url := start(t, h)

	alice, bob := dial(t, url), dial(t, url)
	emit(t, alice, EventRegister, "xion1alice")
	emit(t, bob, EventRegister, "xion1bob")
	waitFor(t, func() bool { return h.Registered() == 2 })

	sent := time.Now()
	emit(t, alice, EventSend, Outgoing{From: "xion1alice", To: "xion1bob", Message: "hi bob"})
	f, in := receive(t, bob)
	if f.Event != EventReceive || in.From != "xion1alice" || in.Message != "hi bob" {
		t.Errorf("unexpected frame %s %+v", f.Event, in)
	}
	if in.Timestamp.Before(sent) {
		t.Errorf("timestamp %v earlier than send time %v", in.Timestamp, sent)
	}

	// offline recipients still get the message stored
	emit(t, bob, EventSend, Outgoing{From: "xion1bob", To: "xion1carol", Message: "hi carol"})
	waitFor(t, func() bool {
		msgs, _ := db.Conversation(context.Background(), "xion1bob", "xion1carol")
		return len(msgs) == 1
	})

	msgs, _ := db.Conversation(context.Background(), "xion1alice", "xion1bob")
	if len(msgs) != 1 || msgs[0].Body != "hi bob" {
		t.Errorf("message not stored: %+v", msgs)
	}
}

func TestBadFrames(t *testing.T) {
	h := New(memory.New(), nil, time.Minute)
	ws := dial(t, start(t, h))

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write:%e", err)
	}
	if f, _ := receive(t, ws); f.Event != EventError {
		t.Errorf("expected error frame, got %s", f.Event)
	}

	emit(t, ws, EventSend, Outgoing{From: "xion1alice"})
	f, _ := receive(t, ws)
	var msg string
	_ = json.Unmarshal(f.Data, &msg)
	if f.Event != EventError || msg != "from, to and message are required" {
		t.Errorf("unexpected frame %s %s", f.Event, f.Data)
	}
}

func TestReplaceAndDisconnect(t *testing.T) {
	h := New(memory.New(), nil, time.Minute)
	url := start(t, h)

	first, second, alice := dial(t, url), dial(t, url), dial(t, url)
	emit(t, first, EventRegister, "xion1bob")
	waitFor(t, func() bool { return h.Connected("xion1bob") })
	old := mapped(h, "xion1bob")
	emit(t, second, EventRegister, "xion1bob")
	emit(t, alice, EventRegister, "xion1alice")
	waitFor(t, func() bool { return h.Registered() == 2 && mapped(h, "xion1bob") != old })

	// the newest connection wins
	emit(t, alice, EventSend, Outgoing{From: "xion1alice", To: "xion1bob", Message: "which one"})
	if _, in := receive(t, second); in.Message != "which one" {
		t.Errorf("unexpected message %+v", in)
	}

	// dropping the replaced connection keeps the mapping
	first.Close()
	waitFor(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.conns) == 2
	})
	if !h.Connected("xion1bob") {
		t.Errorf("replaced connection removed the new mapping")
	}

	second.Close()
	waitFor(t, func() bool { return !h.Connected("xion1bob") })
}

func TestSweep(t *testing.T) {
	h := New(memory.New(), nil, time.Minute)
	ws := dial(t, start(t, h))
	emit(t, ws, EventRegister, "xion1alice")
	waitFor(t, func() bool { return h.Registered() == 1 })

	if n := h.Sweep(time.Now()); n != 0 {
		t.Errorf("fresh connection swept")
	}
	if n := h.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("expected 1 stale connection, got %d", n)
	}
	if h.Registered() != 0 {
		t.Errorf("stale id still registered")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Errorf("stale connection still open")
	}
}

func TestBroker(t *testing.T) {
	b := &broker{chats: make(chan types.ChatEvent)}
	h := New(memory.New(), b, time.Minute)
	url := start(t, h)
	if err := h.ManageEvents(); err != nil {
		t.Fatalf("manage:%e", err)
	}

	bob := dial(t, url)
	emit(t, bob, EventRegister, "xion1bob")
	waitFor(t, func() bool { return h.Registered() == 1 })

	// not connected here: published
	emit(t, bob, EventSend, Outgoing{From: "xion1bob", To: "xion1alice", Message: "over there"})
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.sent) == 1
	})
	b.mu.Lock()
	if e := b.sent[0]; e.Origin != h.Instance() || e.To != "xion1alice" || e.Message != "over there" {
		t.Errorf("unexpected event %+v", e)
	}
	b.mu.Unlock()

	// own events are skipped, others delivered
	b.push(types.ChatEvent{Origin: h.Instance(), From: "xion1alice", To: "xion1bob", Message: "echo"})
	b.push(types.ChatEvent{Origin: "other", From: "xion1alice", To: "xion1bob", Message: "from afar",
		Timestamp: time.Now()})
	if _, in := receive(t, bob); in.Message != "from afar" || in.From != "xion1alice" {
		t.Errorf("unexpected message %+v", in)
	}
}
