package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarancss/chatrelay/lib/block/blocktest"
	"github.com/tarancss/chatrelay/lib/seal"
	"github.com/tarancss/chatrelay/lib/store/db"
	"github.com/tarancss/chatrelay/lib/store/memory"
	"github.com/tarancss/chatrelay/relay/command"
	"github.com/tarancss/chatrelay/relay/hub"
	"github.com/tarancss/chatrelay/relay/provision"
)

const (
	faucetPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	contractAddr = "xion1contract"
)

func newRelay(t *testing.T, rps int) (*Relay, *httptest.Server) {
	t.Helper()
	chain := blocktest.New("xion")
	mem := memory.New()
	s, _ := seal.New("")
	f, err := provision.NewFaucet(chain, faucetPhrase, "200000uxion", "Initial funding")
	if err != nil {
		t.Fatalf("faucet:%e", err)
	}
	reg := provision.New(chain, mem, f, provision.Poller{Interval: time.Millisecond, Timeout: 100 * time.Millisecond},
		contractAddr, s, nil)
	cmd := command.New(chain, mem, contractAddr, s)
	h := hub.New(mem, nil, time.Minute)

	r := New(db.MEMORY, mem, nil, chain, reg, cmd, h, nil, rps)
	srv := httptest.NewServer(r.Router())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})

	return r, srv
}

// makeRequest calls the API and returns the status code and the decoded body.
func makeRequest(method, uri string, obj interface{}) (int, map[string]interface{}, error) {
	var body io.Reader
	if obj != nil {
		b, _ := json.Marshal(obj)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	res := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		_ = json.Unmarshal(raw, &res)
	} else {
		res["raw"] = string(raw)
	}
	return resp.StatusCode, res, nil
}

func call(t *testing.T, method, uri string, obj interface{}) (int, map[string]interface{}) {
	t.Helper()
	s, res, err := makeRequest(method, uri, obj)
	if err != nil {
		t.Fatalf("request %s %s:%e", method, uri, err)
	}
	return s, res
}

func TestAPI(t *testing.T) {
	_, srv := newRelay(t, 0)
	u := srv.URL

	// users
	s, res := call(t, http.MethodPost, u+"/register", userReq{Username: "alice", MetaAccount: "meta-a"})
	if s != http.StatusOK || res["message"] != "User registered successfully" {
		t.Fatalf("register alice: %d %v", s, res)
	}
	alice := res["address"].(string)
	s, res = call(t, http.MethodPost, u+"/register", userReq{Username: "bob", MetaAccount: "meta-b"})
	if s != http.StatusOK {
		t.Fatalf("register bob: %d %v", s, res)
	}
	bob := res["address"].(string)

	_, res = call(t, http.MethodPost, u+"/me", userReq{MetaAccount: "meta-a"})
	aliceWords, _ := res["mnemonic"].(string)
	_, res = call(t, http.MethodPost, u+"/me", userReq{MetaAccount: "meta-b"})
	bobWords, _ := res["mnemonic"].(string)
	if len(strings.Fields(aliceWords)) != 12 || len(strings.Fields(bobWords)) != 12 {
		t.Fatalf("recovery phrases not returned")
	}

	cases := []struct {
		name, method, uri string      // case name, http method to use and uri
		obj               interface{} // request body
		status            int         // http status code
		errExp            string      // error expected
		check             func(map[string]interface{}) bool
	}{
		{"register_0", http.MethodPost, "/register", userReq{Username: "alice", MetaAccount: "meta-c"}, 409, "Username already taken", nil},
		{"register_1", http.MethodPost, "/register", userReq{Username: "carol", MetaAccount: "meta-a"}, 409, "Meta account already registered",
			func(r map[string]interface{}) bool { return r["address"] == alice }},
		{"register_2", http.MethodPost, "/register", userReq{Username: "carol"}, 400, "username and meta_account are required", nil},
		{"register_3", http.MethodGet, "/register", nil, 405, "", nil},
		{"login_0", http.MethodPost, "/login", userReq{Username: "alice", MetaAccount: "meta-a"}, 200, "",
			func(r map[string]interface{}) bool { return r["message"] == "Login successful" && r["xion_address"] == alice }},
		{"login_1", http.MethodPost, "/login", userReq{Username: "alice", MetaAccount: "meta-b"}, 404, "Invalid username or meta_account", nil},
		{"login_2", http.MethodPost, "/login", userReq{Username: "alice"}, 400, "Both username and meta_account are required", nil},
		{"me_0", http.MethodPost, "/me", userReq{MetaAccount: "meta-x"}, 404, "User not found", nil},
		{"me_1", http.MethodPost, "/me", userReq{}, 400, "meta_account is required", nil},
		{"create_0", http.MethodPost, "/create-group", createGroupReq{GroupName: "devs", CreatorMnemonic: aliceWords}, 200, "",
			func(r map[string]interface{}) bool { return r["message"] == "Group created successfully" && r["group"] != nil }},
		{"create_1", http.MethodPost, "/create-group", createGroupReq{GroupName: "devs", CreatorMnemonic: aliceWords}, 409, "Group already exists", nil},
		{"create_2", http.MethodPost, "/create-group", createGroupReq{GroupName: "devs"}, 400, "group_name and creator_mnemonic are required", nil},
		{"post_0", http.MethodPost, "/send-group-message", groupMessageReq{GroupName: "devs", SenderMnemonic: bobWords, Message: "hi"}, 403, "User is not a member of this group", nil},
		{"add_0", http.MethodPost, "/group/devs/add-member", userReq{MetaAccount: "meta-b"}, 200, "",
			func(r map[string]interface{}) bool { return len(r["members"].([]interface{})) == 2 }},
		{"add_1", http.MethodPost, "/group/devs/add-member", userReq{MetaAccount: "meta-b"}, 409, "Member already exists", nil},
		{"add_2", http.MethodPost, "/group/devs/add-member", userReq{MetaAccount: "meta-x"}, 404, "User with that meta_account not found", nil},
		{"add_3", http.MethodPost, "/group/ops/add-member", userReq{MetaAccount: "meta-b"}, 404, "Group not found", nil},
		{"post_1", http.MethodPost, "/send-group-message", groupMessageReq{GroupName: "devs", SenderMnemonic: bobWords, Message: "hi"}, 200, "",
			func(r map[string]interface{}) bool { return r["txHash"] != "" }},
		{"post_2", http.MethodPost, "/send-group-message", groupMessageReq{GroupName: "devs", Message: "hi"}, 400, "group_name, sender_mnemonic, and message are required", nil},
		{"members_0", http.MethodGet, "/group/devs/members", nil, 200, "",
			func(r map[string]interface{}) bool { return len(r["members"].([]interface{})) == 2 }},
		{"members_1", http.MethodGet, "/group/ops/members", nil, 404, "Group not found", nil},
		{"groups_0", http.MethodGet, "/user/" + bob + "/groups", nil, 200, "",
			func(r map[string]interface{}) bool { return len(r["groups"].([]interface{})) == 1 }},
		{"groups_1", http.MethodGet, "/user/xion1nobody/groups", nil, 200, "",
			func(r map[string]interface{}) bool { return len(r["groups"].([]interface{})) == 0 }},
		{"chain_0", http.MethodGet, "/group/devs/messages", nil, 404, "No messages found for this group", nil},
		{"chain_1", http.MethodGet, "/group-messages/devs", nil, 200, "",
			func(r map[string]interface{}) bool { return len(r["messages"].([]interface{})) == 0 }},
		{"delete_0", http.MethodDelete, "/group/devs", userReq{MetaAccount: "meta-b"}, 403, "You do not have permission to delete this group", nil},
		{"promote_0", http.MethodPost, "/group/devs/promote-member", userReq{MetaAccount: "meta-b"}, 200, "",
			func(r map[string]interface{}) bool { return r["message"] == "Member promoted to admin" }},
		{"delete_1", http.MethodDelete, "/group/devs", userReq{}, 400, "meta_account is required", nil},
		{"delete_2", http.MethodDelete, "/group/devs", userReq{MetaAccount: "meta-b"}, 200, "",
			func(r map[string]interface{}) bool { return r["message"] == "Group deleted successfully" }},
		{"delete_3", http.MethodDelete, "/group/devs", userReq{MetaAccount: "meta-a"}, 404, "Group not found", nil},
		{"health_0", http.MethodGet, "/health", nil, 200, "", func(r map[string]interface{}) bool { return r["status"] == "ok" }},
		{"health_1", http.MethodPost, "/health", nil, 405, "", nil},
	}

	for _, c := range cases {
		s, res := call(t, c.method, u+c.uri, c.obj)
		if s != c.status {
			t.Errorf("[%s] Error in StatusCode:%d expected:%d %v", c.name, s, c.status, res)
		} else if e, _ := res["error"].(string); e != c.errExp {
			t.Errorf("[%s] Error in response:%s expected:%s", c.name, e, c.errExp)
		} else if c.check != nil && !c.check(res) {
			t.Errorf("[%s] Unexpected body %v", c.name, res)
		}
	}
}

func TestRealtime(t *testing.T) {
	_, srv := newRelay(t, 0)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	alice, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial:%e", err)
	}
	defer alice.Close()
	bob, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial:%e", err)
	}
	defer bob.Close()

	send := func(ws *websocket.Conn, event string, data interface{}) {
		raw, _ := json.Marshal(data)
		if err := ws.WriteJSON(hub.Frame{Event: event, Data: raw}); err != nil {
			t.Fatalf("write:%e", err)
		}
	}
	send(alice, hub.EventRegister, "xion1alice")
	send(bob, hub.EventRegister, "xion1bob")
	for i := 0; i < 200; i++ {
		if _, res := call(t, http.MethodGet, srv.URL+"/health", nil); res["connections"] == float64(2) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := time.Now()
	send(alice, hub.EventSend, hub.Outgoing{From: "xion1alice", To: "xion1bob", Message: "hello"})
	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f hub.Frame
	if err = bob.ReadJSON(&f); err != nil {
		t.Fatalf("read:%e", err)
	}
	var in hub.Incoming
	_ = json.Unmarshal(f.Data, &in)
	if f.Event != hub.EventReceive || in.From != "xion1alice" || in.Message != "hello" {
		t.Errorf("unexpected frame %s %+v", f.Event, in)
	}
	if in.Timestamp.Before(sent) {
		t.Errorf("timestamp %v earlier than send time %v", in.Timestamp, sent)
	}

	// the history is served over http
	s, res := call(t, http.MethodGet, srv.URL+"/messages/xion1bob/xion1alice", nil)
	if !strings.Contains(res["raw"].(string), `"message":"hello"`) || s != http.StatusOK {
		t.Errorf("unexpected history %d %v", s, res)
	}
}

func TestRateLimit(t *testing.T) {
	_, srv := newRelay(t, 1)

	var limited bool
	for i := 0; i < 5; i++ {
		s, res := call(t, http.MethodGet, srv.URL+"/health", nil)
		if s == http.StatusTooManyRequests {
			limited = res["error"] == "Too many requests"
			break
		}
	}
	if !limited {
		t.Errorf("requests were not limited")
	}
}
