package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tarancss/chatrelay/lib/errs"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/store"
)

// Response is the body returned to the client when a request fails, or when it succeeds with nothing but a message.
type Response struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	Address string `json:"address,omitempty"`
}

// userReq is the body of the user and group member requests.
type userReq struct {
	Username    string `json:"username"`
	MetaAccount string `json:"meta_account"`
}

type createGroupReq struct {
	GroupName       string `json:"group_name"`
	CreatorMnemonic string `json:"creator_mnemonic"`
}

type groupMessageReq struct {
	GroupName      string `json:"group_name"`
	SenderMnemonic string `json:"sender_mnemonic"`
	Message        string `json:"message"`
}

var errBadBody = errs.E(errs.Validation, "Invalid request body", nil)

func reply(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

// respond replies res, or the error classified by err. failure replaces the message of internal errors.
func respond(rw http.ResponseWriter, r *http.Request, res interface{}, err error, failure string) {
	if err == nil {
		reply(rw, http.StatusOK, res)

		return
	}

	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.E(errs.Internal, failure, err)
	}

	body := Response{Error: e.Msg, Details: e.Details, Address: e.Address}
	if e.Kind == errs.Internal {
		body.Error = failure
	}

	if e.Kind.Status() == http.StatusInternalServerError {
		logging.Log.Error("httpreq from %v %s err:%v", r.RemoteAddr, r.RequestURI, err)
	} else {
		logging.Log.Debug("httpreq from %v %s err:%v", r.RemoteAddr, r.RequestURI, err)
	}

	reply(rw, e.Kind.Status(), body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody
	}

	return nil
}

// detached keeps chain operations running when the client goes away, so a broadcast transaction is always
// followed by its store update.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// healthHandler replies the number of real-time connections.
func (r *Relay) healthHandler(rw http.ResponseWriter, req *http.Request) {
	reply(rw, http.StatusOK, map[string]interface{}{"status": "ok", "connections": r.hub.Registered()})
}

// registerHandler creates, funds and registers a new user.
func (r *Relay) registerHandler(rw http.ResponseWriter, req *http.Request) {
	var (
		err  error
		body userReq
		addr string
	)

	defer func() {
		respond(rw, req, map[string]string{"message": "User registered successfully", "address": addr}, err,
			"Registration failed")
	}()

	if err = decode(req, &body); err != nil {
		return
	}

	addr, err = r.reg.Register(detached(req), body.Username, body.MetaAccount)
}

func (r *Relay) loginHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body userReq

	var res map[string]string

	defer func() { respond(rw, req, res, err, "Login failed") }()

	if err = decode(req, &body); err != nil {
		return
	}

	p, err := r.cmd.Login(req.Context(), body.Username, body.MetaAccount)
	if err != nil {
		return
	}

	res = map[string]string{
		"message":      "Login successful",
		"username":     p.Username,
		"meta_account": p.MetaAccount,
		"xion_address": p.Address,
	}
}

// meHandler replies the details of a user, recovery phrase included.
func (r *Relay) meHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body userReq

	var res interface{}

	defer func() { respond(rw, req, res, err, "Failed to retrieve user") }()

	if err = decode(req, &body); err != nil {
		return
	}

	res, err = r.cmd.Me(req.Context(), body.MetaAccount)
}

func (r *Relay) createGroupHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body createGroupReq

	var g store.Group

	defer func() {
		respond(rw, req, map[string]interface{}{"message": "Group created successfully", "group": g}, err,
			"Group creation failed")
	}()

	if err = decode(req, &body); err != nil {
		return
	}

	g, err = r.cmd.CreateGroup(detached(req), body.GroupName, body.CreatorMnemonic)
}

func (r *Relay) membersHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var ms []store.Member

	defer func() {
		respond(rw, req, map[string]interface{}{"members": ms}, err, "Failed to retrieve group members")
	}()

	ms, err = r.cmd.Members(req.Context(), mux.Vars(req)["groupName"])
}

func (r *Relay) addMemberHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body userReq

	var ms []store.Member

	defer func() {
		respond(rw, req, map[string]interface{}{"message": "Member added successfully", "members": ms}, err,
			"Failed to add member")
	}()

	if err = decode(req, &body); err != nil {
		return
	}

	ms, err = r.cmd.AddMember(req.Context(), mux.Vars(req)["groupName"], body.MetaAccount)
}

func (r *Relay) promoteHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body userReq

	var ms []store.Member

	defer func() {
		respond(rw, req, map[string]interface{}{"message": "Member promoted to admin", "members": ms}, err,
			"Failed to promote member")
	}()

	if err = decode(req, &body); err != nil {
		return
	}

	ms, err = r.cmd.PromoteMember(req.Context(), mux.Vars(req)["groupName"], body.MetaAccount)
}

func (r *Relay) deleteGroupHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body userReq

	defer func() { respond(rw, req, Response{Message: "Group deleted successfully"}, err, "Failed to delete group") }()

	if err = decode(req, &body); err != nil {
		return
	}

	err = r.cmd.DeleteGroup(req.Context(), mux.Vars(req)["groupName"], body.MetaAccount)
}

func (r *Relay) userGroupsHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var gs []store.Group

	defer func() { respond(rw, req, map[string]interface{}{"groups": gs}, err, "Failed to fetch user's groups") }()

	gs, err = r.cmd.GroupsOf(req.Context(), mux.Vars(req)["address"])
}

// sendGroupMessageHandler posts a message to a group through the contract.
func (r *Relay) sendGroupMessageHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var body groupMessageReq

	var hash string

	defer func() {
		respond(rw, req, map[string]string{"message": "Group message sent on-chain successfully", "txHash": hash},
			err, "Failed to send group message")
	}()

	if err = decode(req, &body); err != nil {
		return
	}

	hash, err = r.cmd.PostGroupMessage(detached(req), body.GroupName, body.SenderMnemonic, body.Message)
}

// groupHandler replies the group as the contract holds it.
func (r *Relay) groupHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var raw json.RawMessage

	name := mux.Vars(req)["groupName"]

	defer func() {
		respond(rw, req, map[string]interface{}{"group": name, "messages": raw}, err, "Failed to fetch group messages")
	}()

	raw, err = r.cmd.GroupFromChain(req.Context(), name)
}

func (r *Relay) groupMessagesHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var raw json.RawMessage

	defer func() {
		respond(rw, req, map[string]interface{}{"messages": raw}, err, "Failed to fetch group messages")
	}()

	raw, err = r.cmd.GroupMessages(req.Context(), mux.Vars(req)["group"])
}

// conversationHandler replies the direct messages exchanged by two users, oldest first.
func (r *Relay) conversationHandler(rw http.ResponseWriter, req *http.Request) {
	var err error

	var msgs []store.ChatMessage

	v := mux.Vars(req)

	defer func() { respond(rw, req, msgs, err, "Failed to fetch messages") }()

	msgs, err = r.cmd.Conversation(req.Context(), v["user1"], v["user2"])
}
