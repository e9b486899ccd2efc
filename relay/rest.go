package relay

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/relay/metrics"
)

// registration waits for funding, account visibility and a contract execution
const timeout = 90

// Router returns the API routes with the request logging, rate limiting and analytics middleware.
func (r *Relay) Router() *mux.Router {
	m := mux.NewRouter()
	m.HandleFunc("/health", r.healthHandler).Methods("GET")
	m.HandleFunc("/ws", r.hub.ServeWs).Methods("GET")                                    // real-time channel
	m.HandleFunc("/register", r.registerHandler).Methods("POST")                         // create and fund a user
	m.HandleFunc("/login", r.loginHandler).Methods("POST")                               // check a user exists
	m.HandleFunc("/me", r.meHandler).Methods("POST")                                     // user details
	m.HandleFunc("/create-group", r.createGroupHandler).Methods("POST")                  // create a group on chain
	m.HandleFunc("/group/{groupName}/members", r.membersHandler).Methods("GET")          // list members
	m.HandleFunc("/group/{groupName}/add-member", r.addMemberHandler).Methods("POST")    // add a member
	m.HandleFunc("/group/{groupName}/promote-member", r.promoteHandler).Methods("POST")  // make a member admin
	m.HandleFunc("/group/{groupName}/messages", r.groupHandler).Methods("GET")           // group from the contract
	m.HandleFunc("/group/{groupName}", r.deleteGroupHandler).Methods("DELETE")           // delete a group
	m.HandleFunc("/user/{address}/groups", r.userGroupsHandler).Methods("GET")           // groups of a user
	m.HandleFunc("/send-group-message", r.sendGroupMessageHandler).Methods("POST")       // post on chain
	m.HandleFunc("/group-messages/{group}", r.groupMessagesHandler).Methods("GET")       // messages from the contract
	m.HandleFunc("/messages/{user1}/{user2}", r.conversationHandler).Methods("GET")      // direct message history
	m.Use(r.logRequests, r.limit)

	if r.an != nil {
		m.Use(r.an.Middleware)
	}

	return m
}

// Init sets up and starts the http/https server to service the API. If sslPort, sslCert and sslKey are informed, it
// will start an https (TLS) server on the specified endpoint. It returns when Stop is called.
func (r *Relay) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	h := r.Router()

	// start http server
	if port != "" {
		r.s = &http.Server{
			Handler:      h,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			if e := r.s.ListenAndServe(); !errors.Is(e, http.ErrServerClosed) {
				err = e
			}
		}()

		logging.Log.Info("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		r.ss = &http.Server{
			Handler:      h,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			if e := r.ss.ListenAndServeTLS(sslCert, sslKey); !errors.Is(e, http.ErrServerClosed) {
				errTLS = e
			}
		}()

		logging.Log.Info("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-r.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}

// statusWriter keeps the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}

	w.status = http.StatusSwitchingProtocols

	return h.Hijack()
}

func (r *Relay) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw, status: http.StatusOK}

		next.ServeHTTP(sw, req)

		route := req.URL.Path
		if cr := mux.CurrentRoute(req); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(route, req.Method, strconv.Itoa(sw.status)).Inc()
		logging.Log.Info("httpreq from %v %s %s status:%d in %v", req.RemoteAddr, req.Method, req.RequestURI,
			sw.status, time.Since(start))
	})
}

func (r *Relay) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if r.limiter != nil && !r.limiter.Allow() {
			reply(rw, http.StatusTooManyRequests, Response{Error: "Too many requests"})

			return
		}

		next.ServeHTTP(rw, req)
	})
}
