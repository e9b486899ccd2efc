// Package relay implements the chat relay service.
//
// The service exposes a JSON API over HTTP to register users, manage chat groups and post group messages to the
// chat contract, and a websocket endpoint for direct messages between connected users.
package relay

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/msg"
	"github.com/tarancss/chatrelay/lib/store"
	"github.com/tarancss/chatrelay/lib/store/db"
	"github.com/tarancss/chatrelay/relay/analytics"
	"github.com/tarancss/chatrelay/relay/command"
	"github.com/tarancss/chatrelay/relay/hub"
	"github.com/tarancss/chatrelay/relay/provision"
)

// Relay contains the data necessary to deliver the service
type Relay struct {
	dbtype  string
	db      store.DB    // db connection
	bc      block.Chain // chain client
	mb      msg.MsgBroker
	reg     *provision.Provisioner
	cmd     *command.Service
	hub     *hub.Hub
	an      *analytics.Forwarder
	limiter *rate.Limiter
	s       *http.Server  // http server
	ss      *http.Server  // https server
	sc      chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Relay service. mb and an may be nil. rps limits the API requests per second; zero
// disables the limit.
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, bc block.Chain, reg *provision.Provisioner,
	cmd *command.Service, h *hub.Hub, an *analytics.Forwarder, rps int) *Relay {
	r := &Relay{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		bc:     bc,
		reg:    reg,
		cmd:    cmd,
		hub:    h,
		an:     an,
		sc:     make(chan struct{}),
	}

	if rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}

	return r
}

// Stop shuts down the http servers and closes gracefully the real-time connections, the message broker, the chain
// client and the database.
func (r *Relay) Stop() {
	var err error
	// shutdown http servers
	if r.s != nil {
		if err = r.s.Shutdown(context.Background()); err != nil {
			logging.Log.Error("Error in http server shutdown:%v", err)
		}
	}

	if r.ss != nil {
		if err = r.ss.Shutdown(context.Background()); err != nil {
			logging.Log.Error("Error in https server shutdown:%v", err)
		}
	}

	close(r.sc) // close server channel to indicate shutdowns have finished

	r.hub.Close()

	if r.an != nil {
		r.an.Wait()
	}

	if r.mb != nil {
		if err = r.mb.Close(); err != nil {
			logging.Log.Error("Error closing message broker:%v", err)
		}
	}

	r.bc.Close()

	if r.db != nil {
		err = db.Close(r.dbtype, r.db)
		logging.Log.Info("Disconnecting %v database, err:%v", r.dbtype, err)
	}
}

// ManageEvents starts the sweeper of stale real-time connections and, when a message broker is configured, the
// consumer of chat events published by other relay instances.
func (r *Relay) ManageEvents() error {
	go r.hub.Run()

	if r.mb == nil {
		return nil
	}

	return r.hub.ManageEvents()
}
