// Package main: chat relay service.
//
// The relay needs a funded faucet account on the configured chain; its recovery phrase is read from FAUCET_MNEMONIC
// (or CHR_FAUCET_MNEMONIC, or faucet.mnemonic in the config file) and the relay refuses to start without it.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/tarancss/chatrelay/lib/block"
	"github.com/tarancss/chatrelay/lib/config"
	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/msg"
	"github.com/tarancss/chatrelay/lib/msg/amqp"
	"github.com/tarancss/chatrelay/lib/seal"
	"github.com/tarancss/chatrelay/lib/store/db"
	"github.com/tarancss/chatrelay/relay"
	"github.com/tarancss/chatrelay/relay/analytics"
	"github.com/tarancss/chatrelay/relay/command"
	"github.com/tarancss/chatrelay/relay/hub"
	"github.com/tarancss/chatrelay/relay/provision"
)

func main() {
	// get command line flags
	confPath := flag.StringP("config", "c", "", "configuration json file")
	monitor := flag.BoolP("monitor", "m", false, "serve Prometheus metrics on :9100/metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	if err = conf.Validate(); err != nil {
		logging.Log.Fatal("Invalid configuration: %v", err)
		os.Exit(1)
	}

	logging.SetLevel(conf.LogLevel)
	logging.Log.Info("Configuration: db:%s mb:%s node:%s chain:%s contract:%s port:%s", conf.DbType, conf.MbType,
		conf.Chain.Node, conf.Chain.ChainID, conf.Chain.Contract, conf.Port)

	// connect to database
	dbConn, err := db.New(conf.DbType, conf.DbConn)
	if err != nil {
		panic(err)
	}

	logging.Log.Info("Connected to %s database", conf.DbType)

	// chain client
	chain, err := block.Init(conf.Chain)
	if err != nil {
		panic(err)
	}

	logging.Log.Info("Chain client loaded for %s", conf.Chain.Node)

	// load Prometheus monitor
	if *monitor {
		go func() {
			logging.Log.Info("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())

			if err := http.ListenAndServe(":9100", h); err != nil {
				logging.Log.Error("Metrics server: %v", err)
			}
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	case "":
		logging.Log.Info("No message broker: running as a single instance")
	default:
		logging.Log.Warn("Unknown message broker type: %s", conf.MbType)
	}

	sealer, err := seal.New(conf.SealIdentity)
	if err != nil {
		panic(err)
	}

	if !sealer.Enabled() {
		logging.Log.Warn("No seal identity configured: recovery phrases are stored in clear")
	}

	faucet, err := provision.NewFaucet(chain, conf.Faucet.Mnemonic, conf.Faucet.Amount, conf.Faucet.Memo)
	if err != nil {
		panic(err)
	}

	logging.Log.Info("Faucet account %s", faucet.Address())

	reg := provision.New(chain, dbConn, faucet,
		provision.Poller{Interval: conf.Poll.Interval, Timeout: conf.Poll.Timeout},
		conf.Chain.Contract, sealer, mb)
	cmd := command.New(chain, dbConn, conf.Chain.Contract, sealer)
	h := hub.New(dbConn, mb, conf.StaleAfter)
	an := analytics.New(dbConn, conf.Analytics)

	// create relay service
	r := relay.New(conf.DbType, dbConn, mb, chain, reg, cmd, h, an, conf.RateLimit)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		logging.Log.Info("Program killed !")
		// do last actions and wait for all write operations to end
		r.Stop()
		close(finish)
	}()

	// real-time housekeeping and events from other instances
	if err := r.ManageEvents(); err != nil {
		logging.Log.Error("Error setting up broker readers for chat events:%v", err)
	}

	// init API, wait for its return and log response
	logging.Log.Info("Relay: %s", r.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
