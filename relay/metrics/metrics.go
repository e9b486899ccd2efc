// Package metrics declares the prometheus collectors of the relay. They are served on :9100/metrics when the relay
// runs with monitoring enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registrations counts registration outcomes by the stage where they ended.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "registrations_total",
		Help:      "Registrations by final stage and outcome.",
	}, []string{"stage", "outcome"})

	// Inconsistencies counts chain writes whose store record could not be written.
	Inconsistencies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "inconsistencies_total",
		Help:      "Chain writes not reflected in the store.",
	}, []string{"operation"})

	// ChainTxs counts signed transactions by operation and result.
	ChainTxs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "chain_txs_total",
		Help:      "Signed transactions by operation and result.",
	}, []string{"operation", "result"})

	// HTTPRequests counts API requests by route, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "http_requests_total",
		Help:      "API requests by route, method and status code.",
	}, []string{"route", "method", "status"})

	// Connections is the number of registered real-time connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "realtime_connections",
		Help:      "Registered real-time connections.",
	})

	// Delivered counts real-time messages by delivery path.
	Delivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "realtime_messages_total",
		Help:      "Real-time messages by delivery path.",
	}, []string{"path"})
)

// TxResult returns the result label of a transaction code.
func TxResult(code uint32, err error) string {
	switch {
	case err != nil:
		return "error"
	case code != 0:
		return "rejected"
	}

	return "ok"
}
