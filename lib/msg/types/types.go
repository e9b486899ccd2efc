// Package types defines the events exchanged between relay instances through the message broker.
package types

import "time"

// ChatEvent carries a direct message accepted by one relay instance so the instance holding the recipient's
// connection can deliver it. Origin identifies the publishing instance.
type ChatEvent struct {
	Origin    string    `json:"origin"`
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProvisionEvent reports a registration stage transition.
type ProvisionEvent struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Address   string    `json:"address,omitempty"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
