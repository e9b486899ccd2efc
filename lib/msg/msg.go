// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/tarancss/chatrelay/lib/msg/types"
)

// MsgBroker relays chat messages between relay instances and publishes provisioning events.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// chat fan-out between instances
	SendChat(c types.ChatEvent) error
	GetChats(instance string, mut *sync.Mutex) (<-chan types.ChatEvent, <-chan error, error)

	// registration journal
	SendProvision(p types.ProvisionEvent) error
}
