// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tarancss/chatrelay/lib/logging"
	"github.com/tarancss/chatrelay/lib/msg"
	"github.com/tarancss/chatrelay/lib/msg/types"
)

// Exchange names.
const (
	ChatExchange      = "cm" // chat messages
	ProvisionExchange = "pe" // provisioning events
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, err
	}

	logging.Log.Info("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - cm ("chat messages"): every relay instance publishes accepted direct messages to this exchange
//
// - pe ("provisioning events"): registration stage transitions are published to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare(ChatExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	return channel.ExchangeDeclare(ProvisionExchange, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			logging.Log.Warn("Error closing amqp.Channel:%v", err)
		}

		r.ch = nil
	}

	return r.conn.Close()
}

// channel returns the shared channel, opening it if not present.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		var err error
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, err
		}
	}

	return r.ch, nil
}

func (r *Amqp) publish(exchange, key, header string, v interface{}) error {
	jsonDoc, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-relay-name": header},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	if err = ch.Publish(exchange, key, false, false, m); err != nil {
		logging.Log.Error("[%s] Error publishing %s to message broker %v", exchange, key, err)
	}

	return err
}

// SendChat publishes a direct message to the "cm" exchange with routing key chat.<recipient>.
func (r *Amqp) SendChat(c types.ChatEvent) error {
	return r.publish(ChatExchange, "chat."+c.To, c.Origin+"."+c.ID, c)
}

// SendProvision publishes a registration stage event to the "pe" exchange with routing key
// provision.<stage>.<status>.
func (r *Amqp) SendProvision(p types.ProvisionEvent) error {
	return r.publish(ProvisionExchange, "provision."+p.Stage+"."+p.Status, p.ID, p)
}

// GetChats consumes every message from the "cm" exchange through a queue private to instance, pushing them to the
// returned channel. The Mutex pointer is provided to ensure the consumed message has been fully dealt with by the
// management function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetChats(instance string, mut *sync.Mutex) (<-chan types.ChatEvent, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}

	queue := ChatExchange + "." + instance
	// the queue goes away with the instance
	if _, err = ch.QueueDeclare(queue, false, true, true, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(queue, "chat.#", ChatExchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := ch.Consume(queue, "relay-"+instance, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	chats := make(chan types.ChatEvent)
	errs := make(chan error)

	go func() {
		defer close(chats)

		for m := range msgs {
			c := new(types.ChatEvent)
			if err := json.Unmarshal(m.Body, c); err != nil {
				errs <- err

				_ = m.Nack(false, false)

				continue
			}

			chats <- *c
			mut.Lock() // wait for the relay to finish delivering the message
			_ = m.Ack(false)
		}
	}()

	return chats, errs, nil
}
