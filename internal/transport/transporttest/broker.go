// Package transporttest provides an in-memory broker for tests of code built
// on the transport adapter.
package transporttest

import (
	"context"
	"sync"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/mqtt"
)

// Message is a publish seen by the fake broker.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Responder plays the remote system: it inspects a publish and may answer it.
type Responder func(topic string, payload []byte) (replyTopic string, reply []byte, ok bool)

// Broker is an in-memory stand-in for *mqtt.Client.
// Inbound deliveries are serialized, like paho's ordered router.
type Broker struct {
	mu           sync.Mutex
	connected    bool
	subs         map[string]mqtt.MessageHandler
	published    []Message
	options      mqtt.Options
	onConnect    func(bool)
	onDisconnect func(error)
	responder    Responder
	closed       int

	// DialErr, PublishErr and SubscribeErr force failures when set.
	DialErr      error
	PublishErr   error
	SubscribeErr error

	deliverMu sync.Mutex
	inflight  sync.WaitGroup
}

// NewBroker returns a disconnected fake broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]mqtt.MessageHandler)}
}

// Dial connects the fake and records the options. Wrap it to obtain a transport.Dialer.
func (b *Broker) Dial(_ context.Context, _ config.MQTTConfig, opts mqtt.Options) (*Broker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DialErr != nil {
		return nil, b.DialErr
	}
	b.connected = true
	b.options = opts
	return b, nil
}

// Options returns the options passed to the last Dial.
func (b *Broker) Options() mqtt.Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.options
}

// SetResponder installs the remote-system simulation.
func (b *Broker) SetResponder(r Responder) {
	b.mu.Lock()
	b.responder = r
	b.mu.Unlock()
}

// Publish records the message and lets the responder answer asynchronously.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	if !b.connected {
		b.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	cp := append([]byte(nil), payload...)
	b.published = append(b.published, Message{Topic: topic, Payload: cp, QoS: qos, Retained: retained})
	responder := b.responder
	if responder != nil {
		b.inflight.Add(1)
	}
	b.mu.Unlock()

	if responder == nil {
		return nil
	}
	replyTopic, reply, ok := responder(topic, cp)
	if !ok {
		b.inflight.Done()
		return nil
	}
	go func() {
		defer b.inflight.Done()
		b.Inject(replyTopic, reply)
	}()
	return nil
}

// Subscribe registers handler for filter.
func (b *Broker) Subscribe(filter string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubscribeErr != nil {
		return b.SubscribeErr
	}
	if !b.connected {
		return mqtt.ErrNotConnected
	}
	b.subs[filter] = handler
	return nil
}

// SetOnConnect implements the broker interface.
func (b *Broker) SetOnConnect(callback func(reconnected bool)) {
	b.mu.Lock()
	b.onConnect = callback
	b.mu.Unlock()
}

// SetOnDisconnect implements the broker interface.
func (b *Broker) SetOnDisconnect(callback func(err error)) {
	b.mu.Lock()
	b.onDisconnect = callback
	b.mu.Unlock()
}

// IsConnected implements the broker interface.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Close publishes the offline message, like the real client, and disconnects.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.connected && b.options.Offline != nil {
		b.published = append(b.published, Message{Topic: b.options.Offline.Topic, Payload: b.options.Offline.Payload})
	}
	b.connected = false
	b.closed++
	b.mu.Unlock()

	b.inflight.Wait()
	return nil
}

// Closed returns how many times Close was called.
func (b *Broker) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Inject delivers a message to every matching subscription, one delivery at a time.
func (b *Broker) Inject(topic string, payload []byte) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if mqtt.MatchTopic(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload)
	}
}

// Drop simulates the broker losing the connection.
func (b *Broker) Drop(cause error) {
	b.mu.Lock()
	b.connected = false
	fn := b.onDisconnect
	b.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

// Reconnect simulates paho's automatic reconnect.
func (b *Broker) Reconnect() {
	b.mu.Lock()
	b.connected = true
	fn := b.onConnect
	b.mu.Unlock()
	if fn != nil {
		fn(true)
	}
}

// Published returns a copy of everything published so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// PublishedTo returns the messages published on topic.
func (b *Broker) PublishedTo(topic string) []Message {
	var out []Message
	for _, m := range b.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Subscriptions returns the registered filters.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for f := range b.subs {
		out = append(out, f)
	}
	return out
}

// Reset clears the publish log.
func (b *Broker) Reset() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}
