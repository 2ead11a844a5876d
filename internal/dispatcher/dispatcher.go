// Package dispatcher classifies inbound device messages.
//
// Events the system sends unprompted (ping, state) are answered on the spot
// through the Publisher. Everything else is decoded and offered to the
// ResponseSink as a candidate response. The two consumers never share state,
// so an event reply can go out while requests are still waiting.
package dispatcher

import (
	"sync"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Publisher sends a payload on an endpoint's outbound topic.
type Publisher interface {
	Publish(endpoint string, payload any) error
}

// ResponseSink receives candidate responses. Deliver must not block and
// reports whether a waiting request took the response.
type ResponseSink interface {
	Deliver(endpoint string, resp protocol.Response, err error) bool
}

// EventObserver is told about every event reply (for metrics).
type EventObserver interface {
	EventHandled(endpoint string, err error)
}

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dispatcher routes inbound messages. Handle is meant to be called from a
// single delivery goroutine.
type Dispatcher struct {
	pub  Publisher
	sink ResponseSink
	now  func() time.Time

	mu       sync.RWMutex
	observer EventObserver
	logger   Logger
}

// New creates a dispatcher.
func New(pub Publisher, sink ResponseSink) *Dispatcher {
	return &Dispatcher{
		pub:  pub,
		sink: sink,
		now:  time.Now,
	}
}

// SetObserver sets the event observer.
func (d *Dispatcher) SetObserver(o EventObserver) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

// SetLogger sets the logger. If not set, the dispatcher is silent.
func (d *Dispatcher) SetLogger(l Logger) {
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

// Handle processes one inbound message. Its signature matches transport.Handler.
func (d *Dispatcher) Handle(endpoint string, payload []byte) {
	switch endpoint {
	case protocol.EndpointPing:
		d.reply(endpoint, protocol.EndpointPong, protocol.NewPong(d.now()))
	case protocol.EndpointState:
		d.reply(endpoint, protocol.EndpointState, protocol.StatePayload{State: protocol.StateOnline})
	default:
		d.deliver(endpoint, payload)
	}
}

// reply answers an event synchronously, before Handle returns.
func (d *Dispatcher) reply(event, endpoint string, payload any) {
	err := d.pub.Publish(endpoint, payload)

	d.mu.RLock()
	observer, logger := d.observer, d.logger
	d.mu.RUnlock()

	if observer != nil {
		observer.EventHandled(event, err)
	}
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("event reply failed", "event", event, "error", err)
		return
	}
	logger.Debug("event answered", "event", event, "reply", endpoint)
}

// deliver decodes a response and hands it to the sink. A payload that is not
// a JSON object still resolves the waiting request, with ErrDecode.
func (d *Dispatcher) deliver(endpoint string, payload []byte) {
	resp, err := protocol.DecodeResponse(payload)
	taken := d.sink.Deliver(endpoint, resp, err)

	d.mu.RLock()
	logger := d.logger
	d.mu.RUnlock()
	if logger == nil {
		return
	}
	switch {
	case !taken:
		logger.Debug("discarding unsolicited message", "endpoint", endpoint)
	case err != nil:
		logger.Warn("undecodable response", "endpoint", endpoint, "error", err)
	}
}
