package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// qos is fixed by the CmControl convention; nothing is retained.
const (
	qos      byte = 0
	retained      = false
)

// Disconnect reasons recorded by the adapter itself.
const (
	ReasonClientClose = "client disconnect"
)

// Broker is the part of the MQTT client the adapter needs.
// *mqtt.Client satisfies it; tests use transporttest.Broker.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func(reconnected bool))
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
	Close() error
}

// Dialer opens a broker session.
type Dialer func(ctx context.Context, cfg config.MQTTConfig, opts mqtt.Options) (Broker, error)

// DialMQTT is the production Dialer.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig, opts mqtt.Options) (Broker, error) {
	client, err := mqtt.Connect(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Handler receives every inbound message addressed to this device, in arrival order.
type Handler func(endpoint string, payload []byte)

// DisconnectRecorder keeps the last disconnect reason.
type DisconnectRecorder interface {
	RecordDisconnect(reason string)
}

// Logger is the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Adapter owns the broker session of one device address.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Adapter struct {
	cfg      config.MQTTConfig
	topics   protocol.Topics
	clientID string
	dial     Dialer

	mu     sync.RWMutex
	broker Broker

	handler  Handler
	onLost   func(err error)
	onOnline func(reconnected bool)
	recorder DisconnectRecorder
	logger   Logger
	hookMu   sync.RWMutex
}

// New creates an adapter for device. A nil dial uses DialMQTT.
func New(cfg config.MQTTConfig, device string, dial Dialer) *Adapter {
	if dial == nil {
		dial = DialMQTT
	}
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", device, uuid.NewString()[:8])
	}
	return &Adapter{
		cfg:      cfg,
		topics:   protocol.Topics{Device: device},
		clientID: clientID,
		dial:     dial,
	}
}

// Topics returns the topic builder for this device.
func (a *Adapter) Topics() protocol.Topics {
	return a.topics
}

// ClientID returns the MQTT client id used on CONNECT.
func (a *Adapter) ClientID() string {
	return a.clientID
}

// SetHandler sets the consumer for inbound messages.
func (a *Adapter) SetHandler(h Handler) {
	a.hookMu.Lock()
	a.handler = h
	a.hookMu.Unlock()
}

// SetOnConnectionLost sets a callback run when the broker drops the session.
// err matches protocol.ErrConnection and protocol.ErrDisconnected.
func (a *Adapter) SetOnConnectionLost(fn func(err error)) {
	a.hookMu.Lock()
	a.onLost = fn
	a.hookMu.Unlock()
}

// SetOnOnline sets a callback run after the online state has been announced.
func (a *Adapter) SetOnOnline(fn func(reconnected bool)) {
	a.hookMu.Lock()
	a.onOnline = fn
	a.hookMu.Unlock()
}

// SetDisconnectRecorder sets where disconnect reasons are kept.
func (a *Adapter) SetDisconnectRecorder(r DisconnectRecorder) {
	a.hookMu.Lock()
	a.recorder = r
	a.hookMu.Unlock()
}

// SetLogger sets the logger. If not set, the adapter is silent.
func (a *Adapter) SetLogger(l Logger) {
	a.hookMu.Lock()
	a.logger = l
	a.hookMu.Unlock()
}

// Connect dials the broker, subscribes to the device's inbound topics and
// announces state "1". Failures are protocol.ErrConnection refined by
// ErrDNS, ErrTLS, ErrBrokerAuth or ErrConnectTimeout.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.broker != nil {
		if a.broker.IsConnected() {
			return nil
		}
		// A session left reconnecting on its own would keep the client id
		// and its callbacks alive next to the new one.
		_ = a.broker.Close()
		a.broker = nil
	}

	offline, err := json.Marshal(protocol.StatePayload{State: protocol.StateOffline})
	if err != nil {
		return fmt.Errorf("encoding offline state: %w", err)
	}
	stateTopic := a.topics.Set(protocol.EndpointState)

	broker, err := a.dial(ctx, a.cfg, mqtt.Options{
		ClientID: a.clientID,
		Will:     &mqtt.Message{Topic: stateTopic, Payload: offline},
		Offline:  &mqtt.Message{Topic: stateTopic, Payload: offline},
	})
	if err != nil {
		a.logWarn("broker connection failed", "host", a.cfg.Broker.Host, "port", a.cfg.Broker.Port, "error", err)
		return classify(err)
	}

	broker.SetOnDisconnect(func(cause error) { a.handleLost(broker, cause) })
	broker.SetOnConnect(func(reconnected bool) { a.handleConnect(broker, reconnected) })

	for _, filter := range a.topics.Inbound() {
		if err := broker.Subscribe(filter, qos, a.route); err != nil {
			_ = broker.Close()
			return protocol.ConnectionError(nil, fmt.Errorf("subscribing %s: %w", filter, err))
		}
	}

	if err := publishJSON(broker, stateTopic, protocol.StatePayload{State: protocol.StateOnline}); err != nil {
		_ = broker.Close()
		return classify(fmt.Errorf("announcing online state: %w", err))
	}

	a.broker = broker
	a.logInfo("connected to broker",
		"host", a.cfg.Broker.Host,
		"port", a.cfg.Broker.Port,
		"client_id", a.clientID,
		"device", a.topics.Device,
	)

	a.notifyOnline(false)
	return nil
}

// Publish sends payload as JSON on the endpoint's set topic.
// payload may be a value to marshal or a json.RawMessage / []byte used as is.
func (a *Adapter) Publish(endpoint string, payload any) error {
	a.mu.RLock()
	broker := a.broker
	a.mu.RUnlock()

	if broker == nil || !broker.IsConnected() {
		return protocol.ConnectionError(protocol.ErrNotConnected, nil)
	}

	if err := publishJSON(broker, a.topics.Set(endpoint), payload); err != nil {
		if errors.Is(err, protocol.ErrInvalidArgument) {
			return err
		}
		return classify(err)
	}
	a.logDebug("published", "endpoint", endpoint)
	return nil
}

// Disconnect announces state "0" best-effort, closes the session and records reason.
// It is a no-op when not connected.
func (a *Adapter) Disconnect(reason string) error {
	a.mu.Lock()
	broker := a.broker
	a.broker = nil
	a.mu.Unlock()

	if broker == nil {
		return nil
	}
	if reason == "" {
		reason = ReasonClientClose
	}

	// Close publishes the offline state configured at dial time.
	err := broker.Close()
	a.record(reason)
	a.logInfo("disconnected from broker", "reason", reason)
	if err != nil {
		return protocol.ConnectionError(nil, err)
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.broker != nil && a.broker.IsConnected()
}

// route converts a broker message to an endpoint and hands it to the handler.
func (a *Adapter) route(topic string, payload []byte) error {
	endpoint, ok := a.topics.EndpointOf(topic)
	if !ok {
		a.logDebug("ignoring message for another device", "topic", topic)
		return nil
	}

	a.hookMu.RLock()
	handler := a.handler
	a.hookMu.RUnlock()

	if handler != nil {
		handler(endpoint, payload)
	}
	return nil
}

// current reports whether b is the adapter's live session.
func (a *Adapter) current(b Broker) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.broker == b
}

// handleConnect re-announces the online state after an automatic reconnect.
// The MQTT client has already restored the subscriptions. Sessions replaced
// by a later Connect are ignored.
func (a *Adapter) handleConnect(broker Broker, reconnected bool) {
	if !reconnected || !a.current(broker) {
		return
	}

	if err := publishJSON(broker, a.topics.Set(protocol.EndpointState), protocol.StatePayload{State: protocol.StateOnline}); err != nil {
		a.logWarn("online state not re-announced after reconnect", "error", err)
		return
	}
	a.logInfo("reconnected to broker", "device", a.topics.Device)
	a.notifyOnline(true)
}

// handleLost records the reason and fails everything waiting on this session.
// Losses reported by a replaced session are ignored.
func (a *Adapter) handleLost(broker Broker, cause error) {
	if !a.current(broker) {
		a.logDebug("ignoring connection loss of a replaced session")
		return
	}
	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	a.record(reason)
	a.logWarn("broker connection lost", "reason", reason)

	a.hookMu.RLock()
	fn := a.onLost
	a.hookMu.RUnlock()
	if fn != nil {
		fn(protocol.ConnectionError(protocol.ErrDisconnected, cause))
	}
}

func (a *Adapter) notifyOnline(reconnected bool) {
	a.hookMu.RLock()
	fn := a.onOnline
	a.hookMu.RUnlock()
	if fn != nil {
		fn(reconnected)
	}
}

func (a *Adapter) record(reason string) {
	a.hookMu.RLock()
	r := a.recorder
	a.hookMu.RUnlock()
	if r != nil {
		r.RecordDisconnect(reason)
	}
}

// publishJSON encodes payload unless it already is raw JSON.
func publishJSON(broker Broker, topic string, payload any) error {
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encoding payload: %w", protocol.ErrInvalidArgument, err)
		}
	}
	return broker.Publish(topic, data, qos, retained)
}

func (a *Adapter) getLogger() Logger {
	a.hookMu.RLock()
	defer a.hookMu.RUnlock()
	return a.logger
}

func (a *Adapter) logDebug(msg string, args ...any) {
	if l := a.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (a *Adapter) logInfo(msg string, args ...any) {
	if l := a.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (a *Adapter) logWarn(msg string, args ...any) {
	if l := a.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}
