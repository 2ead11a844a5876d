package cmcontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/apontamento"
	"github.com/nerrad567/cmcontrol-device/internal/correlator"
	"github.com/nerrad567/cmcontrol-device/internal/diagnostics"
	"github.com/nerrad567/cmcontrol-device/internal/dispatcher"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/influxdb"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/logging"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/metrics"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
	"github.com/nerrad567/cmcontrol-device/internal/session"
	"github.com/nerrad567/cmcontrol-device/internal/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by every layer.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialer replaces the MQTT dialer. Tests pass a fake broker here.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithMetrics exports Prometheus metrics through m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithJournal records every apontamento outcome in r.
func WithJournal(r apontamento.Recorder) Option {
	return func(c *Client) { c.journal = r }
}

// WithInflux writes exchange history to an InfluxDB client.
func WithInflux(ic *influxdb.Client) Option {
	return func(c *Client) { c.influx = ic }
}

// Client is a CmControl device endpoint.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	cfg *config.Config

	transport   *transport.Adapter
	dispatcher  *dispatcher.Dispatcher
	correlator  *correlator.Correlator
	session     *session.Manager
	apontamento *apontamento.Service
	diag        *diagnostics.Recorder

	dial    transport.Dialer
	logger  *logging.Logger
	metrics *metrics.Metrics
	journal apontamento.Recorder
	influx  *influxdb.Client
}

// New builds a Client from a validated configuration. It does not connect.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", protocol.ErrConfig)
	}
	if cfg.Device.Address == "" {
		return nil, fmt.Errorf("%w: device address is required", protocol.ErrConfig)
	}

	c := &Client{cfg: cfg, diag: diagnostics.NewRecorder()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.dial == nil {
		c.dial = c.dialMQTT
	}
	log := c.logger.With("device", cfg.Device.Address)

	c.transport = transport.New(cfg.MQTT, cfg.Device.Address, c.dial)
	c.transport.SetLogger(log.With("component", "transport"))

	var corrOpts []correlator.Option
	if cfg.Requests.SerializeAll {
		corrOpts = append(corrOpts, correlator.WithSerializeAll())
	}
	c.correlator = correlator.New(c.transport, cfg.GetRequestTimeout(), corrOpts...)

	c.dispatcher = dispatcher.New(c.transport, c.correlator)
	c.dispatcher.SetLogger(log.With("component", "dispatcher"))
	c.transport.SetHandler(c.dispatcher.Handle)

	c.session = session.New(c.correlator, session.Credentials{
		Username: cfg.CmControl.API.Username,
		Password: cfg.CmControl.API.Password,
	}, cfg.GetTokenRenewMargin(), cfg.GetRequestTimeout())
	c.session.SetLogger(log.With("component", "session"))

	rules := apontamento.Rules{
		ErrorPrefixes: cfg.Business.ErrorPrefixes,
		ErrorContains: cfg.Business.ErrorContains,
		OKPrefixes:    cfg.Business.OKPrefixes,
	}
	if cfg.Business.Strict {
		c.session.SetLogRules(rules)
	}

	c.apontamento = apontamento.New(c.session, apontamento.Options{
		Device:  cfg.Device.Address,
		Strict:  cfg.Business.Strict,
		Rules:   rules,
		Timeout: cfg.GetRequestTimeout(),
		Batch: apontamento.BatchOptions{
			Delay:       cfg.GetBatchDelay(),
			StopOnError: cfg.Batch.StopOnError,
		},
	})
	c.apontamento.SetLogger(log.With("component", "apontamento"))
	if c.journal != nil {
		c.apontamento.SetRecorder(c.journal)
	}

	c.wireObservers()
	return c, nil
}

// wireObservers attaches diagnostics, metrics and InfluxDB to every layer.
func (c *Client) wireObservers() {
	recorders := disconnectRecorders{c.diag}

	c.correlator.AddObserver(c.diag)
	if c.metrics != nil {
		c.correlator.AddObserver(c.metrics)
		c.dispatcher.SetObserver(c.metrics)
		c.session.SetObserver(c.metrics)
		c.apontamento.AddObserver(c.metrics)
		recorders = append(recorders, c.metrics)
	}
	if c.influx != nil {
		c.correlator.AddObserver(c.influx)
		c.apontamento.AddObserver(c.influx)
		recorders = append(recorders, c.influx)
	}
	c.transport.SetDisconnectRecorder(recorders)

	c.transport.SetOnConnectionLost(func(err error) {
		c.correlator.FailAll(err)
		if c.metrics != nil {
			c.metrics.SetConnected(false)
		}
	})
	c.transport.SetOnOnline(func(bool) {
		if c.metrics != nil {
			c.metrics.SetConnected(true)
		}
		if c.influx != nil {
			c.influx.RecordConnect()
		}
	})
}

// dialMQTT is the production dialer; it shares the client's logger with paho.
func (c *Client) dialMQTT(ctx context.Context, cfg config.MQTTConfig, opts mqtt.Options) (transport.Broker, error) {
	mc, err := mqtt.Connect(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	mc.SetLogger(c.logger.With("component", "mqtt"))
	return mc, nil
}

// Connect opens the broker session and announces the device online.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Disconnect announces the device offline and closes the session. Requests
// still waiting fail with protocol.ErrDisconnected.
func (c *Client) Disconnect() error {
	err := c.transport.Disconnect(transport.ReasonClientClose)
	c.correlator.FailAll(protocol.ConnectionError(protocol.ErrDisconnected, nil))
	if c.metrics != nil {
		c.metrics.SetConnected(false)
	}
	return err
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// Device returns the device address.
func (c *Client) Device() string {
	return c.cfg.Device.Address
}

// ClientID returns the MQTT client id.
func (c *Client) ClientID() string {
	return c.transport.ClientID()
}

// PendingRequests returns the number of requests waiting for a response.
func (c *Client) PendingRequests() int {
	return c.correlator.Pending()
}

// Request publishes payload on endpoint and waits for its response. A zero
// timeout uses requests.timeout from the configuration.
func (c *Client) Request(ctx context.Context, endpoint string, payload any, timeout time.Duration) (protocol.Response, error) {
	return c.correlator.Request(ctx, endpoint, payload, timeout)
}

// LoginOAuth2 exchanges the API credentials for a bearer token and returns it.
func (c *Client) LoginOAuth2(ctx context.Context) (string, error) {
	tok, err := c.session.Login(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// EnsureLogin logs in unless a valid token is held.
func (c *Client) EnsureLogin(ctx context.Context) error {
	return c.session.EnsureLogin(ctx)
}

// LogoutOAuth2 revokes the token. The local token is dropped in any case.
func (c *Client) LogoutOAuth2(ctx context.Context) (protocol.Response, error) {
	return c.session.Logout(ctx)
}

// Token returns the bearer token, or protocol.ErrLogin without one.
func (c *Client) Token() (string, error) {
	return c.session.Token()
}

// IsTokenValid reports whether the token is held and outside the renewal margin.
func (c *Client) IsTokenValid() bool {
	return c.session.IsTokenValid()
}

// SessionState returns the login state.
func (c *Client) SessionState() session.State {
	return c.session.State()
}

// SetupApontamento sends a caller-built setup.
func (c *Client) SetupApontamento(ctx context.Context, setup protocol.Setup) (protocol.Response, error) {
	return c.apontamento.SetupApontamento(ctx, setup)
}

// ApontarSerial checks in one serial.
func (c *Client) ApontarSerial(ctx context.Context, serial string, evidencias ...protocol.Evidence) (protocol.Response, error) {
	return c.apontamento.ApontarSerial(ctx, serial, evidencias...)
}

// ApontarVinculo links serials in one apontamento.
func (c *Client) ApontarVinculo(ctx context.Context, seriais []string, evidencias ...protocol.Evidence) (protocol.Response, error) {
	return c.apontamento.ApontarVinculo(ctx, seriais, evidencias...)
}

// ApontarLote checks in each serial with its own request.
func (c *Client) ApontarLote(ctx context.Context, seriais []string) []apontamento.BatchResult {
	return c.apontamento.ApontarLote(ctx, seriais)
}

// ApontarLoteWith is ApontarLote with explicit pacing and stop-on-error.
func (c *Client) ApontarLoteWith(ctx context.Context, seriais []string, opts apontamento.BatchOptions) []apontamento.BatchResult {
	return c.apontamento.ApontarLoteWith(ctx, seriais, opts)
}

// ValidarRota validates the route of a serial without checking it in.
func (c *Client) ValidarRota(ctx context.Context, serial string) (protocol.Response, error) {
	return c.apontamento.ValidarRota(ctx, serial)
}

// OrdemTransporte applies acao to a transport order.
func (c *Client) OrdemTransporte(ctx context.Context, codigo, acao string, apontamentos ...protocol.Apontamento) (protocol.Response, error) {
	return c.apontamento.OrdemTransporte(ctx, codigo, acao, apontamentos...)
}

// LastExchange returns the last request, response, error and disconnect reason.
func (c *Client) LastExchange() diagnostics.Exchange {
	return c.diag.Snapshot()
}

// Diagnostics exposes the exchange recorder, for streaming its events.
func (c *Client) Diagnostics() *diagnostics.Recorder {
	return c.diag
}

// disconnectRecorders fans a disconnect out to several recorders.
type disconnectRecorders []transport.DisconnectRecorder

func (rs disconnectRecorders) RecordDisconnect(reason string) {
	for _, r := range rs {
		r.RecordDisconnect(reason)
	}
}
