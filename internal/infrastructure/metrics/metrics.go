// Package metrics exposes Prometheus collectors for the CmControl client.
//
// Collectors are registered on a caller-supplied registry so tests and
// several clients in one process do not collide. A Metrics value plugs
// into the correlator, dispatcher, session, apontamento service and
// transport as their observer.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

const namespace = "cmcontrol"

// Outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeNotConnected = "not_connected"
	OutcomeDecode       = "decode_error"
	OutcomeRejected     = "rejected"
	OutcomeInvalid      = "invalid"
	OutcomeCancelled    = "cancelled"
	OutcomeError        = "error"
)

// Metrics holds the client's collectors.
type Metrics struct {
	requestsSent     *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	events           *prometheus.CounterVec
	connected        prometheus.Gauge
	disconnects      prometheus.Counter
	logins           *prometheus.CounterVec
	loginDuration    prometheus.Histogram
	apontamentos     *prometheus.CounterVec
	apontamentoTimer *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Requests published to CmControl by endpoint",
		}, []string{"endpoint"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from publish to response, timeout or failure",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound ping/state events answered, by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the MQTT session is up",
		}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "MQTT disconnects, requested or not",
		}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "OAuth2 login exchanges by outcome",
		}, []string{"outcome"}),
		loginDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_duration_seconds",
			Help:      "OAuth2 login exchange duration",
			Buckets:   prometheus.DefBuckets,
		}),
		apontamentos: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apontamentos_total",
			Help:      "Apontamento operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		apontamentoTimer: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apontamento_duration_seconds",
			Help:      "Apontamento duration including any re-login",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
	}
}

// RequestSent implements correlator.Observer.
func (m *Metrics) RequestSent(_ uint64, endpoint string, _ any) {
	m.requestsSent.WithLabelValues(endpoint).Inc()
}

// ResponseReceived implements correlator.Observer.
func (m *Metrics) ResponseReceived(_ uint64, endpoint string, _ protocol.Response, elapsed time.Duration) {
	m.requests.WithLabelValues(endpoint, OutcomeOK).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RequestFailed implements correlator.Observer.
func (m *Metrics) RequestFailed(_ uint64, endpoint string, err error, elapsed time.Duration) {
	m.requests.WithLabelValues(endpoint, Outcome(err)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// EventHandled implements dispatcher.EventObserver.
func (m *Metrics) EventHandled(endpoint string, err error) {
	m.events.WithLabelValues(endpoint, Outcome(err)).Inc()
}

// LoginCompleted implements session.Observer.
func (m *Metrics) LoginCompleted(err error, elapsed time.Duration) {
	m.logins.WithLabelValues(Outcome(err)).Inc()
	m.loginDuration.Observe(elapsed.Seconds())
}

// ApontamentoCompleted implements apontamento.Observer.
func (m *Metrics) ApontamentoCompleted(operation string, err error, elapsed time.Duration) {
	m.apontamentos.WithLabelValues(operation, Outcome(err)).Inc()
	m.apontamentoTimer.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordDisconnect implements transport.DisconnectRecorder.
func (m *Metrics) RecordDisconnect(string) {
	m.disconnects.Inc()
	m.connected.Set(0)
}

// SetConnected records the MQTT session state.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// Outcome maps an error to a bounded label value.
func Outcome(err error) string {
	var rerr *protocol.ResponseError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &rerr):
		return OutcomeRejected
	case errors.Is(err, protocol.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, protocol.ErrDisconnected):
		return OutcomeDisconnected
	case errors.Is(err, protocol.ErrNotConnected):
		return OutcomeNotConnected
	case errors.Is(err, protocol.ErrDecode):
		return OutcomeDecode
	case errors.Is(err, protocol.ErrInvalidArgument):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
