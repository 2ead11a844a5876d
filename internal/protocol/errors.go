package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the CmControl client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfig is returned when the client configuration is incomplete.
	ErrConfig = errors.New("cmcontrol: invalid configuration")

	// ErrInvalidArgument is returned when a caller supplies an unusable value
	// (empty serial, empty evidence name, ...).
	ErrInvalidArgument = errors.New("cmcontrol: invalid argument")

	// ErrConnection is the umbrella for every transport failure.
	ErrConnection = errors.New("cmcontrol: connection error")

	// ErrNotConnected is returned when an operation needs a live broker session.
	ErrNotConnected = errors.New("cmcontrol: not connected")

	// ErrDNS is returned when the broker host name cannot be resolved.
	ErrDNS = errors.New("cmcontrol: broker host not resolved")

	// ErrTLS is returned for certificate and handshake problems.
	ErrTLS = errors.New("cmcontrol: tls failure")

	// ErrBrokerAuth is returned when the broker refuses the CONNECT credentials.
	ErrBrokerAuth = errors.New("cmcontrol: broker refused credentials")

	// ErrConnectTimeout is returned when no CONNACK arrives in time.
	ErrConnectTimeout = errors.New("cmcontrol: timed out connecting to broker")

	// ErrDisconnected is returned to requests that were pending when the link dropped.
	ErrDisconnected = errors.New("cmcontrol: connection lost")

	// ErrTimeout is returned when no response arrives within the request window.
	ErrTimeout = errors.New("cmcontrol: timed out waiting for response")

	// ErrDecode is returned when a received payload is not a JSON object.
	ErrDecode = errors.New("cmcontrol: invalid response payload")

	// ErrLogin is returned when OAuth2 login fails or no token is available.
	ErrLogin = errors.New("cmcontrol: login failed")

	// ErrAPI is returned for generic MQTT+REST failures.
	ErrAPI = errors.New("cmcontrol: api error")

	// ErrApontamento is returned when setup.apontamento reports a failure.
	ErrApontamento = errors.New("cmcontrol: apontamento rejected")
)

// ConnectionError joins ErrConnection with a refined sentinel and its cause,
// so callers can match either the class or the specific failure.
func ConnectionError(kind error, cause error) error {
	if kind == nil || errors.Is(kind, ErrConnection) {
		if cause == nil {
			return ErrConnection
		}
		return fmt.Errorf("%w: %w", ErrConnection, cause)
	}
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrConnection, kind)
	}
	return fmt.Errorf("%w: %w: %w", ErrConnection, kind, cause)
}

// ResponseError is a failure reported by CmControl inside a response payload:
// a non-200 status, or a 200 whose log describes a business error.
type ResponseError struct {
	// Kind is ErrLogin, ErrAPI or ErrApontamento.
	Kind     error
	Endpoint string
	Status   string
	Log      string
	Raw      Response
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	msg := "cmcontrol responded with an error"
	if e.Endpoint != "" {
		msg += fmt.Sprintf(" on %q", e.Endpoint)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(" (status=%s)", e.Status)
	}
	if e.Log != "" {
		msg += ": " + e.Log
	}
	return msg
}

// Unwrap exposes Kind to errors.Is.
func (e *ResponseError) Unwrap() error {
	return e.Kind
}

// NewResponseError builds a ResponseError from a decoded response.
func NewResponseError(kind error, endpoint string, resp Response) *ResponseError {
	return &ResponseError{
		Kind:     kind,
		Endpoint: endpoint,
		Status:   resp.Status(),
		Log:      resp.Log(),
		Raw:      resp,
	}
}
