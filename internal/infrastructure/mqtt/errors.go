package mqtt

import "errors"

// Broker session errors. The transport adapter maps them onto the
// cmcontrol connection error kinds.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectTimeout is returned when the broker does not answer CONNECT in time.
	ErrConnectTimeout = errors.New("mqtt: connect timed out")

	// ErrTLSConfig is returned when CA or client certificate files cannot be loaded.
	ErrTLSConfig = errors.New("mqtt: invalid tls configuration")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects QoS values above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
