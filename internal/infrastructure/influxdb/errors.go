package influxdb

import "errors"

// Exchange series errors. Only Connect and HealthCheck return them; point
// writes are asynchronous and report through SetOnError.
var (
	// ErrNotConnected is returned by HealthCheck on a closed or zero Client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means influxdb.enabled is false; the client runs without series.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
