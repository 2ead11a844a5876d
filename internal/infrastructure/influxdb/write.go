package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/metrics"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Measurement names.
const (
	MeasurementRequest     = "cmcontrol_request"
	MeasurementApontamento = "cmcontrol_apontamento"
	MeasurementConnection  = "cmcontrol_connection"
)

// RequestSent implements correlator.Observer. Only completions are written.
func (c *Client) RequestSent(uint64, string, any) {}

// ResponseReceived implements correlator.Observer.
func (c *Client) ResponseReceived(_ uint64, endpoint string, _ protocol.Response, elapsed time.Duration) {
	c.write(requestPoint(c.device, endpoint, metrics.OutcomeOK, elapsed, c.now()))
}

// RequestFailed implements correlator.Observer.
func (c *Client) RequestFailed(_ uint64, endpoint string, err error, elapsed time.Duration) {
	c.write(requestPoint(c.device, endpoint, metrics.Outcome(err), elapsed, c.now()))
}

// ApontamentoCompleted implements apontamento.Observer.
func (c *Client) ApontamentoCompleted(operation string, err error, elapsed time.Duration) {
	c.write(apontamentoPoint(c.device, operation, metrics.Outcome(err), elapsed, c.now()))
}

// RecordDisconnect implements transport.DisconnectRecorder.
func (c *Client) RecordDisconnect(string) {
	c.write(connectionPoint(c.device, false, c.now()))
}

// RecordConnect writes a connection-up point.
func (c *Client) RecordConnect() {
	c.write(connectionPoint(c.device, true, c.now()))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.write(write.NewPoint(measurement, tags, fields, c.now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func requestPoint(device, endpoint, outcome string, elapsed time.Duration, at time.Time) *write.Point {
	return write.NewPoint(MeasurementRequest,
		map[string]string{"device": device, "endpoint": endpoint, "outcome": outcome},
		map[string]any{"duration_ms": elapsed.Milliseconds(), "count": 1},
		at)
}

func apontamentoPoint(device, operation, outcome string, elapsed time.Duration, at time.Time) *write.Point {
	return write.NewPoint(MeasurementApontamento,
		map[string]string{"device": device, "operation": operation, "outcome": outcome},
		map[string]any{"duration_ms": elapsed.Milliseconds(), "count": 1},
		at)
}

func connectionPoint(device string, up bool, at time.Time) *write.Point {
	event := "down"
	if up {
		event = "up"
	}
	return write.NewPoint(MeasurementConnection,
		map[string]string{"device": device, "event": event},
		map[string]any{"connected": up},
		at)
}
