// Package influxdb writes CmControl exchange history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with a non-blocking,
// batched write API. The Client is an observer of the correlator, the
// apontamento service and the transport, and turns what they report into
// three measurements, all tagged with the device address:
//
//	cmcontrol_request      endpoint, outcome  -> duration_ms, count
//	cmcontrol_apontamento  operation, outcome -> duration_ms, count
//	cmcontrol_connection   event              -> connected
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.Address)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Writes made after Close or before Connect are dropped silently.
package influxdb
