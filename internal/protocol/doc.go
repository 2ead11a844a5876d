// Package protocol describes the CmControl Driver v1.00 MQTT convention.
//
// It holds everything both sides of the wire agree on and nothing that
// talks to a broker:
//   - Topic layout for a device address (set/get topic pair per endpoint)
//   - Endpoint names for the mandatory events and the MQTT+REST proxy
//   - Payload shapes (setup.apontamento, evidence, REST envelope, events)
//   - The error taxonomy shared by every layer of the client
//
// # Topic convention
//
//	br/com/cmcontrol/dispositivo/{device}/set/{endpoint}   device -> system
//	br/com/cmcontrol/dispositivo/{device}/get/{endpoint}   system -> device
//
// QoS is always 0 and retained is always false.
//
// # Errors
//
// Errors are sentinels checked with errors.Is. Connection problems always
// match ErrConnection in addition to their refined sentinel:
//
//	if errors.Is(err, protocol.ErrConnection) {
//	    // broker unreachable, DNS, TLS, CONNACK refused or link lost
//	}
//
// Vendor responses that report a failure are returned as *ResponseError,
// which unwraps to ErrLogin, ErrAPI or ErrApontamento.
package protocol
