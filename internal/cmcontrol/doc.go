// Package cmcontrol is the device-side client for CmControl over MQTT.
//
// A Client wires the layers together:
//
//	broker -> transport.Adapter -> dispatcher -> correlator <- session <- apontamento
//	                                   |
//	                                   +-> ping/state auto-replies
//
// The dispatcher answers ping and state as soon as they arrive, whatever
// requests are outstanding. Everything else resolves the oldest waiting
// request for the same endpoint. A lost connection fails every waiting
// request with protocol.ErrDisconnected.
//
// Usage:
//
//	client, err := cmcontrol.New(cfg, cmcontrol.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	resp, err := client.ApontarSerial(ctx, "00000203030300")
package cmcontrol
