// Package mqtt provides MQTT broker connectivity for the CmControl device client.
//
// This package manages:
//   - Connection to the broker with TLS and credentials
//   - Ordered delivery of inbound messages to a single handler goroutine
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and a graceful offline announcement
//   - Topic and filter validation helpers
//
// # Security Considerations
//
//   - Use TLS whenever the broker is reached over an untrusted network
//   - tls.insecure disables certificate verification and is for lab brokers only
//   - Credentials come from the CmControl MQTT settings screen
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Options{
//	    ClientID: "device001-1a2b3c4d",
//	    Will:     &mqtt.Message{Topic: stateTopic, Payload: []byte(`{"state":"0"}`)},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(".../get/+", 0, func(topic string, payload []byte) error {
//	    return dispatcher.Handle(topic, payload)
//	})
package mqtt
