package protocol

import (
	"fmt"
	"strings"
)

// TopicRoot is the fixed prefix of every CmControl device topic.
const TopicRoot = "br/com/cmcontrol/dispositivo"

// Topic directions relative to the device.
const (
	// DirectionSet carries device -> system messages (requests and event replies).
	DirectionSet = "set"

	// DirectionGet carries system -> device messages (responses and events).
	DirectionGet = "get"
)

// Endpoint names used by the client.
const (
	EndpointPing  = "ping"
	EndpointPong  = "pong"
	EndpointState = "state"

	EndpointLogin            = "rest/oauth2/login"
	EndpointLogout           = "rest/oauth2/logout"
	EndpointSetupApontamento = "rest/api/v1/setup.apontamento"
)

// restPrefix marks endpoints tunneled through the MQTT+REST proxy.
const restPrefix = "rest/"

// IsREST reports whether endpoint is addressed under the REST proxy namespace.
func IsREST(endpoint string) bool {
	return strings.HasPrefix(endpoint, restPrefix)
}

// Topics builds the topic pair for one device address.
//
//	topics := protocol.Topics{Device: "device001"}
//	topics.Set("pong")  // br/com/cmcontrol/dispositivo/device001/set/pong
//	topics.Get("ping")  // br/com/cmcontrol/dispositivo/device001/get/ping
type Topics struct {
	Device string
}

// Base returns the topic prefix shared by all of the device's topics.
func (t Topics) Base() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.Device)
}

// Set returns the outbound topic for endpoint.
func (t Topics) Set(endpoint string) string {
	return fmt.Sprintf("%s/%s/%s", t.Base(), DirectionSet, endpoint)
}

// Get returns the inbound topic for endpoint.
func (t Topics) Get(endpoint string) string {
	return fmt.Sprintf("%s/%s/%s", t.Base(), DirectionGet, endpoint)
}

// Inbound returns the subscriptions that cover every inbound endpoint.
//
// The driver documentation names ".../get/+", but '+' matches a single
// level and REST endpoints contain slashes, so ".../get/rest/#" is added.
func (t Topics) Inbound() []string {
	return []string{
		t.Get("+"),
		t.Get(restPrefix + "#"),
	}
}

// EndpointOf extracts the endpoint from an inbound topic of this device.
// It returns false for topics that belong to another device or direction.
func (t Topics) EndpointOf(topic string) (string, bool) {
	prefix := t.Base() + "/" + DirectionGet + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	endpoint := strings.TrimPrefix(topic, prefix)
	if endpoint == "" {
		return "", false
	}
	return endpoint, true
}
