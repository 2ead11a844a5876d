package protocol

import (
	"encoding/base64"
	"time"
)

// Device state values reported on the state endpoint.
const (
	StateOnline  = "1"
	StateOffline = "0"
)

// StatePayload is published on set/state (connect, disconnect, state query reply).
type StatePayload struct {
	State string `json:"state"`
}

// PongPayload answers a ping from the system.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewPong returns a pong stamped with t in Unix seconds.
func NewPong(t time.Time) PongPayload {
	return PongPayload{Timestamp: t.Unix()}
}

// HTTP-like methods understood by the REST proxy.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// Header names used in REST envelopes.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"

	// ContentTypeForm is what setup.apontamento expects, even though data is JSON.
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// RESTRequest is the "request" part of an MQTT+REST envelope.
type RESTRequest struct {
	Headers map[string]string `json:"headers"`
	Type    string            `json:"type"`
	Params  map[string]string `json:"params,omitempty"`
}

// RESTEnvelope is the payload published on a rest/... set topic.
//
//	{"request": {"headers": {...}, "type": "POST"}, "data": {...}}
type RESTEnvelope struct {
	Request RESTRequest `json:"request"`
	Data    any         `json:"data,omitempty"`
}

// BasicAuthorization builds the Authorization header value for OAuth2 login.
func BasicAuthorization(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// BearerAuthorization builds the Authorization header value for API calls.
func BearerAuthorization(token string) string {
	return "Bearer " + token
}
