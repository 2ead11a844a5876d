// Package diagnostics keeps the last exchange with CmControl for troubleshooting.
//
// The Recorder observes the correlator and the transport. It holds the last
// request, the last response, the last error and the last disconnect reason,
// with credentials masked, and fans every event out to listeners such as the
// websocket stream.
package diagnostics

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Event kinds.
const (
	KindRequest    = "request"
	KindResponse   = "response"
	KindError      = "error"
	KindDisconnect = "disconnect"
)

// previewLimit caps long strings such as base64 evidence content.
const previewLimit = 96

// masked replaces secret values.
const masked = "***"

// Event is one observed step of an exchange.
type Event struct {
	ID       uint64         `json:"id,omitempty"`
	Kind     string         `json:"kind"`
	Endpoint string         `json:"endpoint,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    string         `json:"error,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Elapsed  time.Duration  `json:"elapsed_ns,omitempty"`
	At       time.Time      `json:"at"`
}

// Exchange is a snapshot of the last request and its outcome. Request,
// Response and Error always belong to the same exchange.
type Exchange struct {
	Request          *Event    `json:"request,omitempty"`
	Response         *Event    `json:"response,omitempty"`
	Error            *Event    `json:"error,omitempty"`
	DisconnectReason string    `json:"disconnect_reason,omitempty"`
	DisconnectedAt   time.Time `json:"disconnected_at,omitzero"`
}

// Recorder implements correlator.Observer and transport.DisconnectRecorder.
// It is safe for concurrent use.
type Recorder struct {
	now func() time.Time

	mu     sync.RWMutex
	last   Exchange
	lastID uint64

	listenerMu sync.RWMutex
	listeners  []func(Event)
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// AddListener registers fn for every event. fn runs on the caller's
// goroutine and must not block.
func (r *Recorder) AddListener(fn func(Event)) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenerMu.Unlock()
}

// RequestSent records an outgoing request. It starts a new exchange and
// drops the outcome of the previous one.
func (r *Recorder) RequestSent(id uint64, endpoint string, payload any) {
	ev := Event{ID: id, Kind: KindRequest, Endpoint: endpoint, Payload: sanitize(payload), At: r.now()}
	r.mu.Lock()
	if id >= r.lastID {
		r.lastID = id
		r.last.Request = &ev
		r.last.Response = nil
		r.last.Error = nil
	}
	r.mu.Unlock()
	r.emit(ev)
}

// ResponseReceived records the response of exchange id. Responses of
// exchanges older than the recorded one only reach listeners.
func (r *Recorder) ResponseReceived(id uint64, endpoint string, resp protocol.Response, elapsed time.Duration) {
	ev := Event{ID: id, Kind: KindResponse, Endpoint: endpoint, Payload: sanitize(map[string]any(resp)), Elapsed: elapsed, At: r.now()}
	r.mu.Lock()
	if id == r.lastID {
		r.last.Response = &ev
	}
	r.mu.Unlock()
	r.emit(ev)
}

// RequestFailed records a request that ended without a response. A newer
// request that failed before it was sent replaces the record with no
// request attached.
func (r *Recorder) RequestFailed(id uint64, endpoint string, err error, elapsed time.Duration) {
	ev := Event{ID: id, Kind: KindError, Endpoint: endpoint, Elapsed: elapsed, At: r.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	r.mu.Lock()
	switch {
	case id == r.lastID:
		r.last.Error = &ev
	case id > r.lastID:
		r.lastID = id
		r.last.Request = nil
		r.last.Response = nil
		r.last.Error = &ev
	}
	r.mu.Unlock()
	r.emit(ev)
}

// RecordDisconnect records why the broker connection ended.
func (r *Recorder) RecordDisconnect(reason string) {
	ev := Event{Kind: KindDisconnect, Reason: reason, At: r.now()}
	r.mu.Lock()
	r.last.DisconnectReason = reason
	r.last.DisconnectedAt = ev.At
	r.mu.Unlock()
	r.emit(ev)
}

// Snapshot returns a deep copy of the last exchange.
func (r *Recorder) Snapshot() Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Exchange{
		Request:          r.last.Request.clone(),
		Response:         r.last.Response.clone(),
		Error:            r.last.Error.clone(),
		DisconnectReason: r.last.DisconnectReason,
		DisconnectedAt:   r.last.DisconnectedAt,
	}
}

func (r *Recorder) emit(ev Event) {
	r.listenerMu.RLock()
	listeners := r.listeners
	r.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(*ev.clone())
	}
}

func (e *Event) clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload, _ = deepCopy(e.Payload).(map[string]any)
	}
	return &c
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// sanitize turns payload into generic JSON with secrets masked and long
// strings shortened.
func sanitize(payload any) map[string]any {
	if payload == nil {
		return nil
	}
	var generic any
	switch p := payload.(type) {
	case map[string]any:
		generic = deepCopy(p)
	default:
		raw, ok := payload.([]byte)
		if !ok {
			var err error
			if raw, err = json.Marshal(payload); err != nil {
				return map[string]any{"unencodable": err.Error()}
			}
		}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return map[string]any{"raw": preview(string(raw))}
		}
	}
	red := redact("", generic)
	if m, ok := red.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": red}
}

func redact(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = redact(k, val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = redact(key, val)
		}
		return t
	case string:
		return redactString(key, t)
	default:
		return v
	}
}

func redactString(key, value string) string {
	switch strings.ToLower(key) {
	case "authorization":
		// Keep the scheme so Basic and Bearer are still distinguishable.
		if scheme, _, found := strings.Cut(value, " "); found {
			return scheme + " " + masked
		}
		return masked
	case "access_token", "refresh_token", "token", "password", "senha":
		return masked
	}
	return preview(value)
}

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "...(" + strconv.Itoa(len(s)) + " bytes)"
}
