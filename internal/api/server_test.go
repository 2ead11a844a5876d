package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/cmcontrol-device/internal/apontamento"
	"github.com/nerrad567/cmcontrol-device/internal/diagnostics"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/database"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/logging"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/metrics"
	"github.com/nerrad567/cmcontrol-device/internal/journal"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
	"github.com/nerrad567/cmcontrol-device/internal/session"
)

// fakeDevice stands in for the CmControl client.
type fakeDevice struct {
	mu        sync.Mutex
	connected bool
	err       error
	resp      protocol.Response
	calls     []string
	listeners []func(diagnostics.Event)
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		connected: true,
		resp:      protocol.Response{"status": "200", "log": "OK"},
	}
}

func (f *fakeDevice) record(call string) (protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeDevice) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeDevice) Device() string { return "device001" }

func (f *fakeDevice) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDevice) SessionState() session.State { return session.LoggedIn }
func (f *fakeDevice) IsTokenValid() bool          { return true }
func (f *fakeDevice) PendingRequests() int        { return 0 }

func (f *fakeDevice) LastExchange() diagnostics.Exchange {
	return diagnostics.Exchange{
		Request: &diagnostics.Event{Kind: diagnostics.KindRequest, Endpoint: protocol.EndpointSetupApontamento},
	}
}

func (f *fakeDevice) ApontarSerial(_ context.Context, serial string, _ ...protocol.Evidence) (protocol.Response, error) {
	return f.record("serial:" + serial)
}

func (f *fakeDevice) ApontarVinculo(_ context.Context, seriais []string, _ ...protocol.Evidence) (protocol.Response, error) {
	return f.record("vinculo:" + strings.Join(seriais, ","))
}

func (f *fakeDevice) ApontarLote(_ context.Context, seriais []string) []apontamento.BatchResult {
	out := make([]apontamento.BatchResult, 0, len(seriais))
	for _, s := range seriais {
		r := apontamento.BatchResult{Serial: s, Response: protocol.Response{"status": "200"}}
		if s == "bad" {
			r.Err = fmt.Errorf("%w: rejected", protocol.ErrApontamento)
		}
		out = append(out, r)
	}
	return out
}

func (f *fakeDevice) ValidarRota(_ context.Context, serial string) (protocol.Response, error) {
	return f.record("rota:" + serial)
}

func (f *fakeDevice) OrdemTransporte(_ context.Context, codigo, acao string, _ ...protocol.Apontamento) (protocol.Response, error) {
	return f.record("ordem:" + codigo + ":" + acao)
}

func (f *fakeDevice) AddListener(fn func(diagnostics.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeDevice) emit(ev diagnostics.Event) {
	f.mu.Lock()
	listeners := f.listeners
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// testServer creates a Server around a fake device with no journal.
func testServer(t *testing.T, opts ...func(*Deps)) (*Server, *fakeDevice) {
	t.Helper()

	dev := newFakeDevice()
	deps := Deps{
		Config: config.HTTPConfig{
			Host:     "127.0.0.1",
			Timeouts: config.HTTPTimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:   logging.Discard(),
		Device:   dev,
		Events:   dev,
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, dev
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, w.Body.String())
	}
	return v
}

// ─── Construction Tests ────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Device: newFakeDevice()}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without device succeeded")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["device"] != "device001" || body["session"] != "logged_in" {
		t.Errorf("health body = %v", body)
	}

	dev.mu.Lock()
	dev.connected = false
	dev.mu.Unlock()

	body = decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/health", ""))
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded while disconnected", body["status"])
	}
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	st := decode[SystemStatus](t, w)
	if st.Client.Device != "device001" || !st.Client.Connected {
		t.Errorf("client = %+v", st.Client)
	}
	if st.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines = 0")
	}
	if st.Database != nil {
		t.Errorf("database = %+v, want omitted without a journal", st.Database)
	}
}

func TestIsPoll(t *testing.T) {
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodGet, "/metrics", true},
		{http.MethodGet, "/api/v1/health", true},
		{http.MethodGet, "/api/v1/status", true},
		{http.MethodGet, "/api/v1/journal", false},
		{http.MethodPost, "/api/v1/apontamentos", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		if got := isPoll(r); got != tt.want {
			t.Errorf("isPoll(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestExchange(t *testing.T) {
	srv, _ := testServer(t)
	ex := decode[diagnostics.Exchange](t, do(t, srv, http.MethodGet, "/api/v1/exchange", ""))
	if ex.Request == nil || ex.Request.Endpoint != protocol.EndpointSetupApontamento {
		t.Errorf("exchange request = %+v", ex.Request)
	}
}

// ─── Metrics Endpoint Tests ────────────────────────────────────────

func TestMetrics_Prometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetConnected(true)
	srv, _ := testServer(t, func(d *Deps) { d.Gatherer = reg })

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cmcontrol_connected 1") {
		t.Errorf("metrics body missing cmcontrol_connected:\n%s", w.Body.String())
	}
}

// ─── Operation Tests ───────────────────────────────────────────────

func TestApontar_Serial(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/apontamentos", `{"serial":"00000203030300"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if got := dev.lastCall(); got != "serial:00000203030300" {
		t.Errorf("call = %q", got)
	}
	if body := decode[map[string]any](t, w); body["log"] != "OK" {
		t.Errorf("body = %v, want the CmControl response", body)
	}
}

func TestApontar_Vinculo(t *testing.T) {
	srv, dev := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/apontamentos", `{"seriais":["A","B"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := dev.lastCall(); got != "vinculo:A,B" {
		t.Errorf("call = %q", got)
	}
}

func TestApontar_BadRequests(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown field", `{"seriall":"x"}`},
		{"serial and seriais", `{"serial":"x","seriais":["a","b"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, http.MethodPost, "/api/v1/apontamentos", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestApontar_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"invalid", fmt.Errorf("%w: serial is required", protocol.ErrInvalidArgument), http.StatusBadRequest, ErrCodeValidation},
		{"not connected", protocol.ConnectionError(protocol.ErrNotConnected, nil), http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"disconnected", protocol.ConnectionError(protocol.ErrDisconnected, errors.New("eof")), http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"timeout", protocol.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"login", fmt.Errorf("%w: bad credentials", protocol.ErrLogin), http.StatusBadGateway, ErrCodeLogin},
		{"other", errors.New("boom"), http.StatusBadGateway, ErrCodeUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dev := testServer(t)
			dev.err = tt.err

			w := do(t, srv, http.MethodPost, "/api/v1/apontamentos", `{"serial":"1"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body := decode[Error](t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestApontar_RejectionCarriesResponse(t *testing.T) {
	srv, dev := testServer(t)
	dev.err = &protocol.ResponseError{
		Kind:     protocol.ErrApontamento,
		Endpoint: protocol.EndpointSetupApontamento,
		Status:   "200",
		Log:      "ERRO: rota",
		Raw:      protocol.Response{"status": "200", "log": "ERRO: rota"},
	}

	w := do(t, srv, http.MethodPost, "/api/v1/apontamentos", `{"serial":"1"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	body := decode[Error](t, w)
	if body.Response.Log() != "ERRO: rota" {
		t.Errorf("response = %v, want the CmControl answer", body.Response)
	}
}

func TestApontarLote(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/apontamentos/lote", `{"seriais":["a","bad","c"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	out := decode[LoteResponse](t, w)
	if out.OK != 2 || out.Failed != 1 || out.Skipped != 0 {
		t.Errorf("summary = %d/%d/%d, want 2/1/0", out.OK, out.Failed, out.Skipped)
	}
	if len(out.Results) != 3 || out.Results[1].OK || out.Results[1].Error == "" {
		t.Errorf("results = %+v", out.Results)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/apontamentos/lote", `{"seriais":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty lote status = %d, want 400", w.Code)
	}
}

func TestValidarRota(t *testing.T) {
	srv, dev := testServer(t)
	if w := do(t, srv, http.MethodPost, "/api/v1/validar-rota", `{"serial":"S1"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := dev.lastCall(); got != "rota:S1" {
		t.Errorf("call = %q", got)
	}
}

func TestOrdemTransporte(t *testing.T) {
	srv, dev := testServer(t)
	body := `{"codigo":"OT-1","acao":"ADICIONAR_TRANSPORTE"}`
	if w := do(t, srv, http.MethodPost, "/api/v1/ordem-transporte", body); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := dev.lastCall(); got != "ordem:OT-1:ADICIONAR_TRANSPORTE" {
		t.Errorf("call = %q", got)
	}
}

// ─── Journal Endpoint Tests ────────────────────────────────────────

func TestJournal_Disabled(t *testing.T) {
	srv, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/journal", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestJournal_List(t *testing.T) {
	ctx := context.Background()
	db, repo, err := journal.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	if err != nil {
		t.Fatalf("journal.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, e := range []journal.Entry{
		{Operation: apontamento.OpApontar, Device: "device001", Serial: "S1", OK: true},
		{Operation: apontamento.OpApontar, Device: "device001", Serial: "S2", Error: "rejected"},
		{Operation: apontamento.OpValidarRota, Device: "device001", Serial: "S1", OK: true},
	} {
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	srv, _ := testServer(t, func(d *Deps) {
		d.Journal = repo
		d.DB = db
	})

	res := decode[journal.ListResult](t, do(t, srv, http.MethodGet, "/api/v1/journal?serial=S1", ""))
	if res.Total != 2 {
		t.Errorf("serial=S1 total = %d, want 2", res.Total)
	}

	res = decode[journal.ListResult](t, do(t, srv, http.MethodGet, "/api/v1/journal?only_fail=true", ""))
	if res.Total != 1 || res.Entries[0].Serial != "S2" {
		t.Errorf("only_fail entries = %+v", res.Entries)
	}

	res = decode[journal.ListResult](t, do(t, srv, http.MethodGet, "/api/v1/journal?operation=validar_rota&limit=1", ""))
	if res.Total != 1 || res.Limit != 1 {
		t.Errorf("operation filter = %+v", res)
	}

	for _, q := range []string{"only_fail=maybe", "limit=-1", "offset=x"} {
		if w := do(t, srv, http.MethodGet, "/api/v1/journal?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	st := decode[SystemStatus](t, do(t, srv, http.MethodGet, "/api/v1/status", ""))
	if st.Database == nil || st.Database.Path == "" {
		t.Errorf("status database = %+v, want pool stats", st.Database)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_HealthCheck(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error: %v", err)
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

// wsServer serves the router on a real listener and runs the hub.
func wsServer(t *testing.T) (*Server, *fakeDevice, string) {
	t.Helper()
	srv, dev := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return srv, dev, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_ExchangeStream(t *testing.T) {
	srv, dev, url := wsServer(t)
	ws := dialWS(t, url)
	subscribe(t, ws, ExchangeChannel)

	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	dev.emit(diagnostics.Event{Kind: diagnostics.KindResponse, Endpoint: protocol.EndpointLogin})

	var msg struct {
		Type      string            `json:"type"`
		EventType string            `json:"event_type"`
		Payload   diagnostics.Event `json:"payload"`
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != ExchangeChannel {
		t.Errorf("message = %+v, want exchange event", msg)
	}
	if msg.Payload.Endpoint != protocol.EndpointLogin || msg.Payload.Kind != diagnostics.KindResponse {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestWebSocket_OriginCheck(t *testing.T) {
	_, _, url := wsServer(t)
	host := strings.TrimSuffix(strings.TrimPrefix(url, "ws://"), "/ws")

	ws, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		ws.Close()
		t.Fatal("cross-origin handshake accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-origin handshake response = %v, want 403", resp)
	}

	ws, _, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://" + host}})
	if err != nil {
		t.Fatalf("same-origin handshake failed: %v", err)
	}
	ws.Close()
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	_, _, url := wsServer(t)
	ws := dialWS(t, url)
	subscribe(t, ws, ExchangeChannel, "other")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"other"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, _, url := wsServer(t)
	ws := dialWS(t, url)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	_, _, url := wsServer(t)
	ws := dialWS(t, url)

	for _, raw := range []string{"not json", `{"type":"unknown_type","id":"x"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %q: %v", raw, err)
		}
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read error response: %v", err)
		}
		if resp.Type != WSTypeError {
			t.Errorf("%q: response type = %s, want error", raw, resp.Type)
		}
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{"a": {}},
	}
	hub.Register(client)

	hub.Broadcast("b", "ignored")
	select {
	case msg := <-client.send:
		t.Errorf("unexpected message %s", msg)
	default:
	}

	hub.Broadcast("a", "hello")
	select {
	case <-client.send:
	default:
		t.Error("subscribed client got nothing")
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
