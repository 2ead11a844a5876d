package apontamento

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/journal"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// fakeRequester builds each payload with a fixed bearer and answers through a hook.
type fakeRequester struct {
	mu       sync.Mutex
	payloads []protocol.RESTEnvelope
	answer   func(setup protocol.Setup) (protocol.Response, error)
}

func (f *fakeRequester) Do(_ context.Context, endpoint string, build func(bearer string) any, _ time.Duration) (protocol.Response, error) {
	if endpoint != protocol.EndpointSetupApontamento {
		return nil, errors.New("unexpected endpoint " + endpoint)
	}
	env := build("tok").(protocol.RESTEnvelope)
	f.mu.Lock()
	f.payloads = append(f.payloads, env)
	answer := f.answer
	f.mu.Unlock()
	return answer(env.Data.(protocol.Setup))
}

func (f *fakeRequester) sent() []protocol.RESTEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.RESTEnvelope(nil), f.payloads...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, e *journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return r.err
}

type countingObserver struct {
	mu     sync.Mutex
	byOp   map[string]int
	errors int
}

func (o *countingObserver) ApontamentoCompleted(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byOp == nil {
		o.byOp = map[string]int{}
	}
	o.byOp[op]++
	if err != nil {
		o.errors++
	}
}

// echo answers 200/OK and echoes the setup as data, like the CmControl driver does.
func echo(setup protocol.Setup) (protocol.Response, error) {
	raw, err := json.Marshal(map[string]any{"status": "200", "log": "OK", "data": setup})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeResponse(raw)
}

func respond(status, log string) func(protocol.Setup) (protocol.Response, error) {
	return func(protocol.Setup) (protocol.Response, error) {
		return protocol.Response{"status": status, "log": log}, nil
	}
}

func newTestService(fr *fakeRequester, strict bool) *Service {
	return New(fr, Options{Device: "dev-1", Strict: strict, Rules: DefaultRules(), Timeout: time.Second})
}

// ============================================================================
// Rules Tests
// ============================================================================

func TestRules_IsBusinessError(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		log  string
		want bool
	}{
		{"OK", false},
		{"", false},
		{"ERRO1: serial inexistente", true},
		{"erro2: fora de rota", true},
		{"ERRO4: serial ja apontado", false},
		{"Apontamento com FALHA", true},
		{"resultado NOK", true},
		{"Apontamento realizado", false},
	}
	for _, tt := range tests {
		t.Run(tt.log, func(t *testing.T) {
			if got := rules.IsBusinessError(tt.log); got != tt.want {
				t.Errorf("IsBusinessError(%q) = %v, want %v", tt.log, got, tt.want)
			}
		})
	}
}

func TestRules_Check(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name    string
		resp    protocol.Response
		wantErr bool
	}{
		{"ok", protocol.Response{"status": "200", "log": "OK"}, false},
		{"no status", protocol.Response{"log": "OK"}, false},
		{"500", protocol.Response{"status": "500", "log": "internal"}, true},
		{"ok false", protocol.Response{"status": "200", "ok": false}, true},
		{"ok true", protocol.Response{"status": "200", "ok": true}, false},
		{"business log", protocol.Response{"status": "200", "log": "ERRO3: bloqueado"}, true},
		{"already done", protocol.Response{"status": "200", "log": "ERRO4: ja apontado"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rules.Check(protocol.EndpointSetupApontamento, tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, protocol.ErrApontamento) {
				t.Errorf("Check() error = %v, want ErrApontamento", err)
			}
		})
	}
}

// ============================================================================
// Operation Tests
// ============================================================================

func TestApontarSerial_Envelope(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, true)

	if _, err := svc.ApontarSerial(context.Background(), " 00000203030300 "); err != nil {
		t.Fatalf("ApontarSerial() error = %v", err)
	}

	sent := fr.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(sent))
	}
	env := sent[0]
	if env.Request.Type != protocol.MethodPost {
		t.Errorf("method = %q, want POST", env.Request.Type)
	}
	if got := env.Request.Headers[protocol.HeaderAuthorization]; got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	if got := env.Request.Headers[protocol.HeaderContentType]; got != protocol.ContentTypeForm {
		t.Errorf("Content-Type = %q", got)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	want := `{"request":{"headers":{"Authorization":"Bearer tok","Content-Type":"application/x-www-form-urlencoded"},"type":"POST"},` +
		`"data":{"enderecoDispositivo":"dev-1","apontamentos":[{"ok":true,"seriais":[{"codigo":"00000203030300"}]}]}}`
	if string(raw) != want {
		t.Errorf("envelope =\n%s\nwant\n%s", raw, want)
	}
}

func TestApontarSerial_NonStrictReturnsRaw(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, false)

	resp, err := svc.ApontarSerial(context.Background(), "00000203030300")
	if err != nil {
		t.Fatalf("ApontarSerial() error = %v", err)
	}
	data := resp["data"].(map[string]any)
	aps := data["apontamentos"].([]any)
	seriais := aps[0].(map[string]any)["seriais"].([]any)
	if got := seriais[0].(map[string]any)["codigo"]; got != "00000203030300" {
		t.Errorf("apontamentos[0].seriais[0].codigo = %v", got)
	}

	// A rejection comes back as data outside strict mode.
	fr.answer = respond("200", "ERRO1: serial inexistente")
	resp, err = svc.ApontarSerial(context.Background(), "x")
	if err != nil {
		t.Fatalf("non-strict ApontarSerial() error = %v", err)
	}
	if resp.Log() != "ERRO1: serial inexistente" {
		t.Errorf("log = %q", resp.Log())
	}
}

func TestApontarSerial_StrictRejection(t *testing.T) {
	tests := []struct {
		name   string
		answer func(protocol.Setup) (protocol.Response, error)
		status string
	}{
		{"business log", respond("200", "ERRO1: serial inexistente"), "200"},
		{"http status", respond("404", "not found"), "404"},
		{"ok false", func(protocol.Setup) (protocol.Response, error) {
			return protocol.Response{"status": "200", "ok": false, "log": "recusado"}, nil
		}, "200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeRequester{answer: tt.answer}, true)

			resp, err := svc.ApontarSerial(context.Background(), "001")
			if resp != nil {
				t.Errorf("resp = %v, want nil on rejection", resp)
			}
			var rerr *protocol.ResponseError
			if !errors.As(err, &rerr) || !errors.Is(err, protocol.ErrApontamento) {
				t.Fatalf("error = %v, want apontamento ResponseError", err)
			}
			if rerr.Status != tt.status || rerr.Endpoint != protocol.EndpointSetupApontamento {
				t.Errorf("ResponseError = %+v", rerr)
			}
		})
	}
}

func TestApontarSerial_AlreadyDoneIsSuccess(t *testing.T) {
	svc := newTestService(&fakeRequester{answer: respond("200", "ERRO4: serial ja apontado")}, true)
	if _, err := svc.ApontarSerial(context.Background(), "001"); err != nil {
		t.Errorf("ApontarSerial() error = %v, want ERRO4 treated as ok", err)
	}
}

func TestApontarSerial_TransportErrorPassesThrough(t *testing.T) {
	svc := newTestService(&fakeRequester{answer: func(protocol.Setup) (protocol.Response, error) {
		return nil, protocol.ErrTimeout
	}}, true)
	if _, err := svc.ApontarSerial(context.Background(), "001"); !errors.Is(err, protocol.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	fr := &fakeRequester{answer: func(protocol.Setup) (protocol.Response, error) {
		t.Error("nothing should be sent for invalid input")
		return nil, nil
	}}
	svc := newTestService(fr, true)
	ctx := context.Background()

	calls := map[string]func() error{
		"empty serial": func() error { _, err := svc.ApontarSerial(ctx, "  "); return err },
		"rota empty":   func() error { _, err := svc.ValidarRota(ctx, ""); return err },
		"vinculo one":  func() error { _, err := svc.ApontarVinculo(ctx, []string{"001"}); return err },
		"vinculo blank": func() error {
			_, err := svc.ApontarVinculo(ctx, []string{"001", ""})
			return err
		},
		"ordem empty": func() error { _, err := svc.OrdemTransporte(ctx, "", ""); return err },
		"ordem acao":  func() error { _, err := svc.OrdemTransporte(ctx, "OT1", "CANCELAR"); return err },
		"setup empty": func() error {
			_, err := svc.SetupApontamento(ctx, protocol.Setup{})
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, protocol.ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestValidarRota(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, true)

	if _, err := svc.ValidarRota(context.Background(), "001"); err != nil {
		t.Fatalf("ValidarRota() error = %v", err)
	}
	setup := fr.sent()[0].Data.(protocol.Setup)
	if setup.Ciclo != protocol.CicloValidarRota {
		t.Errorf("ciclo = %q", setup.Ciclo)
	}
	if len(setup.Apontamentos[0].Evidencias) != 0 {
		t.Error("validar rota must not carry evidence")
	}
}

func TestApontarVinculo(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, true)

	ev, err := protocol.TextEvidence("foto", "txt", "conteudo", "")
	if err != nil {
		t.Fatalf("TextEvidence() error = %v", err)
	}
	if _, err := svc.ApontarVinculo(context.Background(), []string{"001", "002"}, ev); err != nil {
		t.Fatalf("ApontarVinculo() error = %v", err)
	}
	setup := fr.sent()[0].Data.(protocol.Setup)
	if len(setup.Apontamentos) != 1 {
		t.Fatalf("apontamentos = %d, want 1 linking apontamento", len(setup.Apontamentos))
	}
	ap := setup.Apontamentos[0]
	if len(ap.Seriais) != 2 || ap.Seriais[1].Codigo != "002" || len(ap.Evidencias) != 1 {
		t.Errorf("apontamento = %+v", ap)
	}
}

func TestOrdemTransporte(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, true)
	ctx := context.Background()

	if _, err := svc.OrdemTransporte(ctx, "OT-1", ""); err != nil {
		t.Fatalf("OrdemTransporte() error = %v", err)
	}
	if _, err := svc.OrdemTransporte(ctx, "OT-2", "adicionar_transporte", protocol.SerialApontamento("001")); err != nil {
		t.Fatalf("OrdemTransporte(adicionar) error = %v", err)
	}

	sent := fr.sent()
	first := sent[0].Data.(protocol.Setup)
	if first.OrdemTransporte.Acao != protocol.AcaoApontarTransporte || len(first.Apontamentos) != 0 {
		t.Errorf("first setup = %+v", first)
	}
	second := sent[1].Data.(protocol.Setup)
	if second.OrdemTransporte.Acao != protocol.AcaoAdicionarTransporte || len(second.Apontamentos) != 1 {
		t.Errorf("second setup = %+v", second)
	}
}

func TestSetupApontamento_FillsDevice(t *testing.T) {
	fr := &fakeRequester{answer: echo}
	svc := newTestService(fr, true)

	setup := protocol.Setup{Apontamentos: []protocol.Apontamento{protocol.SerialApontamento("001")}}
	if _, err := svc.SetupApontamento(context.Background(), setup); err != nil {
		t.Fatalf("SetupApontamento() error = %v", err)
	}
	if got := fr.sent()[0].Data.(protocol.Setup).EnderecoDispositivo; got != "dev-1" {
		t.Errorf("enderecoDispositivo = %q, want dev-1", got)
	}
}

// ============================================================================
// Journal and Observer Tests
// ============================================================================

func TestJournalAndObserver(t *testing.T) {
	answers := []func(protocol.Setup) (protocol.Response, error){
		respond("200", "OK"),
		respond("200", "ERRO2: fora de rota"),
	}
	n := 0
	fr := &fakeRequester{answer: func(s protocol.Setup) (protocol.Response, error) {
		a := answers[n]
		n++
		return a(s)
	}}
	svc := newTestService(fr, true)
	rec := &fakeRecorder{}
	obs := &countingObserver{}
	svc.SetRecorder(rec)
	svc.AddObserver(obs)

	if _, err := svc.ApontarSerial(context.Background(), "001"); err != nil {
		t.Fatalf("first ApontarSerial() error = %v", err)
	}
	if _, err := svc.ValidarRota(context.Background(), "002"); err == nil {
		t.Fatal("second call should be rejected")
	}
	// Invalid input never reaches CmControl and is not journaled.
	if _, err := svc.ApontarSerial(context.Background(), ""); err == nil {
		t.Fatal("empty serial should fail")
	}

	if len(rec.entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(rec.entries))
	}
	ok, failed := rec.entries[0], rec.entries[1]
	if ok.Operation != OpApontar || !ok.OK || ok.Serial != "001" || ok.Device != "dev-1" {
		t.Errorf("ok entry = %+v", ok)
	}
	if failed.Operation != OpValidarRota || failed.OK || failed.Ciclo != protocol.CicloValidarRota {
		t.Errorf("failed entry = %+v", failed)
	}
	if failed.Status != "200" || failed.Log != "ERRO2: fora de rota" || failed.Error == "" {
		t.Errorf("failed entry should carry the rejection, got %+v", failed)
	}

	if obs.byOp[OpApontar] != 1 || obs.byOp[OpValidarRota] != 1 || obs.errors != 1 {
		t.Errorf("observer = %+v", obs.byOp)
	}
}

func TestJournalFailureDoesNotFailOperation(t *testing.T) {
	svc := newTestService(&fakeRequester{answer: respond("200", "OK")}, true)
	svc.SetRecorder(&fakeRecorder{err: errors.New("disk full")})

	if _, err := svc.ApontarSerial(context.Background(), "001"); err != nil {
		t.Errorf("ApontarSerial() error = %v, journal errors must not surface", err)
	}
}

// ============================================================================
// Batch Tests
// ============================================================================

func TestApontarLote_OrderedAndIsolated(t *testing.T) {
	fr := &fakeRequester{answer: func(s protocol.Setup) (protocol.Response, error) {
		if s.Apontamentos[0].Seriais[0].Codigo == "002" {
			return nil, protocol.ErrTimeout
		}
		return protocol.Response{"status": "200", "log": "OK " + s.Apontamentos[0].Seriais[0].Codigo}, nil
	}}
	svc := newTestService(fr, true)

	results := svc.ApontarLote(context.Background(), []string{"001", "002", "003"})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"001", "002", "003"} {
		if results[i].Serial != want {
			t.Errorf("results[%d].Serial = %q, want %q", i, results[i].Serial, want)
		}
	}
	if !results[0].OK() || !results[2].OK() {
		t.Errorf("siblings of the timeout should succeed: %+v", results)
	}
	if !errors.Is(results[1].Err, protocol.ErrTimeout) || results[1].Skipped {
		t.Errorf("results[1] = %+v, want timeout", results[1])
	}
	if results[2].Response.Log() != "OK 003" {
		t.Errorf("results[2] log = %q", results[2].Response.Log())
	}

	ok, failed, skipped := Summarize(results)
	if ok != 2 || failed != 1 || skipped != 0 {
		t.Errorf("Summarize() = %d/%d/%d, want 2/1/0", ok, failed, skipped)
	}
}

func TestApontarLote_InvalidSerialIsPerItem(t *testing.T) {
	svc := newTestService(&fakeRequester{answer: respond("200", "OK")}, true)

	results := svc.ApontarLote(context.Background(), []string{"001", "", "003"})
	if !errors.Is(results[1].Err, protocol.ErrInvalidArgument) {
		t.Errorf("results[1].Err = %v", results[1].Err)
	}
	if !results[2].OK() {
		t.Errorf("results[2] = %+v", results[2])
	}
}

func TestApontarLote_StopOnError(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
	}{
		{"strict", true},
		{"non-strict stops on business rejection", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRequester{answer: func(s protocol.Setup) (protocol.Response, error) {
				if s.Apontamentos[0].Seriais[0].Codigo == "002" {
					return protocol.Response{"status": "200", "log": "ERRO1: serial inexistente"}, nil
				}
				return protocol.Response{"status": "200", "log": "OK"}, nil
			}}
			svc := newTestService(fr, tt.strict)

			results := svc.ApontarLoteWith(context.Background(), []string{"001", "002", "003", "004"}, BatchOptions{StopOnError: true})
			if len(results) != 4 {
				t.Fatalf("results = %d, want 4", len(results))
			}
			if len(fr.sent()) != 2 {
				t.Errorf("sent = %d, want 2", len(fr.sent()))
			}
			for _, r := range results[2:] {
				if !r.Skipped || !errors.Is(r.Err, ErrSkipped) {
					t.Errorf("result %q = %+v, want skipped", r.Serial, r)
				}
			}
			if results[1].Response.Log() != "ERRO1: serial inexistente" {
				t.Errorf("failed item should keep its response, got %v", results[1].Response)
			}
		})
	}
}

func TestApontarLote_CancelledSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRequester{answer: func(protocol.Setup) (protocol.Response, error) {
		cancel()
		return protocol.Response{"status": "200", "log": "OK"}, nil
	}}
	svc := newTestService(fr, true)

	results := svc.ApontarLote(ctx, []string{"001", "002", "003"})
	if !results[0].OK() {
		t.Errorf("results[0] = %+v", results[0])
	}
	for _, r := range results[1:] {
		if !r.Skipped || !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result %q = %+v, want skipped with context.Canceled", r.Serial, r)
		}
	}
}

func TestApontarLote_Paced(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	fr := &fakeRequester{answer: func(protocol.Setup) (protocol.Response, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return protocol.Response{"status": "200"}, nil
	}}
	svc := newTestService(fr, true)

	const delay = 30 * time.Millisecond
	svc.ApontarLoteWith(context.Background(), []string{"001", "002", "003"}, BatchOptions{Delay: delay})

	if len(starts) != 3 {
		t.Fatalf("requests = %d, want 3", len(starts))
	}
	// Allow some timer slack below the nominal spacing.
	if gap := starts[2].Sub(starts[0]); gap < 2*delay-10*time.Millisecond {
		t.Errorf("batch spacing = %v, want about %v", gap, 2*delay)
	}
}

func TestApontarLote_Empty(t *testing.T) {
	svc := newTestService(&fakeRequester{}, true)
	if results := svc.ApontarLote(context.Background(), nil); len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}
