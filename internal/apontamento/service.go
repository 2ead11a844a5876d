package apontamento

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/journal"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Operation names, as recorded in the journal and metrics.
const (
	OpSetup           = "setup"
	OpApontar         = "apontar"
	OpVinculo         = "apontar_vinculo"
	OpValidarRota     = "validar_rota"
	OpOrdemTransporte = "ordem_transporte"
)

// recordTimeout bounds a journal write after the request finished.
const recordTimeout = 5 * time.Second

// Requester performs an authenticated request. *session.Manager satisfies it.
type Requester interface {
	Do(ctx context.Context, endpoint string, build func(bearer string) any, timeout time.Duration) (protocol.Response, error)
}

// Recorder stores outcomes. *journal.SQLiteRepository satisfies it.
type Recorder interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Observer is told about every apontamento that reached CmControl.
type Observer interface {
	ApontamentoCompleted(operation string, err error, elapsed time.Duration)
}

// Logger is the logging interface used by the service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configure a Service.
type Options struct {
	// Device is the enderecoDispositivo put in every setup.
	Device string

	// Strict turns business rejections into errors.
	Strict bool
	Rules  Rules

	// Timeout per request; zero uses the correlator's default.
	Timeout time.Duration

	Batch BatchOptions
}

// Service runs apontamento operations for one device.
type Service struct {
	req  Requester
	opts Options
	now  func() time.Time

	mu        sync.RWMutex
	recorder  Recorder
	observers []Observer
	logger    Logger
}

// New creates a Service sending through req.
func New(req Requester, opts Options) *Service {
	return &Service{req: req, opts: opts, now: time.Now}
}

// SetRecorder sets where outcomes are journaled. nil disables the journal.
func (s *Service) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// AddObserver registers an outcome observer.
func (s *Service) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// SetLogger sets the logger.
func (s *Service) SetLogger(l Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// Device returns the configured device address.
func (s *Service) Device() string {
	return s.opts.Device
}

// SetupApontamento sends a caller-built setup. An empty enderecoDispositivo
// is filled with the service's device.
func (s *Service) SetupApontamento(ctx context.Context, setup protocol.Setup) (protocol.Response, error) {
	return s.submit(ctx, OpSetup, setup)
}

// ApontarSerial checks in one serial with optional evidence.
func (s *Service) ApontarSerial(ctx context.Context, serial string, evidencias ...protocol.Evidence) (protocol.Response, error) {
	setup, err := NewSerialSetup(s.opts.Device, serial, evidencias...)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, OpApontar, setup)
}

// ApontarVinculo links several serials in a single apontamento.
func (s *Service) ApontarVinculo(ctx context.Context, seriais []string, evidencias ...protocol.Evidence) (protocol.Response, error) {
	setup, err := NewVinculoSetup(s.opts.Device, seriais, evidencias...)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, OpVinculo, setup)
}

// ValidarRota asks CmControl whether serial is on its expected route.
func (s *Service) ValidarRota(ctx context.Context, serial string) (protocol.Response, error) {
	setup, err := NewValidarRotaSetup(s.opts.Device, serial)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, OpValidarRota, setup)
}

// OrdemTransporte applies acao to the transport order codigo, optionally with apontamentos.
func (s *Service) OrdemTransporte(ctx context.Context, codigo, acao string, apontamentos ...protocol.Apontamento) (protocol.Response, error) {
	setup, err := NewOrdemTransporteSetup(s.opts.Device, codigo, acao, apontamentos...)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, OpOrdemTransporte, setup)
}

func (s *Service) submit(ctx context.Context, op string, setup protocol.Setup) (protocol.Response, error) {
	if strings.TrimSpace(setup.EnderecoDispositivo) == "" {
		setup.EnderecoDispositivo = s.opts.Device
	}
	if err := setup.Validate(); err != nil {
		return nil, err
	}

	start := s.now()
	resp, err := s.req.Do(ctx, protocol.EndpointSetupApontamento, func(bearer string) any {
		return Envelope(bearer, setup)
	}, s.opts.Timeout)
	if err == nil && s.opts.Strict {
		err = s.opts.Rules.Check(protocol.EndpointSetupApontamento, resp)
	}
	elapsed := s.now().Sub(start)

	s.record(ctx, op, setup, resp, err, elapsed)
	s.notify(op, err, elapsed)

	if err != nil {
		s.logWarn("apontamento failed", "operation", op, "serial", serialsOf(setup), "error", err)
		return nil, err
	}
	s.logInfo("apontamento sent", "operation", op, "serial", serialsOf(setup), "status", resp.Status(), "log", resp.Log())
	return resp, nil
}

func (s *Service) record(ctx context.Context, op string, setup protocol.Setup, resp protocol.Response, err error, elapsed time.Duration) {
	s.mu.RLock()
	rec := s.recorder
	s.mu.RUnlock()
	if rec == nil {
		return
	}

	e := &journal.Entry{
		Operation: op,
		Device:    setup.EnderecoDispositivo,
		Serial:    serialsOf(setup),
		Ciclo:     setup.Ciclo,
		OK:        err == nil,
		Duration:  elapsed,
	}
	if setup.OrdemTransporte != nil {
		e.Ordem = setup.OrdemTransporte.Codigo
	}
	if resp == nil {
		var rerr *protocol.ResponseError
		if errors.As(err, &rerr) {
			resp = rerr.Raw
		}
	}
	if resp != nil {
		e.Status = resp.Status()
		e.Log = resp.Log()
	}
	if err != nil {
		e.Error = err.Error()
	}

	// Journal even when the caller's context is already done.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if rerr := rec.Record(rctx, e); rerr != nil {
		s.logWarn("journal write failed", "operation", op, "error", rerr)
	}
}

func (s *Service) notify(op string, err error, elapsed time.Duration) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		o.ApontamentoCompleted(op, err, elapsed)
	}
}

func (s *Service) logInfo(msg string, args ...any) {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l != nil {
		l.Info(msg, args...)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}
