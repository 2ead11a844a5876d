package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/exchange", s.handleExchange)
		r.Get("/journal", s.handleListJournal)

		r.Post("/apontamentos", s.handleApontar)
		r.Post("/apontamentos/lote", s.handleApontarLote)
		r.Post("/validar-rota", s.handleValidarRota)
		r.Post("/ordem-transporte", s.handleOrdemTransporte)
	})

	wsPath := s.cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth reports the broker session and login state. It answers 200
// even when degraded so probes can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connected := s.device.IsConnected()
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     s.version,
		"device":      s.device.Device(),
		"connected":   connected,
		"session":     s.device.SessionState().String(),
		"token_valid": s.device.IsTokenValid(),
	})
}

// handleExchange returns the last request, response, error and disconnect.
func (s *Server) handleExchange(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.device.LastExchange())
}
