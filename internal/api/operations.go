package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/cmcontrol-device/internal/apontamento"
	"github.com/nerrad567/cmcontrol-device/internal/journal"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// ApontarRequest is the body of POST /apontamentos. A single serial checks
// in one part; several serials are linked in one apontamento.
type ApontarRequest struct {
	Serial     string              `json:"serial,omitempty"`
	Seriais    []string            `json:"seriais,omitempty"`
	Evidencias []protocol.Evidence `json:"evidencias,omitempty"`
}

// LoteRequest is the body of POST /apontamentos/lote.
type LoteRequest struct {
	Seriais []string `json:"seriais"`
}

// LoteItem is one serial's outcome in a batch response.
type LoteItem struct {
	Serial   string            `json:"serial"`
	OK       bool              `json:"ok"`
	Skipped  bool              `json:"skipped,omitempty"`
	Error    string            `json:"error,omitempty"`
	Response protocol.Response `json:"response,omitempty"`
}

// LoteResponse summarises a batch.
type LoteResponse struct {
	Results []LoteItem `json:"results"`
	OK      int        `json:"ok"`
	Failed  int        `json:"failed"`
	Skipped int        `json:"skipped"`
}

// SerialRequest is the body of POST /validar-rota.
type SerialRequest struct {
	Serial string `json:"serial"`
}

// OrdemTransporteRequest is the body of POST /ordem-transporte.
type OrdemTransporteRequest struct {
	Codigo       string                 `json:"codigo"`
	Acao         string                 `json:"acao,omitempty"`
	Apontamentos []protocol.Apontamento `json:"apontamentos,omitempty"`
}

// handleApontar checks in one serial or links several.
func (s *Server) handleApontar(w http.ResponseWriter, r *http.Request) {
	var req ApontarRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		resp protocol.Response
		err  error
	)
	switch {
	case req.Serial != "" && len(req.Seriais) > 0:
		writeBadRequest(w, "send either serial or seriais, not both")
		return
	case len(req.Seriais) > 0:
		resp, err = s.device.ApontarVinculo(r.Context(), req.Seriais, req.Evidencias...)
	default:
		resp, err = s.device.ApontarSerial(r.Context(), req.Serial, req.Evidencias...)
	}
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleApontarLote checks in each serial with its own request. Per-serial
// failures are reported in the body; the status is 200 once the batch ran.
func (s *Server) handleApontarLote(w http.ResponseWriter, r *http.Request) {
	var req LoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Seriais) == 0 {
		writeBadRequest(w, "seriais is required")
		return
	}

	results := s.device.ApontarLote(r.Context(), req.Seriais)
	out := LoteResponse{Results: make([]LoteItem, 0, len(results))}
	out.OK, out.Failed, out.Skipped = apontamento.Summarize(results)
	for _, res := range results {
		item := LoteItem{
			Serial:   res.Serial,
			OK:       res.OK(),
			Skipped:  res.Skipped,
			Response: res.Response,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out.Results = append(out.Results, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleValidarRota validates the route of a serial.
func (s *Server) handleValidarRota(w http.ResponseWriter, r *http.Request) {
	var req SerialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.device.ValidarRota(r.Context(), req.Serial)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOrdemTransporte applies an action to a transport order.
func (s *Server) handleOrdemTransporte(w http.ResponseWriter, r *http.Request) {
	var req OrdemTransporteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.device.OrdemTransporte(r.Context(), req.Codigo, req.Acao, req.Apontamentos...)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListJournal pages through recorded apontamentos.
//
// Query parameters: operation, serial, only_fail, limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Operation: q.Get("operation"),
		Serial:    q.Get("serial"),
	}
	var err error
	if v := q.Get("only_fail"); v != "" {
		if filter.OnlyFail, err = strconv.ParseBool(v); err != nil {
			writeBadRequest(w, "only_fail must be a boolean")
			return
		}
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
