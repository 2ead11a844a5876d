package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Response carries the CmControl answer behind a rejection.
	Response protocol.Response `json:"response,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "broker_unavailable"
	ErrCodeTimeout     = "timeout"
	ErrCodeLogin       = "login_failed"
	ErrCodeRejected    = "rejected"
	ErrCodeUpstream    = "upstream_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeClientError maps a client error to an HTTP status.
//
//	ErrInvalidArgument                 400
//	ErrApontamento                     422 with the CmControl response
//	ErrNotConnected, ErrDisconnected   503
//	ErrTimeout                         504
//	ErrLogin, ErrAPI, others           502
func writeClientError(w http.ResponseWriter, err error) {
	status, code := http.StatusBadGateway, ErrCodeUpstream
	switch {
	case errors.Is(err, protocol.ErrInvalidArgument):
		status, code = http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, protocol.ErrApontamento):
		status, code = http.StatusUnprocessableEntity, ErrCodeRejected
	case errors.Is(err, protocol.ErrNotConnected), errors.Is(err, protocol.ErrDisconnected):
		status, code = http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, protocol.ErrTimeout):
		status, code = http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, protocol.ErrLogin):
		code = ErrCodeLogin
	}

	body := Error{Status: status, Code: code, Message: err.Error()}
	var re *protocol.ResponseError
	if errors.As(err, &re) {
		body.Response = re.Raw
	}
	writeJSON(w, status, body)
}
