// Package logging provides structured logging for the CmControl device client.
//
// It wraps log/slog with:
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of attributes named password, token, authorization and similar
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("apontamento sent", "serial", serial)
//
// Redaction is a safety net, not a licence: never pass bearer tokens or
// passwords as log arguments in the first place.
package logging
