// Package api implements the local HTTP API and WebSocket stream of the
// CmControl device client.
//
// This package provides:
//   - Health and status endpoints for the broker session and login state
//   - The last exchange with CmControl, secrets masked
//   - Journal queries over recorded apontamentos
//   - Apontamento, route validation and transport order operations
//   - Prometheus metrics at /metrics
//   - A WebSocket stream of exchange events on the "exchange" channel
//
// # Graceful Degradation
//
// The server starts while the broker is down. Operations then fail with
// 503 and /api/v1/health reports "degraded". Without a journal the journal
// endpoint answers 404.
package api
