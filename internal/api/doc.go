// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic discovery service.
//
// This package provides:
//   - REST endpoints for the discovery inbox, known devices, ledger records and scans
//   - Audit trail of operator actions (approve, ignore, device edits, scans)
//   - WebSocket hub that streams discovery events as they happen
//   - Prometheus metrics over the engine counters
//   - Middleware stack (request ID, logging, recovery, CORS, JWT)
//
// # Security
//
// Tokens are issued by Gray Logic Core and verified here with the shared
// HS256 secret. Browsers cannot set headers on a WebSocket upgrade, so the
// WebSocket endpoint also accepts the token as an access_token query parameter.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. Health reports them as
// disabled and every endpoint keeps working. Without an audit repository
// actions are not recorded and /api/v1/audit returns 503.
package api
