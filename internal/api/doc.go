// Package api implements the gateway's local HTTP API and WebSocket event
// stream.
//
// This package provides:
//   - REST endpoints to log in to the cloud, scan, connect, register and
//     update things
//   - WebSocket hub broadcasting bridged values (thing.data) and scan
//     results (scan.result)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     rate limit)
//   - Prometheus metrics on /metrics and a JSON snapshot on /api/v1/metrics
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Gateway errors are mapped to HTTP statuses in one place, errorStatus:
// a busy radio is 409, an invalid identifier 400, a non-native thing 422,
// missing or rejected credentials 401 and a cancelled operation 408.
//
// The API has no user authentication of its own. It is meant to be bound
// to a local interface.
package api
