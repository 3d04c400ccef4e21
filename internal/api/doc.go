// Package api implements the HTTP REST API and WebSocket server of the bridge.
//
// This package provides:
//   - REST endpoints to read objects and request value changes
//   - An endpoint to trigger an immediate sync cycle
//   - Health, system metrics and Prometheus endpoints
//   - A WebSocket hub relaying object state changes in real time
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server reads from the object registry. A PUT of an object state
// stores an unacknowledged value; the bridge picks it up through its
// registry listener and writes it to the device. Every state change,
// requested or confirmed, is broadcast to WebSocket clients subscribed to
// "object.state_changed".
//
//	GET  /api/v1/health
//	GET  /api/v1/objects?prefix=
//	GET  /api/v1/objects/{id}
//	PUT  /api/v1/objects/{id}/state   {"value": 21.5}
//	POST /api/v1/sync
//	GET  /api/v1/system/metrics
//	GET  /api/v1/ws
//	GET  /metrics
//
// # Graceful Degradation
//
// The server operates without MQTT, InfluxDB or a running bridge; only
// the affected endpoints report the component as unavailable.
package api
