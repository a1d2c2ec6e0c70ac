// Package api implements the HTTP REST API and WebSocket server for Tailgate Core.
//
// This package provides:
//   - REST endpoints for tailgate state, vehicle sensors and faults
//   - Action requests gated by the controller's safety checks
//   - Config library CRUD, import/export and engine control
//   - Sequence orchestration, parallel batches and built-in scenarios
//   - WebSocket hub relaying component events to subscribed clients
//   - Prometheus scrape endpoint and a JSON system summary
//
// # Architecture
//
// The API server is an outer surface over the control core. Every motion
// request goes through controller.Controller, so HTTP clients see the same
// safety gate as MQTT commands. Long-running work (config executions and
// sequences) runs in the background on the server's context and answers
// 202 Accepted; progress is pushed over WebSocket.
//
// # Graceful Degradation
//
// Only the state machine, controller, executor and vehicle store are
// required. Routes for a component that was not wired answer 503.
package api
