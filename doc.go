// Package v2xstreams ingests the V2X message stream of an ITS roadside or
// vehicle receiver and keeps the live picture of the road: vehicles (CAM),
// hazards (DENM), intersection topology (MAPEM), signal phases (SPATEM)
// and signal priority traffic (SREM, SSEM).
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│ input/tcp                    │  connection manager, reconnect schedule,
//	│                              │  line framing of the capture array
//	└──────────────────────────────┘
//	           ↓ documents
//	┌──────────────────────────────┐
//	│ processor/decoder            │  one typed message per document,
//	│                              │  relative offsets resolved (pkg/geo)
//	└──────────────────────────────┘
//	           ↓ messages
//	┌──────────────────────────────┐
//	│ storage/messagestore         │  one collection per type, merge on key,
//	│                              │  CAM/DENM links, sweeper
//	└──────────────────────────────┘
//	           ↓ upsert / remove events
//	┌──────────────────────────────┐
//	│ pkg/spatial, output/...      │  R-tree index, WebSocket, MQTT,
//	│                              │  NATS events + JetStream KV mirror
//	└──────────────────────────────┘
//
// The engine package wires these together and gateway/http serves the
// store, the spatial index and the connection controls. cmd/v2xstreams is
// the binary.
//
// # Packages
//
//   - message: typed messages and the description tables
//   - pkg/geo: offset chains, bearings and distances
//   - pkg/retry, pkg/worker: reconnect schedule and the sink worker
//   - errors, config, metric, health, component: shared infrastructure
//   - natsclient: NATS connection with circuit breaker and KV helpers
package v2xstreams
