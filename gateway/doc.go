// Package gateway defines the request-driven surfaces of v2xstreams.
//
// # Gateway vs Output
//
//   - Gateway: request/response, an external client asks and the engine answers
//   - Output: push, every store change is sent to external consumers
//
// # Architecture
//
//	┌─────────────────┐
//	│  HTTP Client    │  GET /api/v1/nearby?lat=48.7&lon=9.1&k=5
//	└────────┬────────┘
//	         ↓
//	┌────────────────────────────────────────┐
//	│  gateway/http (port 8080)              │
//	│  rate limit → router → handler         │
//	└────────┬───────────────────────────────┘
//	         ↓ Controller
//	┌────────────────────────────────────────┐
//	│  engine: store, spatial index, source  │
//	└────────────────────────────────────────┘
//
// Reads (messages, geojson, nearby, signals) never take more than the store
// read lock. Control requests (connection, sweep interval, clear) go through
// the Controller so the engine records them.
//
// # Example Configuration
//
//	{
//	  "http": {
//	    "enabled": true,
//	    "port": 8080,
//	    "rate_limit": 100,
//	    "burst": 10,
//	    "cors_origins": ["http://localhost:3000"]
//	  }
//	}
package gateway
