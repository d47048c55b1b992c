// Package websocket streams store changes to WebSocket clients.
//
// # Overview
//
// Output runs an HTTP server with a single WebSocket endpoint (default
// /ws). Every store event becomes a MessageEnvelope and is broadcast to all
// connected clients:
//
//	{
//	  "type": "upsert",
//	  "id": "5f0c...",
//	  "timestamp": 1767268800000,
//	  "payload": {"message_type": "DENM", "key": "7/3", "entity": {...}}
//	}
//
// type is "upsert" or "remove"; a remove payload has no entity. timestamp is
// Unix milliseconds.
//
// # Snapshot on connect
//
// A new client first receives one upsert envelope per live entity, then the
// live stream. Events already queued when the client connected may repeat
// state contained in the snapshot; applying envelopes in order converges on
// the store contents.
//
// # Slow clients
//
// Each client has a bounded send buffer. A client that falls behind by more
// than the buffer is disconnected rather than allowed to stall the broadcast;
// it can reconnect and resynchronize from the snapshot.
//
// # Keepalive
//
// The server pings every client each PingInterval and drops clients that
// have not answered within ReadTimeout. Messages sent by clients are read
// and discarded.
//
// # Metrics
//
// With a metrics registry the output exports connected clients, connects,
// disconnects by reason, envelopes and bytes sent, and broadcast latency
// under the v2xstreams_websocket_ prefix.
package websocket
