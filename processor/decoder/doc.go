// Package decoder turns framed capture documents into typed V2X messages.
//
// A document is a packet-capture envelope (_source.layers.its...) whose
// leaves are all strings. The ITS PDU header's messageID selects one of six
// protocol decoders:
//
//	1  DENM    hazard event
//	2  CAM     vehicle state
//	4  SPATEM  signal phase and timing
//	5  MAPEM   intersection geometry
//	9  SREM    signal priority request
//	10 SSEM    signal priority response
//
// Scaling of raw integers (coordinates, altitude, dimensions, heading,
// speed, lane width) is declared once in fields.go. Decoders are pure: they
// never touch the store, and every decoded message has had Prepare called
// so derived geometry is ready before the store lock is taken.
//
// Decode returns errors; Decoder.Process wraps it for the ingest pipeline,
// counting and rate-limit-logging drops so a malformed feed never stops
// processing.
package decoder
