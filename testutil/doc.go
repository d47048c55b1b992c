// Package testutil provides fixtures and in-memory doubles shared by the
// package tests.
//
// # Fixtures
//
// The *Fixture types build ITS JSON documents in the layout the decoder
// accepts: an outer envelope carrying messageId and stationId around the
// message body. Document returns the map form so a test can break a single
// field before encoding it with JSON or framing several with Stream.
//
//	doc := testutil.CAMFixture{StationID: 42, Lat: 487000000, Lon: 91000000}.Document()
//	frame := testutil.JSON(doc)
//
// # Doubles
//
// MockNATSClient and MockKVStore stand in for natsclient.Client and
// natsclient.KVStore where a test only needs to observe what a sink
// published. Both are safe for concurrent use. Tests that need a real server
// use natsclient.NewTestClient, which starts NATS in a container.
package testutil
