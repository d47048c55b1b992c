// Package natsclient wraps the NATS Go client with a circuit breaker and the
// JetStream key-value helpers the state mirror needs.
//
// # Connection Lifecycle
//
// A client moves through Disconnected, Connecting, Connected and
// Reconnecting. Failed operations are counted; after the threshold (default
// 5) the circuit opens and Connect fails fast with ErrCircuitOpen. After the
// backoff elapses the circuit becomes half-open and the next attempt goes
// through. Each opening doubles the backoff, capped at one minute.
//
// Connection state and reconnects are recorded in the core metrics when the
// client is built WithMetrics.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient([]string{"nats://localhost:4222"},
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "v2x.events.cam.upsert", data)
//
// # Key-Value State
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//		Bucket: "V2X_STATE",
//	})
//	kv := client.NewKVStore(bucket)
//	_, err = kv.Put(ctx, "cam.4242", data)
//
// Put and Delete retry transient failures with pkg/retry. Deleting a key that
// does not exist succeeds.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and connects a
// client to it. Tests using it carry the integration build tag.
package natsclient
