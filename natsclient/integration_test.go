//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())
	ctx := context.Background()

	sub, err := tc.GetNativeConnection().SubscribeSync("v2x.events.>")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, tc.Client.WaitForConnection(ctx))
	require.NoError(t, tc.Client.Publish(ctx, "v2x.events.cam.upsert", []byte(`{"key":"7"}`)))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "v2x.events.cam.upsert", msg.Subject)
	assert.JSONEq(t, `{"key":"7"}`, string(msg.Data))
	assert.Equal(t, StatusConnected, tc.Client.Status())
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("V2X_STATE"))
	ctx := context.Background()

	bucket, err := tc.CreateKVBucket(ctx, "V2X_STATE")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)
	assert.Equal(t, "V2X_STATE", kv.Bucket())

	rev, err := kv.Put(ctx, "cam.7", []byte(`{"stationId":7}`))
	require.NoError(t, err)
	assert.Greater(t, rev, uint64(0))

	entry, err := kv.Get(ctx, "cam.7")
	require.NoError(t, err)
	assert.Equal(t, rev, entry.Revision)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cam.7"}, keys)

	require.NoError(t, kv.Delete(ctx, "cam.7"))
	require.NoError(t, kv.Delete(ctx, "cam.absent"))

	_, err = kv.Get(ctx, "cam.7")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	again, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "V2X_STATE", History: 1})
	require.NoError(t, err, "creating an existing bucket returns it")
	assert.Equal(t, "V2X_STATE", again.Bucket())
}
