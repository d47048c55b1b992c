package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/v2xstreams/pkg/retry"
)

// KVEntry wraps a KV entry with its revision
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	Timeout      time.Duration // per operation
	MaxValueSize int
	Retry        retry.Config // applied to Put and Delete
}

// defaultKVOptions are the defaults used by the state mirror
func defaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
		Retry:        retry.DefaultConfig(),
	}
}

// KVStore provides last-writer-wins KV operations with retries on transient
// failures
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// Well-known errors
var (
	ErrKVKeyNotFound   = stderrors.New("kv: key not found")
	ErrKVValueTooLarge = stderrors.New("kv: value too large")
)

// NewKVStore wraps a bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, m.logger, opts...)
}

// NewKVStore wraps a bucket without a client, e.g. for tests
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger, opts ...func(*KVOptions)) *KVStore {
	options := defaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, options: options, logger: logger}
}

// Bucket returns the bucket name
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put creates or replaces a key
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, fmt.Errorf("kv put %s: %w (%d bytes)", key, ErrKVValueTooLarge, len(value))
	}

	var rev uint64
	err := retry.Do(ctx, kv.options.Retry, func() error {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()

		var err error
		rev, err = kv.bucket.Put(opCtx, key, value)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logger.Debug("KV put", "bucket", kv.bucket.Bucket(), "key", key, "revision", rev)
	return rev, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	err := retry.Do(ctx, kv.options.Retry, func() error {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()

		err := kv.bucket.Delete(opCtx, key)
		if IsKVNotFoundError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	kv.logger.Debug("KV delete", "bucket", kv.bucket.Bucket(), "key", key)
	return nil
}

// Keys lists the live keys of the bucket
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Watch creates a watcher for key changes. No timeout is applied since the
// watcher is long-lived.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}
