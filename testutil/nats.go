package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// MockNATSClient records published messages per subject. Publish matches
// natsclient.Client.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	order    []string
	failWith error
	closed   bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{messages: make(map[string][][]byte)}
}

// Publish records data on subject.
func (c *MockNATSClient) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.failWith != nil {
		return c.failWith
	}

	c.messages[subject] = append(c.messages[subject], append([]byte(nil), data...))
	c.order = append(c.order, subject)
	return nil
}

// FailWith makes every following Publish return err. nil restores success.
func (c *MockNATSClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

// GetMessages returns the messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects returns the subject of every publish in publish order.
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// MockKVStore is an in-memory stand-in for natsclient.KVStore.
type MockKVStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	revision uint64
}

// NewMockKVStore creates a new mock KV store.
func NewMockKVStore() *MockKVStore {
	return &MockKVStore{data: make(map[string][]byte)}
}

// Put stores a value and returns its revision.
func (kv *MockKVStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.revision++
	kv.data[key] = append([]byte(nil), value...)
	return kv.revision, nil
}

// Get retrieves a value.
func (kv *MockKVStore) Get(key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	if val, ok := kv.data[key]; ok {
		return append([]byte(nil), val...), nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

// Delete removes a key. Deleting a missing key succeeds.
func (kv *MockKVStore) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

// Keys returns all keys, sorted.
func (kv *MockKVStore) Keys(_ context.Context) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// WaitForMessageCount waits until subject has at least count messages.
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.GetMessageCount(subject) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on subject %s (got %d)",
		count, subject, client.GetMessageCount(subject))
}
