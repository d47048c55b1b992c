package tcp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/retry"
	"github.com/c360/v2xstreams/testutil"
)

const testPoll = 5 * time.Millisecond

// harness fakes the network and the clock for a Manager
type harness struct {
	mu      sync.Mutex
	delays  []time.Duration
	dials   int
	docs    [][]byte
	script  []func() (net.Conn, error)
	servers chan net.Conn

	// refuseAll fails every dial past the script
	refuseAll bool
}

func newHarness(script ...func() (net.Conn, error)) *harness {
	return &harness{script: script, servers: make(chan net.Conn, 8)}
}

func (h *harness) dial(ctx context.Context, _, _ string) (net.Conn, error) {
	h.mu.Lock()
	i := h.dials
	h.dials++
	h.mu.Unlock()

	if i < len(h.script) {
		return h.script[i]()
	}
	if h.refuseAll {
		return refuse()
	}
	return h.pipe()
}

func (h *harness) pipe() (net.Conn, error) {
	client, server := net.Pipe()
	h.servers <- server
	return client, nil
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	if d == testPoll {
		return retry.Sleep(ctx, d)
	}
	h.mu.Lock()
	h.delays = append(h.delays, d)
	h.mu.Unlock()
	if d > 0 {
		// Keep the loop from spinning without waiting the real delay
		return retry.Sleep(ctx, time.Millisecond)
	}
	return ctx.Err()
}

func (h *harness) handle(doc []byte) {
	h.mu.Lock()
	h.docs = append(h.docs, doc)
	h.mu.Unlock()
}

func (h *harness) recordedDelays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.delays...)
}

func (h *harness) docCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.docs)
}

func refuse() (net.Conn, error) {
	return nil, fmt.Errorf("connection refused")
}

// brokenConn fails every read like a reset socket
type brokenConn struct {
	net.Conn
}

func (brokenConn) Read([]byte) (int, error) { return 0, fmt.Errorf("connection reset by peer") }
func (brokenConn) Close() error             { return nil }

func newTestManager(t *testing.T, h *harness, host string, port int) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = host, port
	cfg.PollInterval = testPoll

	m, err := NewManager(Deps{
		Config:  cfg,
		Handler: h.handle,
		Dial:    h.dial,
		Sleep:   h.sleep,
	})
	require.NoError(t, err)
	return m
}

func TestManager_BackoffScheduleAndReset(t *testing.T) {
	script := make([]func() (net.Conn, error), 12)
	for i := range script {
		script[i] = refuse
	}
	h := newHarness(script...)
	m := newTestManager(t, h, "10.0.0.1", 9000)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	require.Eventually(t, func() bool { return m.Status().Connected }, 2*time.Second, time.Millisecond)

	want := []time.Duration{0}
	for i := 0; i < 5; i++ {
		want = append(want, time.Second)
	}
	for i := 0; i < 5; i++ {
		want = append(want, 5*time.Second)
	}
	want = append(want, 10*time.Second, 10*time.Second)
	assert.Equal(t, want, h.recordedDelays())

	status := m.Status()
	assert.Equal(t, 0, status.Attempts, "a successful connect resets the attempt counter")
	assert.Equal(t, "10.0.0.1:9000", status.Address)
	assert.Equal(t, "Connected to 10.0.0.1:9000!", status.Message)
	assert.Empty(t, status.LastError)
	assert.True(t, m.Health().Healthy)
}

func TestManager_FeedsDocumentsAndReconnectsOnEOF(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h, "localhost", 9000)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	server := <-h.servers
	stream := testutil.Stream(
		testutil.CAMFixture{StationID: 1}.Document(),
		testutil.CAMFixture{StationID: 2}.Document(),
		testutil.CAMFixture{StationID: 3}.Document(),
	)
	go func() {
		_, _ = server.Write([]byte(stream))
		_ = server.Close()
	}()

	// Peer close reconnects without delay or a counted failure
	second := <-h.servers
	defer second.Close()

	assert.Equal(t, 2, h.docCount())
	require.Eventually(t, func() bool { return m.Status().Connected }, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{0, 0}, h.recordedDelays())
	assert.Equal(t, 0, m.Status().Attempts)
	assert.Equal(t, int64(2), m.flow.Messages())
	assert.False(t, m.DataFlow().LastActivity.IsZero())
}

func TestManager_SocketErrorCountsAttempt(t *testing.T) {
	h := newHarness(func() (net.Conn, error) { return brokenConn{}, nil })
	m := newTestManager(t, h, "localhost", 9000)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	second := <-h.servers
	defer second.Close()

	// The read failure counted as attempt 1, so the redial waited 1s
	assert.Equal(t, []time.Duration{0, time.Second}, h.recordedDelays())
	require.Eventually(t, func() bool { return m.Status().Connected }, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Status().Attempts)
}

func TestManager_NotConfigured(t *testing.T) {
	h := newHarness()
	h.refuseAll = true
	m := newTestManager(t, h, "", 0)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	require.Eventually(t, func() bool { return !m.Status().Attempting }, time.Second, time.Millisecond)
	status := m.Status()
	assert.False(t, status.Configured)
	assert.False(t, status.Connecting)
	assert.Equal(t, "Server address, or port not set!", status.Message)
	assert.Equal(t, errors.ErrNotConfigured.Error(), status.LastError)
	assert.False(t, m.Health().Healthy)

	require.NoError(t, m.SetAddress("192.0.2.10", 7000))
	require.Eventually(t, func() bool { return m.Status().Attempts >= 2 }, time.Second, time.Millisecond)
	status = m.Status()
	assert.True(t, status.Configured)
	assert.True(t, status.Attempting)
	assert.Contains(t, status.LastError, "connection refused")
}

func TestManager_DisconnectStopsAttempts(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h, "localhost", 9000)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	server := <-h.servers
	defer server.Close()
	require.Eventually(t, func() bool { return m.Status().Connected }, time.Second, time.Millisecond)

	m.Disconnect()

	require.Eventually(t, func() bool {
		s := m.Status()
		return !s.Connected && !s.Attempting
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Status().Attempts)
	assert.Equal(t, "Disconnected", m.Status().Message)

	// No redial while stopped
	time.Sleep(20 * testPoll)
	h.mu.Lock()
	dials := h.dials
	h.mu.Unlock()
	assert.Equal(t, 1, dials)

	m.Connect()
	next := <-h.servers
	defer next.Close()
	require.Eventually(t, func() bool { return m.Status().Connected }, time.Second, time.Millisecond)
}

func TestManager_StopClosesConnection(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h, "localhost", 9000)
	require.NoError(t, m.Start(context.Background()))

	server := <-h.servers
	defer server.Close()
	require.Eventually(t, func() bool { return m.Status().Connected }, time.Second, time.Millisecond)

	require.NoError(t, m.Stop(time.Second))
	assert.False(t, m.Status().Connected)
	assert.NoError(t, m.Stop(time.Second), "stop is idempotent")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty address", Config{}, false},
		{"valid", Config{Host: "localhost", Port: 9000}, false},
		{"port too large", Config{Host: "localhost", Port: 70000}, true},
		{"negative port", Config{Port: -1}, true},
		{"negative timeout", Config{ConnectTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewManager_RequiresHandler(t *testing.T) {
	_, err := NewManager(Deps{Config: DefaultConfig()})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager_OversizedDocumentCounted(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h := newHarness()
	m, err := NewManager(Deps{
		Config:  DefaultConfig(),
		Handler: h.handle,
		Dial:    h.dial,
		Sleep:   h.sleep,
		Metrics: registry.CoreMetrics(),
	})
	require.NoError(t, err)

	m.framer.MaxPending = 32
	m.framer.Push("[")
	m.framer.Push("  {")
	m.framer.Push(`    "payload": "` + strings.Repeat("a", 40) + `"`)

	assert.Zero(t, m.framer.Pending())
	assert.Equal(t, 1.0, prom.ToFloat64(registry.CoreMetrics().DecodeDrops.WithLabelValues(DropOversized)))
	assert.Equal(t, 1, m.Health().ErrorCount)
}
