package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/retry"
)

// Handler receives each recovered document. It runs on the read loop.
type Handler func(doc []byte)

// Dialer opens the source connection
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds the source connection settings
type Config struct {
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	ConnectTimeout time.Duration  `json:"connect_timeout"`
	PollInterval   time.Duration  `json:"poll_interval"`
	AutoStart      bool           `json:"auto_start"`
	Schedule       retry.Schedule `json:"-"`
}

// DefaultConfig returns the source defaults: no address, 3s connect
// timeout, 1s idle polling and the tiered reconnect schedule.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		PollInterval:   time.Second,
		AutoStart:      true,
		Schedule:       retry.ConnectionSchedule(),
	}
}

// Validate checks the settings. An empty address is valid and leaves the
// manager disabled.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port), "tcp-input", "Validate", "port validation")
	}
	if c.ConnectTimeout < 0 || c.PollInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative interval"), "tcp-input", "Validate", "timing validation")
	}
	return nil
}

func (c Config) configured() bool {
	return c.Host != "" && c.Port > 0
}

func (c Config) address() string {
	if !c.configured() {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Status is the connection state reported to the control surface
type Status struct {
	Configured bool   `json:"configured"`
	Attempting bool   `json:"attempting"`
	Connecting bool   `json:"connecting"`
	Connected  bool   `json:"connected"`
	Address    string `json:"address,omitempty"`
	Attempts   int    `json:"attempts"`
	Message    string `json:"message"`
	LastError  string `json:"last_error,omitempty"`
}

// Deps holds runtime dependencies for the manager
type Deps struct {
	Name    string
	Config  Config
	Handler Handler
	Metrics *metric.Metrics // optional
	Logger  *slog.Logger

	// Dial and Sleep default to net.Dialer and retry.Sleep
	Dial  Dialer
	Sleep func(ctx context.Context, d time.Duration) error
}

var errStopped = errors.New("connection stopped")

// Manager keeps the source connection alive and feeds the framer
type Manager struct {
	name    string
	handler Handler
	dial    Dialer
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *metric.Metrics
	flow    *component.FlowCounter

	// framer is owned by the run loop
	framer Framer

	mu         sync.Mutex
	cfg        Config
	attempting bool
	attempts   int
	state      int
	message    string
	lastErr    string
	conn       net.Conn

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewManager creates a connection manager. It does not connect until Start.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "tcp-input", "NewManager", "handler required")
	}

	cfg := deps.Config
	defaults := DefaultConfig()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if len(cfg.Schedule.Tiers) == 0 && cfg.Schedule.Final == 0 {
		cfg.Schedule = defaults.Schedule
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "tcp-input"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	dial := deps.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}

	m := &Manager{
		name:       name,
		handler:    deps.Handler,
		dial:       dial,
		sleep:      sleep,
		logger:     logger,
		metrics:    deps.Metrics,
		flow:       component.NewFlowCounter(),
		cfg:        cfg,
		attempting: cfg.AutoStart,
		state:      metric.ConnectionIdle,
		message:    "Disconnected",
	}
	m.framer.OnOverflow = m.dropOversized
	return m, nil
}

// DropOversized is the drop reason for text discarded by the framer cap
const DropOversized = "oversized"

func (m *Manager) dropOversized(dropped int) {
	err := fmt.Errorf("document exceeds %d bytes, %d bytes discarded", m.framer.limit(), dropped)
	m.flow.Error(err)
	if m.metrics != nil {
		m.metrics.RecordDrop(DropOversized)
	}
	m.logger.Warn("Discarded oversized document", "bytes", dropped)
}

// Initialize implements component.LifecycleComponent
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Validate()
}

// Start launches the connection loop. It is idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.flow.Reset()
	m.running.Store(true)

	go func() {
		defer close(m.done)
		m.run(loopCtx)
	}()

	m.logger.Info("Source connection manager started", "address", m.Status().Address)
	return nil
}

// Stop ends the connection loop and closes the socket
func (m *Manager) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.running.Load() {
		return nil
	}
	m.running.Store(false)

	m.cancel()
	m.closeConn()

	select {
	case <-m.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			m.name, "Stop", "graceful shutdown")
	}

	m.setState(metric.ConnectionIdle, "Disconnected")
	return nil
}

// Connect asks the loop to (re)attempt the connection
func (m *Manager) Connect() {
	m.mu.Lock()
	m.attempting = true
	m.mu.Unlock()
}

// Disconnect stops attempting, resets the attempt count and closes the
// socket. The read loop notices on its next read.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.attempting = false
	m.attempts = 0
	m.mu.Unlock()

	m.closeConn()
	m.setState(metric.ConnectionIdle, "Disconnected")
	m.logger.Info("Source connection stopped")
}

// SetAddress applies a new source address: the current connection is
// dropped and, if the address is usable, a new one is attempted.
func (m *Manager) SetAddress(host string, port int) error {
	cfg := m.config()
	cfg.Host, cfg.Port = host, port
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.Disconnect()

	m.mu.Lock()
	m.cfg.Host, m.cfg.Port = host, port
	m.attempting = true
	m.mu.Unlock()

	m.logger.Info("Source address updated", "address", cfg.address())
	return nil
}

// Status reports the current connection state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Configured: m.cfg.configured(),
		Attempting: m.attempting,
		Connecting: m.state == metric.ConnectionConnecting,
		Connected:  m.state == metric.ConnectionConnected,
		Address:    m.cfg.address(),
		Attempts:   m.attempts,
		Message:    m.message,
		LastError:  m.lastErr,
	}
}

func (m *Manager) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Manager) isAttempting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempting
}

func (m *Manager) setState(state int, message string) {
	m.mu.Lock()
	m.state = state
	m.message = message
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordConnectionState(state)
	}
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) run(ctx context.Context) {
	for ctx.Err() == nil {
		m.mu.Lock()
		attempting := m.attempting
		cfg := m.cfg
		attempts := m.attempts
		m.mu.Unlock()

		if !attempting {
			if err := m.sleep(ctx, cfg.PollInterval); err != nil {
				return
			}
			continue
		}

		if !cfg.configured() {
			m.disable()
			continue
		}

		if err := m.sleep(ctx, cfg.Schedule.Delay(attempts)); err != nil {
			return
		}
		if !m.isAttempting() {
			continue
		}

		m.connectOnce(ctx, cfg)
	}
}

// disable parks the manager until an address is configured
func (m *Manager) disable() {
	m.mu.Lock()
	m.attempting = false
	m.attempts = 0
	m.lastErr = errors.ErrNotConfigured.Error()
	m.mu.Unlock()

	m.setState(metric.ConnectionDisabled, "Server address, or port not set!")
	m.logger.Warn("Source connection disabled: server address, or port not set")
}

func (m *Manager) connectOnce(ctx context.Context, cfg Config) {
	address := cfg.address()
	m.setState(metric.ConnectionConnecting, "Attempting to connect to "+address)
	m.logger.Info("Attempting to connect", "address", address, "attempt", m.Status().Attempts)
	if m.metrics != nil {
		m.metrics.RecordConnectAttempt()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	conn, err := m.dial(dialCtx, "tcp", address)
	cancel()
	if err != nil {
		m.fail(errors.WrapTransient(err, m.name, "connect", "dial "+address))
		return
	}

	m.mu.Lock()
	if !m.attempting || ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.lastErr = ""
	m.mu.Unlock()

	m.setState(metric.ConnectionConnected, "Connected to "+address+"!")
	m.logger.Info("Connected to source", "address", address)

	readErr := m.read(ctx, conn)

	m.closeConn()
	_ = conn.Close()
	m.framer.Reset()

	switch {
	case !m.isAttempting() || ctx.Err() != nil:
		m.setState(metric.ConnectionIdle, "Disconnected")
	case readErr != nil:
		m.fail(errors.WrapTransient(readErr, m.name, "read", "read "+address))
	default:
		// Peer closed the stream; the next attempt is immediate
		m.setState(metric.ConnectionIdle, "Connection closed by server")
		m.logger.Info("Source closed the connection", "address", address)
	}
}

// read pumps lines into the framer until EOF, a socket error, a stop or
// context cancellation.
func (m *Manager) read(ctx context.Context, conn net.Conn) error {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-finished:
		}
	}()

	err := m.framer.Scan(conn, func(doc []byte) error {
		if !m.isAttempting() {
			return errStopped
		}
		m.flow.Message(len(doc))
		if m.metrics != nil {
			m.metrics.RecordDocumentFramed()
		}
		m.handler(doc)
		return nil
	})
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	attempting := m.attempting
	if attempting {
		m.attempts++
	}
	attempts := m.attempts
	m.lastErr = err.Error()
	m.mu.Unlock()

	message := "Connection failed!"
	if !attempting {
		message = "Disconnected"
	}
	m.setState(metric.ConnectionIdle, message)
	m.flow.Error(err)
	m.logger.Warn("Source connection failed", "attempts", attempts, "error", err)
}

// Meta implements component.Discoverable
func (m *Manager) Meta() component.Metadata {
	return component.Metadata{
		Name:        m.name,
		Type:        "input",
		Description: "TCP capture feed client",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable. A manager that is reconnecting
// or has no address is unhealthy; one that was stopped on request is not.
func (m *Manager) Health() component.HealthStatus {
	status := m.Status()
	healthy := m.running.Load() && status.Configured && (status.Connected || !status.Attempting)
	return m.flow.Health(healthy)
}

// DataFlow implements component.Discoverable
func (m *Manager) DataFlow() component.FlowMetrics {
	return m.flow.Flow()
}
