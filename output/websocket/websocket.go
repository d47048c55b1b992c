package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/output"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Name identifies the sink in logs and metrics
const Name = "websocket"

// Config holds configuration for the WebSocket output
type Config struct {
	// Port is the listen port; 0 picks a free one
	Port int
	Path string
	// QueueSize bounds events waiting to be broadcast
	QueueSize int
	// ClientBuffer bounds envelopes waiting for one client
	ClientBuffer int
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the defaults used for zero fields
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		Path:         "/ws",
		QueueSize:    output.DefaultQueueSize,
		ClientBuffer: 256,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// SnapshotFunc returns the live entities sent to a new client
type SnapshotFunc func() []message.Message

// MessageEnvelope wraps every message sent to clients
type MessageEnvelope struct {
	Type      messagestore.Action `json:"type"`
	ID        string              `json:"id"`
	Timestamp int64               `json:"timestamp"` // Unix milliseconds
	Payload   output.Payload      `json:"payload"`
}

// Output is a store listener broadcasting events to WebSocket clients
type Output struct {
	cfg      Config
	snapshot SnapshotFunc
	queue    *output.Queue
	logger   *slog.Logger
	metrics  *Metrics

	upgrader  websocket.Upgrader
	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	server   *http.Server
	listener net.Listener

	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	closing atomic.Bool
	sent    atomic.Int64
	bytes   atomic.Int64
}

type outbound struct {
	kind messagestore.Action
	data []byte
}

// client holds one connection. Only its writer goroutine writes data
// frames; pings share writeMutex.
type client struct {
	conn        *websocket.Conn
	send        chan outbound
	done        chan struct{}
	connectedAt time.Time
	lastPong    atomic.Value // time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

var (
	_ messagestore.Listener        = (*Output)(nil)
	_ component.Discoverable       = (*Output)(nil)
	_ component.LifecycleComponent = (*Output)(nil)
)

// NewOutput creates the output. snapshot may be nil, in which case new
// clients only receive the live stream.
func NewOutput(cfg Config, snapshot SnapshotFunc, deps output.Deps) *Output {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", Name)
	}

	w := &Output{
		cfg:      cfg,
		snapshot: snapshot,
		logger:   deps.Logger,
		metrics:  newMetrics(deps.MetricsRegistry, deps.Logger),
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	w.queue = output.NewQueue(Name, cfg.QueueSize, w.broadcast, deps)
	return w
}

// Handler serves the WebSocket endpoint. Start mounts it on its own server;
// tests and embedding servers can mount it directly.
func (w *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	return mux
}

// Addr returns the listen address once started
func (w *Output) Addr() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// ClientCount returns the number of connected clients
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Meta implements component.Discoverable
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        Name,
		Type:        "output",
		Description: fmt.Sprintf("Streams store events to WebSocket clients on :%d%s", w.cfg.Port, w.cfg.Path),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (w *Output) Health() component.HealthStatus {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()
	return w.queue.Flow().Health(running)
}

// DataFlow implements component.Discoverable
func (w *Output) DataFlow() component.FlowMetrics {
	flow := w.queue.Flow().Flow()
	w.mu.RLock()
	startTime := w.startTime
	w.mu.RUnlock()
	if uptime := time.Since(startTime).Seconds(); !startTime.IsZero() && uptime > 0 {
		flow.BytesPerSecond = float64(w.bytes.Load()) / uptime
	}
	return flow
}

// Initialize implements component.LifecycleComponent
func (w *Output) Initialize() error {
	if w.cfg.Port < 0 || w.cfg.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("port %d out of range", w.cfg.Port), Name, "Initialize", "check port")
	}
	return nil
}

// Start listens and begins broadcasting. Calling it again is a no-op.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, Name, "Start", "context already cancelled")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", w.cfg.Port))
	if err != nil {
		return errors.WrapFatal(err, Name, "Start", fmt.Sprintf("listen on port %d", w.cfg.Port))
	}
	if err := w.queue.Start(ctx); err != nil {
		_ = listener.Close()
		return err
	}

	w.listener = listener
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.shutdown = make(chan struct{})
	w.closing.Store(false)
	w.running = true
	w.startTime = time.Now()

	w.wg.Add(2)
	go w.runServer(w.server, listener)
	go w.maintainClients(ctx, w.shutdown)

	w.logger.Info("WebSocket output listening", "addr", listener.Addr().String(), "path", w.cfg.Path)
	return nil
}

// Stop drains the event queue, shuts the server down and closes all clients
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.closing.Store(true)
	server := w.server
	w.mu.Unlock()

	queueErr := w.queue.Stop(timeout)
	close(w.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("HTTP server shutdown error", "error", err)
	}
	w.closeAllClients("shutdown")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), Name, "Stop", "wait for clients")
	}

	w.mu.Lock()
	w.server = nil
	w.listener = nil
	w.mu.Unlock()
	return queueErr
}

// OnInsertOrUpdate implements messagestore.Listener
func (w *Output) OnInsertOrUpdate(msg message.Message) {
	w.queue.OnInsertOrUpdate(msg)
}

// OnRemove implements messagestore.Listener
func (w *Output) OnRemove(msg message.Message) {
	w.queue.OnRemove(msg)
}

func (w *Output) runServer(server *http.Server, listener net.Listener) {
	defer w.wg.Done()

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		w.logger.Error("HTTP server failed", "error", err)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("server").Inc()
		}
	}
}

func encodeEnvelope(ev messagestore.Event) ([]byte, error) {
	return json.Marshal(MessageEnvelope{
		Type:      ev.Action,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   output.NewPayload(ev),
	})
}

// broadcast hands one event to every client without waiting on any of them
func (w *Output) broadcast(_ context.Context, ev messagestore.Event) error {
	start := time.Now()

	data, err := encodeEnvelope(ev)
	if err != nil {
		return errors.WrapInvalid(err, Name, "broadcast", "encode envelope")
	}
	out := outbound{kind: ev.Action, data: data}

	var slow []*client
	w.clientsMu.RLock()
	for c := range w.clients {
		select {
		case c.send <- out:
		default:
			slow = append(slow, c)
		}
	}
	w.clientsMu.RUnlock()

	for _, c := range slow {
		w.logger.Warn("Disconnecting slow client", "remote", c.conn.RemoteAddr().String())
		w.removeClient(c, "slow_client")
	}

	if w.metrics != nil {
		w.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// handleWebSocket upgrades the request and registers the client with the
// current snapshot already queued, so no event falls between the two
func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if w.closing.Load() {
		http.Error(wr, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	c := &client{
		conn:        conn,
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.lastPong.Store(time.Now())

	w.clientsMu.Lock()
	var initial []outbound
	if w.snapshot != nil {
		for _, msg := range w.snapshot() {
			data, err := encodeEnvelope(messagestore.Event{Action: messagestore.ActionUpsert, Message: msg})
			if err != nil {
				continue
			}
			initial = append(initial, outbound{kind: messagestore.ActionUpsert, data: data})
		}
	}
	c.send = make(chan outbound, len(initial)+w.cfg.ClientBuffer)
	for _, out := range initial {
		c.send <- out
	}
	w.clients[c] = struct{}{}
	count := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("Client connected", "remote", conn.RemoteAddr().String(), "snapshot", len(initial))

	w.wg.Add(2)
	go w.writeLoop(c)
	go w.readLoop(c)
}

// writeLoop is the only writer of data frames for c
func (w *Output) writeLoop(c *client) {
	defer w.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			if err := w.sendToClient(c, websocket.TextMessage, out.data); err != nil {
				w.removeClient(c, "write_error")
				return
			}
			w.sent.Add(1)
			w.bytes.Add(int64(len(out.data)))
			if w.metrics != nil {
				w.metrics.messagesSent.WithLabelValues(string(out.kind)).Inc()
				w.metrics.bytesSent.Add(float64(len(out.data)))
			}
		}
	}
}

// readLoop consumes client frames so control frames are processed
func (w *Output) readLoop(c *client) {
	defer w.wg.Done()

	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		if _, _, err := c.conn.ReadMessage(); err != nil {
			reason := "normal"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_error"
			}
			w.removeClient(c, reason)
			return
		}
	}
}

func (w *Output) sendToClient(c *client, messageType int, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// removeClient unregisters and closes c once, whatever noticed first
func (w *Output) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		w.clientsMu.Lock()
		delete(w.clients, c)
		count := len(w.clients)
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}

		_ = c.conn.Close()
	})
}

func (w *Output) closeAllClients(reason string) {
	w.clientsMu.RLock()
	list := make([]*client, 0, len(w.clients))
	for c := range w.clients {
		list = append(list, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range list {
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		w.removeClient(c, reason)
	}
}

// maintainClients pings every client on PingInterval
func (w *Output) maintainClients(ctx context.Context, shutdown <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			w.pingClients()
		}
	}
}

func (w *Output) pingClients() {
	w.clientsMu.RLock()
	list := make([]*client, 0, len(w.clients))
	for c := range w.clients {
		list = append(list, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range list {
		if c.closed.Load() {
			continue
		}
		if last, ok := c.lastPong.Load().(time.Time); ok && time.Since(last) > w.cfg.ReadTimeout {
			w.removeClient(c, "pong_timeout")
			continue
		}
		if err := w.sendToClient(c, websocket.PingMessage, nil); err != nil {
			if w.metrics != nil {
				w.metrics.errorsTotal.WithLabelValues("ping").Inc()
			}
			w.removeClient(c, "ping_failed")
		}
	}
}
