// Package http serves the v2xstreams query API: live entities by type,
// GeoJSON export, spatial lookups, signal groups facing an approach, and
// the connection, sweep and store controls.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/gateway"
	"github.com/c360/v2xstreams/health"
)

// Name is the component name of the query API
const Name = "http-gateway"

// getOrGenerateRequestID extracts request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	// Try to extract from incoming X-Request-ID header
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	// Format: 16 hex characters (8 random bytes)
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Deps holds runtime dependencies
type Deps struct {
	Logger *slog.Logger

	// Health reports system health for GET /health; nil serves the
	// gateway's own view of the engine status
	Health func() health.Status
}

// Gateway serves the query API over a Controller
type Gateway struct {
	name    string
	config  gateway.Config
	ctrl    gateway.Controller
	health  func() health.Status
	logger  *slog.Logger
	limiter *rate.Limiter
	handler http.Handler

	// Lifecycle state
	running  atomic.Bool
	server   *http.Server
	listener net.Listener
	serveErr chan error

	// Protects startTime and lastActivity for concurrent reads
	mu        sync.RWMutex
	startTime time.Time

	// Metrics (atomic operations)
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	requestsLimited atomic.Uint64
	bytesReceived   atomic.Uint64 // Total bytes received in requests
	bytesSent       atomic.Uint64 // Total bytes sent in responses
	lastActivity    time.Time
}

// NewGateway creates the query API from configuration
func NewGateway(config gateway.Config, ctrl gateway.Controller, deps Deps) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if ctrl == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"controller is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", Name)
	}

	g := &Gateway{
		name:    Name,
		config:  config,
		ctrl:    ctrl,
		health:  deps.Health,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}
	g.handler = g.buildHandler()
	return g, nil
}

// buildHandler assembles router and middleware. Order, outermost first:
// recovery, access log, CORS, request accounting, rate limit, router.
func (g *Gateway) buildHandler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		g.writeError(w, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)

	// Subrouters do not inherit the fallback handlers
	api := r.PathPrefix("/api/v1").Subrouter()
	api.NotFoundHandler = r.NotFoundHandler
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	api.HandleFunc("/messages/{type}", g.handleList).Methods(http.MethodGet)
	api.HandleFunc("/messages/{type}/{key:.+}", g.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/geojson", g.handleGeoJSON).Methods(http.MethodGet)
	api.HandleFunc("/nearby", g.handleNearby).Methods(http.MethodGet)
	api.HandleFunc("/intersections/{id:[0-9]+}/signals", g.handleSignals).Methods(http.MethodGet)
	api.HandleFunc("/connection", g.handleConnectionStatus).Methods(http.MethodGet)
	api.HandleFunc("/connection", g.handleConfigureConnection).Methods(http.MethodPut)
	api.HandleFunc("/connection/start", g.handleConnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/stop", g.handleDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/sweep", g.handleSweepInterval).Methods(http.MethodGet, http.MethodPut)
	api.HandleFunc("/store/clear", g.handleClear).Methods(http.MethodPost)

	r.Use(g.accounting, g.rateLimit)

	var h http.Handler = r
	if g.config.EnableCORS {
		h = handlers.CORS(
			handlers.AllowedOrigins(g.config.CORSOrigins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.ExposedHeaders([]string{"X-Request-ID"}),
			handlers.MaxAge(3600),
		)(h)
	}
	h = handlers.CustomLoggingHandler(io.Discard, h, g.logAccess)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(g.logger.Handler(), slog.LevelError)),
	)(h)
	return h
}

// accounting tags the request with an id and counts it
func (g *Gateway) accounting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		g.requestsTotal.Add(1)
		g.mu.Lock()
		g.lastActivity = time.Now()
		g.mu.Unlock()

		if r.ContentLength > 0 {
			g.bytesReceived.Add(uint64(r.ContentLength))
		}
		r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		g.bytesSent.Add(uint64(rec.bytes))
		if rec.status >= 400 {
			g.requestsFailed.Add(1)
		} else {
			g.requestsSuccess.Add(1)
		}
	})
}

// rateLimit rejects requests above the configured rate with 429
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow() {
			g.requestsLimited.Add(1)
			w.Header().Set("Retry-After", "1")
			g.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) logAccess(_ io.Writer, p handlers.LogFormatterParams) {
	g.logger.Debug("HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
		"request_id", p.Request.Header.Get("X-Request-ID"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Handler returns the complete HTTP handler, middleware included
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Initialize prepares the HTTP gateway
func (g *Gateway) Initialize() error {
	return g.config.Validate()
}

// Start listens on the configured port and serves until Stop
func (g *Gateway) Start(_ context.Context) error {
	if g.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.config.Port))
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Start", "listen")
	}

	g.mu.Lock()
	g.listener = ln
	g.server = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	g.serveErr = make(chan error, 1)
	g.startTime = time.Now()
	g.mu.Unlock()
	g.running.Store(true)

	server, serveErr := g.server, g.serveErr
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("Query API server failed", "error", err)
			serveErr <- err
		}
		close(serveErr)
	}()

	g.logger.Info("Query API listening", "address", ln.Addr().String())
	return nil
}

// Stop gracefully stops the HTTP gateway
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	g.mu.RLock()
	server := g.server
	g.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "graceful shutdown")
	}
	return nil
}

// Addr returns the listening address, empty before Start
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// mapErrorToHTTPStatus maps errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.Is(err, errors.ErrKeyNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, errors.ErrNotConfigured) {
		return http.StatusConflict
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		// Could be timeout, service unavailable, etc.
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	if errors.IsFatal(err) {
		return http.StatusInternalServerError
	}

	// Check for specific error patterns
	errStr := err.Error()
	if strings.Contains(errStr, "not found") {
		return http.StatusNotFound
	}
	if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "permission") {
		return http.StatusForbidden
	}

	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients.
// Invalid requests keep their outermost action so the client can fix them;
// everything else is reduced to a generic message.
func (g *Gateway) sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}

	if errors.Is(err, errors.ErrKeyNotFound) {
		return "resource not found"
	}
	if errors.Is(err, errors.ErrNotConfigured) {
		return errors.ErrNotConfigured.Error()
	}
	if errors.IsInvalid(err) {
		var ce *errors.ClassifiedError
		if errors.As(err, &ce) && ce.Action != "" {
			return "invalid request: " + ce.Action
		}
		return "invalid request"
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}
	if errors.IsFatal(err) {
		return "internal server error"
	}

	// Check for specific safe error patterns
	errStr := err.Error()
	if strings.Contains(errStr, "not found") {
		return "resource not found"
	}
	if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "permission") {
		return "access denied"
	}

	return "internal server error"
}

// fail writes the mapped status and sanitized message for err
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := g.mapErrorToHTTPStatus(err)
	if status >= 500 {
		g.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		g.logger.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	g.writeError(w, status, g.sanitizeError(err))
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}

// writeJSON writes a 200 response with v encoded as JSON
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

// Component metadata implementation

// Meta returns component metadata
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        g.name,
		Type:        "gateway",
		Description: "HTTP query API over the live message store",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns current data flow metrics
func (g *Gateway) DataFlow() component.FlowMetrics {
	g.mu.RLock()
	startTime := g.startTime
	lastActivity := g.lastActivity
	g.mu.RUnlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()
	bytesRx := g.bytesReceived.Load()
	bytesTx := g.bytesSent.Load()

	// Calculate error rate
	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	// Average since startup
	var messagesPerSecond, bytesPerSecond float64
	uptime := time.Since(startTime).Seconds()
	if uptime > 0 {
		messagesPerSecond = float64(total) / uptime
		totalBytes := bytesRx + bytesTx
		bytesPerSecond = float64(totalBytes) / uptime
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
