package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/gateway"
)

func TestGetOrGenerateRequestID(t *testing.T) {
	t.Run("header is reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/geojson", nil)
		req.Header.Set("X-Request-ID", "550e8400-e29b-41d4-a716-446655440000")
		assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", getOrGenerateRequestID(req))
	})

	t.Run("generated ids are 16 hex chars and unique", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/geojson", nil)
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := getOrGenerateRequestID(req)
			assert.Len(t, id, 16)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("response echoes the id", func(t *testing.T) {
		g := newTestGateway(t, gateway.DefaultConfig())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/CAM", nil)
		req.Header.Set("X-Request-ID", "trace-7")
		w := httptest.NewRecorder()
		g.Handler().ServeHTTP(w, req)
		assert.Equal(t, "trace-7", w.Header().Get("X-Request-ID"))
	})
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	g := &Gateway{}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown entity", pkgerrors.Wrap(pkgerrors.ErrKeyNotFound, "Gateway", "handleGet", "lookup CAM"), http.StatusNotFound},
		{"source address unset", pkgerrors.WrapInvalid(pkgerrors.ErrNotConfigured, "engine", "Connect", "check source address"), http.StatusConflict},
		{"bad parameter", pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "Gateway", "handleNearby", "k must be positive"), http.StatusBadRequest},
		{"dial timeout", pkgerrors.WrapTransient(pkgerrors.ErrConnectionTimeout, "tcp-input", "connect", "dial"), http.StatusGatewayTimeout},
		{"broker down", pkgerrors.WrapTransient(pkgerrors.ErrNoConnection, "mqtt", "deliver", "publish"), http.StatusServiceUnavailable},
		{"fatal", pkgerrors.WrapFatal(pkgerrors.ErrStorageUnavailable, "Gateway", "handleGeoJSON", "encode"), http.StatusInternalServerError},
		{"unclassified not found", fmt.Errorf("intersection not found"), http.StatusNotFound},
		{"unclassified permission", fmt.Errorf("permission denied"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	g := &Gateway{}

	tests := []struct {
		name   string
		err    error
		want   string
		hidden []string
	}{
		{
			name:   "invalid keeps the action",
			err:    pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "Gateway", "params", "bbox must be minLon,minLat,maxLon,maxLat"),
			want:   "invalid request: bbox must be minLon,minLat,maxLon,maxLat",
			hidden: []string{"Gateway", "params"},
		},
		{
			name:   "timeout hides the address",
			err:    pkgerrors.WrapTransient(pkgerrors.ErrConnectionTimeout, "tcp-input", "connect", "dial 10.0.0.7:7000 timeout"),
			want:   "request timeout",
			hidden: []string{"10.0.0.7", "tcp-input"},
		},
		{
			name:   "transient hides the subject",
			err:    pkgerrors.WrapTransient(pkgerrors.ErrNoConnection, "nats-mirror", "deliver", "publish v2x.events.cam.upsert"),
			want:   "service temporarily unavailable",
			hidden: []string{"v2x.events", "nats"},
		},
		{
			name:   "fatal",
			err:    pkgerrors.WrapFatal(pkgerrors.ErrStorageUnavailable, "Gateway", "handleGeoJSON", "encode feature collection"),
			want:   "internal server error",
			hidden: []string{"encode", "feature"},
		},
		{
			name:   "missing entity",
			err:    pkgerrors.Wrap(pkgerrors.ErrKeyNotFound, "Gateway", "handleGet", "lookup DENM"),
			want:   "resource not found",
			hidden: []string{"DENM", "handleGet"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.sanitizeError(tt.err)
			assert.Equal(t, tt.want, got)
			for _, s := range tt.hidden {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact origin", []string{"https://map.example"}, "https://map.example", "https://map.example"},
		{"wildcard", []string{"*"}, "https://map.example", "*"},
		{"origin not allowed", []string{"https://map.example"}, "https://other.example", ""},
		{"second of several", []string{"https://a.example", "https://b.example"}, "https://b.example", "https://b.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := gateway.DefaultConfig()
			cfg.EnableCORS = true
			cfg.CORSOrigins = tt.allowed
			g := newTestGateway(t, cfg)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/CAM", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			g.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestWriteError(t *testing.T) {
	g := &Gateway{}

	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusTooManyRequests} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			w := httptest.NewRecorder()
			g.writeError(w, code, "something went wrong")

			assert.Equal(t, code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "something went wrong", body["error"])
			assert.Contains(t, body, "status")
		})
	}
}

func TestDataFlow(t *testing.T) {
	t.Run("rates over uptime", func(t *testing.T) {
		g := &Gateway{}
		g.startTime = time.Now().Add(-10 * time.Second)
		g.lastActivity = time.Now()
		g.requestsTotal.Store(100)
		g.requestsSuccess.Store(90)
		g.requestsFailed.Store(10)
		g.bytesReceived.Store(5000)
		g.bytesSent.Store(10000)

		flow := g.DataFlow()
		assert.InDelta(t, 0.1, flow.ErrorRate, 1e-9)
		assert.InDelta(t, 10, flow.MessagesPerSecond, 5)
		assert.InDelta(t, 1500, flow.BytesPerSecond, 500)
	})

	t.Run("no requests", func(t *testing.T) {
		g := &Gateway{}
		g.startTime = time.Now()
		g.lastActivity = time.Now()

		flow := g.DataFlow()
		assert.Zero(t, flow.ErrorRate)
		assert.Zero(t, flow.MessagesPerSecond)
	})
}
