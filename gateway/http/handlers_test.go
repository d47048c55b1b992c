package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/engine"
	"github.com/c360/v2xstreams/gateway"
	"github.com/c360/v2xstreams/health"
	"github.com/c360/v2xstreams/input/tcp"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/processor/decoder"
	"github.com/c360/v2xstreams/storage/messagestore"
	"github.com/c360/v2xstreams/testutil"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Config{Source: tcp.DefaultConfig(), SweepInterval: messagestore.Never}, engine.Deps{})
	require.NoError(t, err)
	return e
}

func newTestGateway(t *testing.T, cfg gateway.Config) *Gateway {
	t.Helper()
	g, err := NewGateway(cfg, newTestEngine(t), Deps{})
	require.NoError(t, err)
	return g
}

// seed decodes fixture documents into the engine's store
func seed(t *testing.T, e *engine.Engine, docs ...map[string]any) {
	t.Helper()
	for _, doc := range docs {
		msgs, err := decoder.Decode(testutil.JSON(doc))
		require.NoError(t, err)
		for _, m := range msgs {
			e.Store().Upsert(m)
		}
	}
}

func intersectionFixtures() []map[string]any {
	return []map[string]any{
		testutil.MAPEMFixture{
			StationID:      400,
			IntersectionID: 42,
			Name:           "Main/First",
			Lat:            487000000,
			Lon:            91000000,
			LaneWidth:      350,
			Lanes: []testutil.LaneFixture{
				{
					ID: 1, Ingress: true, Approach: testutil.Int(1),
					Nodes: [][2]int64{{0, -100}, {0, -500}},
					Connections: []testutil.ConnectionFixture{
						{Lane: 5, SignalGroup: 1, Straight: true},
						{Lane: 6, SignalGroup: 2, Left: true},
					},
				},
				{ID: 5, Egress: true, Nodes: [][2]int64{{0, 100}, {0, 500}}},
			},
		}.Document(),
		testutil.SPATEMFixture{
			StationID: 900,
			Intersections: []testutil.SpatIntersectionFixture{{
				ID: 42,
				States: []testutil.SignalStateFixture{
					{SignalGroup: 1, State: 6, LikelyTime: testutil.Int(50)},
					{SignalGroup: 2, State: 3},
				},
			}},
		}.Document(),
	}
}

type fixture struct {
	engine  *engine.Engine
	gateway *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := newTestEngine(t)
	g, err := NewGateway(gateway.DefaultConfig(), e, Deps{})
	require.NoError(t, err)
	return &fixture{engine: e, gateway: g}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.gateway.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(gateway.Config{}, newTestEngine(t), Deps{})
	assert.Error(t, err)

	_, err = NewGateway(gateway.DefaultConfig(), nil, Deps{})
	assert.Error(t, err)
}

func TestHandleList(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine,
		testutil.CAMFixture{StationID: 2, Lat: 487000000, Lon: 91000000}.Document(),
		testutil.CAMFixture{StationID: 1, Lat: 487100000, Lon: 91100000}.Document(),
	)

	w := f.do(t, http.MethodGet, "/api/v1/messages/cam", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		MessageType string           `json:"message_type"`
		Count       int              `json:"count"`
		Items       []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CAM", resp.MessageType)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Items, 2)

	w = f.do(t, http.MethodGet, "/api/v1/messages/DENM", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = f.do(t, http.MethodGet, "/api/v1/messages/BSM", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGet(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine, testutil.DENMFixture{
		StationID: 7, SequenceNumber: 3, Lat: 487050000, Lon: 91050000, CauseCode: 94,
	}.Document())

	w := f.do(t, http.MethodGet, "/api/v1/messages/DENM/7/3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[map[string]any](t, w)
	assert.Equal(t, float64(3), got["sequence_number"])
	assert.Equal(t, float64(94), got["cause_code"])

	w = f.do(t, http.MethodGet, "/api/v1/messages/DENM/7/4", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "resource not found")
}

func TestHandleGeoJSON(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine, intersectionFixtures()...)
	seed(t, f.engine,
		testutil.CAMFixture{StationID: 1, Lat: 487010000, Lon: 91010000, Speed: testutil.Int(1000)}.Document(),
		testutil.DENMFixture{StationID: 7, SequenceNumber: 3, Lat: 487050000, Lon: 91050000, CauseCode: 94}.Document(),
	)

	w := f.do(t, http.MethodGet, "/api/v1/geojson", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.BoundingBox, 4)

	kinds := map[string]int{}
	var green bool
	for _, feat := range fc.Features {
		kind := feat.PropertyMustString("kind")
		kinds[kind]++
		if kind == kindSignalGroup && feat.PropertyMustInt("signal_group") == 1 {
			green = feat.PropertyMustString("color") == "GREEN"
		}
	}
	assert.Equal(t, 1, kinds[kindVehicle])
	assert.Equal(t, 1, kinds[kindEvent])
	assert.Equal(t, 2, kinds[kindLane])
	assert.Equal(t, 2, kinds[kindSignalGroup])
	assert.True(t, green, "signal group 1 carries its SPATEM colour")

	w = f.do(t, http.MethodGet, "/api/v1/geojson?types=CAM", "")
	fc, err = geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.True(t, fc.Features[0].Geometry.IsPoint())

	w = f.do(t, http.MethodGet, "/api/v1/geojson?types=CAM,XYZ", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleNearby(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine,
		testutil.CAMFixture{StationID: 1, Lat: 487001000, Lon: 91001000}.Document(),
		testutil.CAMFixture{StationID: 2, Lat: 525200000, Lon: 134000000}.Document(),
		testutil.DENMFixture{StationID: 7, SequenceNumber: 3, Lat: 487050000, Lon: 91050000, CauseCode: 94}.Document(),
	)

	w := f.do(t, http.MethodGet, "/api/v1/nearby?lat=48.7&lon=9.1&k=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[NearbyResponse](t, w)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "1", resp.Hits[0].Key)
	assert.Equal(t, message.TypeDENM, resp.Hits[1].Type)

	w = f.do(t, http.MethodGet, "/api/v1/nearby?bbox=9.0,48.6,9.2,48.8&types=CAM", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[NearbyResponse](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "1", resp.Hits[0].Key)

	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "lon=9.1"},
		{"lat out of range", "lat=91&lon=9.1"},
		{"k too large", "lat=48.7&lon=9.1&k=1000"},
		{"short bbox", "bbox=9,48,10"},
		{"inverted bbox", "bbox=10,48,9,49"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/nearby?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleSignals(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine, intersectionFixtures()...)

	w := f.do(t, http.MethodGet, "/api/v1/intersections/42/signals?bearing=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[SignalsResponse](t, w)
	assert.Equal(t, int64(42), resp.IntersectionID)
	assert.Equal(t, "Main/First", resp.Name)
	assert.Equal(t, message.ApproachTolerance, resp.Tolerance)
	assert.True(t, resp.HasPhases)
	require.Len(t, resp.Signals, 2)

	// sorted by maneuver: LEFT before STRAIGHT
	assert.Equal(t, 2, resp.Signals[0].SignalGroup.SignalGroup)
	assert.Equal(t, "RED", resp.Signals[0].Color)
	assert.Equal(t, 1, resp.Signals[1].SignalGroup.SignalGroup)
	assert.Equal(t, "GREEN", resp.Signals[1].Color)
	require.NotNil(t, resp.Signals[1].LikelyTime)
	assert.Equal(t, 50, *resp.Signals[1].LikelyTime)

	w = f.do(t, http.MethodGet, "/api/v1/intersections/42/signals?bearing=180", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[SignalsResponse](t, w).Signals)

	w = f.do(t, http.MethodGet, "/api/v1/intersections/42/signals", "")
	assert.Len(t, decodeBody[SignalsResponse](t, w).Signals, 2, "no bearing lists every group")

	w = f.do(t, http.MethodGet, "/api/v1/intersections/42/signals?bearing=north", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/intersections/43/signals", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSignalView_WithoutPhases(t *testing.T) {
	v := signalView(message.SignalGroup{SignalGroup: 4}, nil)
	assert.Equal(t, "UNKNOWN", v.Color)
	assert.Nil(t, v.Phase)
}

func TestConnectionControl(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop(time.Second) })

	w := f.do(t, http.MethodPost, "/api/v1/connection/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "server address, or port not set")

	w = f.do(t, http.MethodPut, "/api/v1/connection", `{"host":"127.0.0.1","port":70000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/connection", `{"host":"","port":7000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/connection", `{"host":"127.0.0.1","port":1,"extra":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")

	w = f.do(t, http.MethodPost, "/api/v1/connection/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[engine.Status](t, w)
	assert.False(t, st.Connection.Attempting)

	w = f.do(t, http.MethodGet, "/api/v1/connection", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[engine.Status](t, w).Running)

	w = f.do(t, http.MethodDelete, "/api/v1/connection", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSweepAndClear(t *testing.T) {
	f := newFixture(t)
	seed(t, f.engine, testutil.CAMFixture{StationID: 1, Lat: 487000000, Lon: 91000000}.Document())

	w := f.do(t, http.MethodPut, "/api/v1/sweep", `{"interval":"30s"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[SweepResponse](t, w)
	assert.Equal(t, "30s", resp.Interval)
	assert.Contains(t, resp.Choices, "never")
	assert.Equal(t, 30*time.Second, f.engine.SweepInterval())

	w = f.do(t, http.MethodPut, "/api/v1/sweep", `{"interval":"42s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/sweep", "")
	assert.Equal(t, "30s", decodeBody[SweepResponse](t, w).Interval)

	w = f.do(t, http.MethodPost, "/api/v1/store/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, w)["removed"])
	assert.Equal(t, 0, f.engine.Store().Len())
	assert.Equal(t, 0, f.engine.Index().Len())
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "engine not running")

	g, err := NewGateway(gateway.DefaultConfig(), f.engine, Deps{
		Health: func() health.Status { return health.NewHealthy("v2xstreams", "ok") },
	})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody[health.Status](t, rec).Status)
}

func TestRateLimit(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 2
	g := newTestGateway(t, cfg)

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		g.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/messages/CAM", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, uint64(1), g.requestsLimited.Load())
	assert.Equal(t, uint64(1), g.requestsFailed.Load())
}

func TestNotFoundRoute(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v2/everything", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestGateway_StartStop(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.Port = 0
	g := newTestGateway(t, cfg)
	assert.Empty(t, g.Addr())

	require.NoError(t, g.Start(context.Background()))
	assert.True(t, g.Health().Healthy)
	assert.Error(t, g.Start(context.Background()), "second start fails")

	resp, err := http.Get("http://" + g.Addr() + "/api/v1/messages/CAM")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Stop(time.Second))
	assert.False(t, g.Health().Healthy)
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		status int
		want   string
	}{
		{"bad bbox", http.MethodGet, "/api/v1/nearby?bbox=1,2,3", http.StatusBadRequest, "invalid request: bbox must be minLon,minLat,maxLon,maxLat"},
		{"unknown type", http.MethodGet, "/api/v1/messages/IVIM", http.StatusBadRequest, "invalid request: message type IVIM"},
		{"wrong method", http.MethodDelete, "/api/v1/sweep", http.StatusMethodNotAllowed, "method DELETE not allowed"},
		{"wrong method on store", http.MethodGet, "/api/v1/store/clear", http.StatusMethodNotAllowed, "method GET not allowed"},
		{"unknown api path", http.MethodGet, "/api/v1/nowhere", http.StatusNotFound, "resource not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.target, "")
			assert.Equal(t, tt.status, w.Code)
			body := decodeBody[map[string]any](t, w)
			assert.Equal(t, tt.want, body["error"])
			assert.NotContains(t, w.Body.String(), "Gateway")
			assert.NotContains(t, w.Body.String(), "failed:")
		})
	}
}
