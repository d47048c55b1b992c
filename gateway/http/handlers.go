package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/health"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/spatial"
	"github.com/c360/v2xstreams/storage/messagestore"
)

const (
	defaultNearest = 10
	maxNearest     = 100
)

// ListResponse is the body of GET /api/v1/messages/{type}
type ListResponse struct {
	MessageType message.Type      `json:"message_type"`
	Count       int               `json:"count"`
	Items       []message.Message `json:"items"`
}

// NearbyResponse is the body of GET /api/v1/nearby
type NearbyResponse struct {
	Count int           `json:"count"`
	Hits  []spatial.Hit `json:"hits"`
}

// SignalView is one signal group with its live phase
type SignalView struct {
	message.SignalGroup

	Phase      *int   `json:"phase,omitempty"`
	StateName  string `json:"state_name,omitempty"`
	Color      string `json:"color"`
	ColorLabel string `json:"color_label"`
	MinEndTime *int   `json:"min_end_time,omitempty"`
	MaxEndTime *int   `json:"max_end_time,omitempty"`
	LikelyTime *int   `json:"likely_time,omitempty"`
}

// SignalsResponse is the body of GET /api/v1/intersections/{id}/signals
type SignalsResponse struct {
	IntersectionID int64        `json:"intersection_id"`
	Name           string       `json:"name"`
	Bearing        *float64     `json:"bearing,omitempty"`
	Tolerance      float64      `json:"tolerance"`
	HasPhases      bool         `json:"has_phases"`
	Signals        []SignalView `json:"signals"`
}

// ConnectionRequest is the body of PUT /api/v1/connection
type ConnectionRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SweepRequest is the body of PUT /api/v1/sweep
type SweepRequest struct {
	Interval string `json:"interval"`
}

// SweepResponse reports the sweep interval and its choices
type SweepResponse struct {
	Interval string   `json:"interval"`
	Choices  []string `json:"choices"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var status health.Status
	if g.health != nil {
		status = g.health()
	} else {
		st := g.ctrl.Status()
		switch {
		case !st.Running:
			status = health.NewUnhealthy("v2xstreams", "engine not running")
		case st.Connection.Configured && !st.Connection.Connected:
			status = health.NewDegraded("v2xstreams", st.Connection.Message)
		default:
			status = health.NewHealthy("v2xstreams", st.Connection.Message)
		}
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	t, err := messageType(mux.Vars(r)["type"])
	if err != nil {
		g.fail(w, r, err)
		return
	}
	items := g.ctrl.Store().List(t)
	if items == nil {
		items = []message.Message{}
	}
	g.writeJSON(w, http.StatusOK, ListResponse{MessageType: t, Count: len(items), Items: items})
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := messageType(vars["type"])
	if err != nil {
		g.fail(w, r, err)
		return
	}
	msg, ok := g.ctrl.Store().Get(t, vars["key"])
	if !ok {
		g.fail(w, r, errors.Wrap(errors.ErrKeyNotFound, "Gateway", "handleGet", "lookup "+string(t)))
		return
	}
	g.writeJSON(w, http.StatusOK, msg)
}

func (g *Gateway) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	types, err := messageTypes(r.URL.Query().Get("types"))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	fc := buildFeatureCollection(g.ctrl.Store(), types)
	data, err := fc.MarshalJSON()
	if err != nil {
		g.fail(w, r, errors.WrapFatal(err, "Gateway", "handleGeoJSON", "encode feature collection"))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (g *Gateway) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	types, err := messageTypes(q.Get("types"))
	if err != nil {
		g.fail(w, r, err)
		return
	}

	var hits []spatial.Hit
	if raw := q.Get("bbox"); raw != "" {
		box, err := parseBBox(raw)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		hits, err = g.ctrl.Index().Within(box, types...)
		if err != nil {
			g.fail(w, r, err)
			return
		}
	} else {
		lat, err := floatParam(q.Get("lat"), "lat", -90, 90)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		lon, err := floatParam(q.Get("lon"), "lon", -180, 180)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		k := defaultNearest
		if raw := q.Get("k"); raw != "" {
			k, err = strconv.Atoi(raw)
			if err != nil || k < 1 || k > maxNearest {
				g.fail(w, r, invalidParam("k", fmt.Sprintf("must be between 1 and %d", maxNearest)))
				return
			}
		}
		hits = g.ctrl.Index().Nearest(lat, lon, k, types...)
	}

	if hits == nil {
		hits = []spatial.Hit{}
	}
	g.writeJSON(w, http.StatusOK, NearbyResponse{Count: len(hits), Hits: hits})
}

func (g *Gateway) handleSignals(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		g.fail(w, r, invalidParam("id", "must be an intersection id"))
		return
	}

	var bearing *float64
	if raw := r.URL.Query().Get("bearing"); raw != "" {
		b, err := floatParam(raw, "bearing", 0, 360)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		bearing = &b
	}

	mapem, phases, ok := g.ctrl.Store().Intersection(id)
	if !ok {
		g.fail(w, r, errors.Wrap(errors.ErrKeyNotFound, "Gateway", "handleSignals", "lookup intersection"))
		return
	}

	groups := mapem.SignalGroups
	if bearing != nil {
		groups = mapem.SignalsToward(*bearing, message.ApproachTolerance)
	}

	resp := SignalsResponse{
		IntersectionID: mapem.IntersectionID,
		Name:           mapem.Name,
		Bearing:        bearing,
		Tolerance:      message.ApproachTolerance,
		HasPhases:      phases != nil,
		Signals:        make([]SignalView, 0, len(groups)),
	}
	for _, sg := range groups {
		resp.Signals = append(resp.Signals, signalView(sg, phases))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// signalView joins a signal group with the current phase of its movement.
// Without phase data the colour is UNKNOWN.
func signalView(sg message.SignalGroup, phases *message.SpatemIntersection) SignalView {
	v := SignalView{
		SignalGroup: sg,
		Color:       string(message.ColorUnknown),
		ColorLabel:  message.ColorUnknown.Label(),
	}
	if phases == nil {
		return v
	}
	state, ok := phases.MovementState(sg.SignalGroup)
	if !ok {
		return v
	}
	ev, ok := state.Current()
	if !ok {
		return v
	}
	phase := ev.State
	v.Phase = &phase
	v.StateName = ev.StateName()
	v.Color = string(ev.Color())
	v.ColorLabel = ev.Color().Label()
	v.MinEndTime = ev.MinEndTime
	v.MaxEndTime = ev.MaxEndTime
	v.LikelyTime = ev.LikelyTime
	return v
}

func (g *Gateway) handleConnectionStatus(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.ctrl.Status())
}

func (g *Gateway) handleConfigureConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := g.decodeBody(r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Host) == "" {
		g.fail(w, r, invalidParam("host", "required"))
		return
	}
	if err := g.ctrl.Configure(strings.TrimSpace(req.Host), req.Port); err != nil {
		g.fail(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, g.ctrl.Status())
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := g.ctrl.Connect(); err != nil {
		g.fail(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, g.ctrl.Status())
}

func (g *Gateway) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	g.ctrl.Disconnect()
	g.writeJSON(w, http.StatusOK, g.ctrl.Status())
}

func (g *Gateway) handleSweepInterval(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var req SweepRequest
		if err := g.decodeBody(r, &req); err != nil {
			g.fail(w, r, err)
			return
		}
		d, err := messagestore.ParseInterval(req.Interval)
		if err != nil {
			g.fail(w, r, errors.WrapInvalid(err, "Gateway", "handleSweepInterval", "parse interval"))
			return
		}
		if err := g.ctrl.SetSweepInterval(d); err != nil {
			g.fail(w, r, err)
			return
		}
	}

	choices := make([]string, len(messagestore.Intervals))
	for i, d := range messagestore.Intervals {
		choices[i] = messagestore.FormatInterval(d)
	}
	g.writeJSON(w, http.StatusOK, SweepResponse{
		Interval: g.ctrl.Status().SweepInterval,
		Choices:  choices,
	})
}

func (g *Gateway) handleClear(w http.ResponseWriter, _ *http.Request) {
	removed := g.ctrl.Store().Len()
	g.ctrl.Clear()
	g.writeJSON(w, http.StatusOK, map[string]any{
		"removed":    removed,
		"cleared_at": time.Now().UTC(),
	})
}

// decodeBody reads a JSON body, rejecting unknown fields
func (g *Gateway) decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.WrapInvalid(err, "Gateway", "decodeBody", "decode request body")
	}
	return nil
}

func invalidParam(name, reason string) error {
	return errors.WrapInvalid(errors.ErrInvalidData, "Gateway", "params", name+" "+reason)
}

func messageType(raw string) (message.Type, error) {
	t, ok := message.ParseType(raw)
	if !ok {
		return "", errors.WrapInvalid(errors.ErrUnknownMessage, "Gateway", "params", "message type "+raw)
	}
	return t, nil
}

// messageTypes parses a comma separated type filter; empty means all
func messageTypes(raw string) ([]message.Type, error) {
	if raw == "" {
		return nil, nil
	}
	var out []message.Type
	for _, part := range strings.Split(raw, ",") {
		t, err := messageType(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func floatParam(raw, name string, minValue, maxValue float64) (float64, error) {
	if raw == "" {
		return 0, invalidParam(name, "required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < minValue || v > maxValue {
		return 0, invalidParam(name, fmt.Sprintf("must be a number between %g and %g", minValue, maxValue))
	}
	return v, nil
}

// parseBBox reads "minLon,minLat,maxLon,maxLat"
func parseBBox(raw string) (spatial.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return spatial.BBox{}, invalidParam("bbox", "must be minLon,minLat,maxLon,maxLat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return spatial.BBox{}, invalidParam("bbox", "must be minLon,minLat,maxLon,maxLat")
		}
		v[i] = f
	}
	box := spatial.BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := box.Validate(); err != nil {
		return spatial.BBox{}, invalidParam("bbox", "is out of range or inverted")
	}
	return box, nil
}
