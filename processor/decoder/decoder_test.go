package decoder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/geo"
	"github.com/c360/v2xstreams/testutil"
)

func decodeOne(t *testing.T, doc map[string]any) message.Message {
	t.Helper()
	msgs, err := Decode(testutil.JSON(doc))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestDecode_CAMScaling(t *testing.T) {
	doc := testutil.CAMFixture{
		StationID:   1001,
		StationType: 5,
		Lat:         498355000,
		Lon:         181580000,
		Alt:         24550,
		Speed:       testutil.Int(600),
		Heading:     testutil.Int(900),
		Length:      testutil.Int(45),
		Width:       testutil.Int(18),
		Role:        testutil.Int(6),
		LowBeam:     true,
		Path:        [][3]int64{{10, 20, 100}, {10, 20, 100}},
	}.Document()

	cam, ok := decodeOne(t, doc).(*message.CAM)
	require.True(t, ok)

	assert.Equal(t, int64(1001), cam.StationID)
	assert.Equal(t, 2, cam.MessageID)
	require.NotNil(t, cam.OriginPosition)
	assert.Equal(t, 49.8355, cam.OriginPosition.Lat)
	assert.Equal(t, 18.158, cam.OriginPosition.Lon)
	assert.Equal(t, 245.5, cam.OriginPosition.Alt)

	require.NotNil(t, cam.Speed)
	assert.InDelta(t, 21.6, *cam.Speed, 1e-9)
	assert.Equal(t, 90.0, *cam.Heading)
	assert.Equal(t, 4.5, *cam.VehicleLength)
	assert.Equal(t, 1.8, *cam.VehicleWidth)
	assert.Equal(t, "Emergency Vehicle", cam.RoleName())
	assert.Equal(t, 5, *cam.StationType)
	assert.InDelta(t, 1714557600.123456, cam.TimeEpoch, 1e-6)

	require.NotNil(t, cam.Lights)
	assert.True(t, cam.Lights.LowBeamHeadlights)
	assert.True(t, cam.Lights.DaytimeRunning)
	assert.False(t, cam.Lights.Fog)

	// Path is resolved during decode, each point relative to the previous
	require.Len(t, cam.Path, 2)
	assert.Equal(t, geo.Offset{DLat: 10, DLon: 20, DAlt: 100}, cam.Path[0])
	require.Len(t, cam.ResolvedPath, 2)
	assert.Equal(t, 49.835502, cam.ResolvedPath[1].Lat)
	assert.Equal(t, 18.158004, cam.ResolvedPath[1].Lon)
	assert.InDelta(t, 247.5, cam.ResolvedPath[1].Alt, 1e-9)
}

func TestDecode_CAMOptionalContainers(t *testing.T) {
	t.Run("high frequency absent", func(t *testing.T) {
		cam := decodeOne(t, testutil.CAMFixture{StationID: 1, Lat: 1, Lon: 1}.Document()).(*message.CAM)
		assert.Nil(t, cam.Speed)
		assert.Nil(t, cam.Heading)
		assert.Nil(t, cam.Lights)
		assert.Nil(t, cam.VehicleRole)
		assert.NotNil(t, cam.OriginPosition)
	})

	t.Run("basic container absent", func(t *testing.T) {
		cam := decodeOne(t, testutil.CAMFixture{StationID: 1, NoBasic: true, Speed: testutil.Int(100)}.Document()).(*message.CAM)
		assert.Nil(t, cam.OriginPosition)
		assert.Nil(t, cam.StationType)
		assert.InDelta(t, 3.6, *cam.Speed, 1e-9)
	})

	t.Run("parameters absent", func(t *testing.T) {
		doc := testutil.Envelope(2, 77, map[string]any{})
		msgs, err := Decode(testutil.JSON(doc))
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestDecode_UnsupportedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  []byte
	}{
		{"unknown message id", testutil.JSON(testutil.Envelope(3, 1, map[string]any{}))},
		{"ivim", testutil.JSON(testutil.Envelope(6, 1, map[string]any{}))},
		{"no header", []byte(`{"_source":{"layers":{"its":{}}}}`)},
		{"no its layer", []byte(`{"_source":{"layers":{"frame":{}}}}`)},
		{"not a capture", []byte(`{"id":1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.doc)
			assert.ErrorIs(t, err, errors.ErrUnknownMessage)
		})
	}
}

func TestDecode_MalformedDocuments(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, err := Decode([]byte(`{"_source": {`))
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("missing required field", func(t *testing.T) {
		doc := testutil.DENMFixture{StationID: 1, SequenceNumber: 1}.Document()
		denm := doc["_source"].(map[string]any)["layers"].(map[string]any)["its"].(map[string]any)
		management := denm["denm.DecentralizedEnvironmentalNotificationMessage_element"].(map[string]any)["denm.management_element"].(map[string]any)
		delete(management, "denm.actionID_element")

		_, err := Decode(testutil.JSON(doc))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrMissingField)
		assert.True(t, errors.IsInvalid(err))
		assert.Contains(t, err.Error(), "denm.actionID_element")
	})

	t.Run("non numeric leaf", func(t *testing.T) {
		doc := testutil.SSEMFixture{StationID: 1, IntersectionID: 5}.Document()
		element := doc["_source"].(map[string]any)["layers"].(map[string]any)["its"].(map[string]any)["dsrc.SignalStatusMessage_element"].(map[string]any)
		element["dsrc.sequenceNumber"] = "four"

		_, err := Decode(testutil.JSON(doc))
		assert.ErrorIs(t, err, errors.ErrFieldType)
	})
}

func TestDecode_DENM(t *testing.T) {
	doc := testutil.DENMFixture{
		StationID:      2002,
		SequenceNumber: 17,
		Lat:            500000000,
		Lon:            140000000,
		Alt:            20000,
		CauseCode:      91,
		SubCauseCode:   8,
		Traces: [][][3]int64{
			{{100, 0, 0}, {100, 0, 0}},
			{{-50, 50, 10}},
		},
	}.Document()

	denm := decodeOne(t, doc).(*message.DENM)
	assert.Equal(t, "2002/17", denm.Key())
	assert.Equal(t, int64(2002), denm.OriginatingStationID)
	assert.Equal(t, int64(627397261000), denm.DetectionTime)
	assert.False(t, denm.Termination)
	assert.Equal(t, "Vehicle Breakdown", denm.CauseDescription())
	assert.Equal(t, "Tyre puncture", denm.SubCauseDescription())
	assert.Equal(t, 15, *denm.StationType)
	assert.Equal(t, &geo.Position{Lat: 50, Lon: 14, Alt: 200}, denm.OriginPosition)

	require.Len(t, denm.ResolvedTraces, 2)
	assert.Equal(t, 50.00002, denm.ResolvedTraces[0][1].Lat)
	assert.Equal(t, 14.000005, denm.ResolvedTraces[1][0].Lon)
	assert.InDelta(t, 200.1, denm.ResolvedTraces[1][0].Alt, 1e-9)

	terminated := decodeOne(t, testutil.DENMFixture{StationID: 2002, SequenceNumber: 17, Terminate: true}.Document()).(*message.DENM)
	assert.True(t, terminated.Termination)
}

func TestDecode_SPATEM(t *testing.T) {
	doc := testutil.SPATEMFixture{
		StationID: 300,
		Intersections: []testutil.SpatIntersectionFixture{
			{ID: 42, Name: "Main x First", States: []testutil.SignalStateFixture{
				{SignalGroup: 1, State: 6, LikelyTime: testutil.Int(120)},
				{SignalGroup: 2, State: 3},
			}},
			{ID: 43},
		},
	}.Document()

	spatem := decodeOne(t, doc).(*message.SPATEM)
	assert.Equal(t, "300", spatem.Key())
	require.Len(t, spatem.Intersections, 2)

	in, ok := spatem.Intersection(42)
	require.True(t, ok)
	assert.Equal(t, "Main x First", in.Name)
	assert.Equal(t, 35000, in.Timestamp)
	assert.Equal(t, 175000, in.Moy)

	green, ok := in.MovementState(1)
	require.True(t, ok)
	ev, _ := green.Current()
	assert.Equal(t, message.ColorGreen, ev.Color())
	require.NotNil(t, ev.LikelyTime)
	assert.Equal(t, 120, *ev.LikelyTime)

	red, ok := in.MovementState(2)
	require.True(t, ok)
	ev, _ = red.Current()
	assert.Equal(t, message.ColorRed, ev.Color())
	assert.Nil(t, ev.LikelyTime)

	empty, ok := spatem.Intersection(43)
	require.True(t, ok)
	assert.Empty(t, empty.MovementStates)
}

func TestDecode_MAPEM(t *testing.T) {
	doc := testutil.MAPEMFixture{
		StationID:      400,
		IntersectionID: 42,
		Lat:            500000000,
		Lon:            140000000,
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
			{ID: 9, Type: 1, Ingress: true, Nodes: [][2]int64{{200, 0}}},
		},
	}.Document()

	mapem := decodeOne(t, doc).(*message.MAPEM)
	assert.Equal(t, "42", mapem.Key())
	assert.Equal(t, "Unknown", mapem.Name)
	assert.Equal(t, 3.5, mapem.LaneWidth)
	assert.Equal(t, 245.0, mapem.OriginPosition.Alt)

	require.Len(t, mapem.Lanes, 3)
	lane := mapem.Lanes[0]
	assert.Equal(t, "Vehicle", lane.TypeName)
	assert.True(t, lane.Ingress)
	assert.Equal(t, 1, *lane.IngressApproach)
	assert.Equal(t, geo.Node{X: 0, Y: -100, Delta: 5}, lane.Nodes[0])
	require.Len(t, lane.Connections, 2)
	assert.Equal(t, 5, lane.Connections[0].Lane)
	assert.True(t, lane.Connections[1].Left)
	assert.Equal(t, "CrossWalk", mapem.Lanes[2].TypeName)
	assert.Empty(t, mapem.Lanes[1].Connections)

	require.Len(t, mapem.SignalGroups, 2)
	assert.Equal(t, "421", mapem.SignalGroups[0].ID)
	assert.Equal(t, geo.ManeuverStraight, mapem.SignalGroups[0].Maneuver)
	assert.Equal(t, geo.ManeuverLeft, mapem.SignalGroups[1].Maneuver)
	assert.InDelta(t, 0, mapem.SignalGroups[0].Bearing, 1e-6)
}

func TestDecode_MAPEMMultipleIntersections(t *testing.T) {
	first := testutil.MAPEMFixture{IntersectionID: 1, Lat: 1, Lon: 1, Name: "A"}.Document()
	second := testutil.MAPEMFixture{IntersectionID: 2, Lat: 2, Lon: 2, Name: "B"}.Document()

	mapData := func(doc map[string]any) map[string]any {
		its := doc["_source"].(map[string]any)["layers"].(map[string]any)["its"].(map[string]any)
		return its["dsrc.MapData_element"].(map[string]any)
	}
	tree := mapData(first)["dsrc.intersections_tree"].(map[string]any)
	tree["Item 1"] = mapData(second)["dsrc.intersections_tree"].(map[string]any)["Item 0"]
	mapData(first)["dsrc.intersections"] = "2"

	msgs, err := Decode(testutil.JSON(first))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].(*message.MAPEM).Name)
	assert.Equal(t, "B", msgs[1].(*message.MAPEM).Name)
}

func TestDecode_SREM(t *testing.T) {
	doc := testutil.SREMFixture{
		StationID:      500,
		SequenceNumber: 3,
		Requests: []testutil.RequestFixture{
			{IntersectionID: 5, RequestID: 7, RequestType: 1},
		},
	}.Document()

	srem := decodeOne(t, doc).(*message.SREM)
	want := &message.SREM{
		Base:           message.Base{MessageID: 9, StationID: 500},
		Timestamp:      35000.5,
		SequenceNumber: 3,
		Requests: []message.Request{{
			IntersectionID:   5,
			RequestID:        7,
			RequestType:      1,
			InboundLane:      1,
			OutboundLane:     2,
			ApproachInbound:  1,
			ApproachOutbound: 3,
		}},
		RequestorID:      500,
		RequestorRole:    1,
		RequestorSubRole: 0,
		RequestorName:    "Bus 42",
		RouteName:        "Line 7",
	}
	if diff := cmp.Diff(want, srem, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("decoded SREM mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "500/5", srem.Key())

	_, err := Decode(testutil.JSON(testutil.SREMFixture{StationID: 500}.Document()))
	assert.ErrorIs(t, err, errors.ErrNoRequests)
}

func TestDecode_SSEM(t *testing.T) {
	doc := testutil.SSEMFixture{
		StationID:      600,
		IntersectionID: 5,
		Responses: []testutil.ResponseFixture{
			{RequesterStationID: 500, RequestID: 7, Status: 4},
			{RequesterStationID: 501, RequestID: 8, Status: 5},
		},
	}.Document()

	ssem := decodeOne(t, doc).(*message.SSEM)
	assert.Equal(t, "5", ssem.Key())
	assert.Equal(t, 35010, ssem.Timestamp)
	require.Len(t, ssem.Responses, 2)
	assert.Equal(t, int64(500), ssem.Responses[0].RequesterStationID)
	assert.Equal(t, "Granted", ssem.Responses[0].Status)
	assert.Equal(t, "Denied", ssem.Responses[1].Status)

	resp, ok := ssem.Answers(message.Request{IntersectionID: 5, RequestID: 8})
	require.True(t, ok)
	assert.Equal(t, 5, resp.StatusCode)
}

func TestHeader(t *testing.T) {
	msgType, station, err := Header(testutil.JSON(testutil.SSEMFixture{StationID: 600}.Document()))
	require.NoError(t, err)
	assert.Equal(t, message.TypeSSEM, msgType)
	assert.Equal(t, int64(600), station)
}

func TestDecoder_ProcessCountsDrops(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	d := New(Deps{Metrics: registry.CoreMetrics()})

	msgs := d.Process(testutil.JSON(testutil.CAMFixture{StationID: 9, Lat: 1, Lon: 1}.Document()))
	require.Len(t, msgs, 1)

	assert.Nil(t, d.Process(testutil.JSON(testutil.Envelope(7, 1, map[string]any{}))))
	assert.Nil(t, d.Process([]byte("not json")))
	for i := 0; i < 20; i++ {
		// Drop logging is rate limited; processing must continue regardless
		assert.Nil(t, d.Process(testutil.JSON(testutil.SREMFixture{StationID: 1}.Document())))
	}

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, prom.ToFloat64(core.MessagesDecoded.WithLabelValues("CAM")))
	assert.Equal(t, 1.0, prom.ToFloat64(core.DecodeDrops.WithLabelValues(DropUnknown)))
	assert.Equal(t, 21.0, prom.ToFloat64(core.DecodeDrops.WithLabelValues(DropMalformed)))

	assert.Equal(t, int64(1), d.flow.Messages())
	assert.Equal(t, int64(21), d.flow.Errors())
	assert.Equal(t, "decoder", d.Meta().Name)
	assert.True(t, d.Health().Healthy)
}

func TestDecode_ExponentLeaf(t *testing.T) {
	doc := testutil.CAMFixture{StationID: 3, Lat: 1, Lon: 1, Speed: testutil.Int(100)}.Document()
	its := doc["_source"].(map[string]any)["layers"].(map[string]any)["its"].(map[string]any)
	params := its["cam.CoopAwareness_element"].(map[string]any)["cam.camParameters_element"].(map[string]any)
	high := params["cam.highFrequencyContainer_tree"].(map[string]any)["cam.basicVehicleContainerHighFrequency_element"].(map[string]any)
	high["cam.speed_element"] = map[string]any{"its.speedValue": "1e2147483647"}

	var msgs []message.Message
	assert.NotPanics(t, func() {
		msgs = New(Deps{}).Process(testutil.JSON(doc))
	})
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].(*message.CAM).Speed)

	o := object{"v": "5e-2147483648"}
	_, err := o.number("v")
	assert.ErrorIs(t, err, errors.ErrFieldType)
}

func TestDecoder_ProcessRecoversPanic(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	d := New(Deps{Metrics: registry.CoreMetrics()})
	d.decode = func([]byte) ([]message.Message, error) {
		panic("overflow in decimal QuoRem")
	}

	assert.NotPanics(t, func() {
		assert.Nil(t, d.Process([]byte(`{}`)))
	})
	assert.Equal(t, 1.0, prom.ToFloat64(registry.CoreMetrics().DecodeDrops.WithLabelValues(DropMalformed)))
	assert.Equal(t, int64(1), d.flow.Errors())

	d.decode = Decode
	msgs := d.Process(testutil.JSON(testutil.CAMFixture{StationID: 4, Lat: 1, Lon: 1}.Document()))
	assert.Len(t, msgs, 1)
}
