package http

import (
	"github.com/paulmach/orb"
	geojson "github.com/paulmach/go.geojson"

	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Feature kinds carried in the "kind" property
const (
	kindVehicle     = "vehicle"
	kindPath        = "path"
	kindEvent       = "event"
	kindTrace       = "trace"
	kindLane        = "lane"
	kindSignalGroup = "signal_group"
)

// geoTypes are the protocols with a map representation
var geoTypes = []message.Type{message.TypeCAM, message.TypeDENM, message.TypeMAPEM}

// featureBuilder collects features and the bounds of everything placed
type featureBuilder struct {
	fc     *geojson.FeatureCollection
	points orb.MultiPoint
}

func coordinate(p orb.Point) []float64 { return []float64{p.X(), p.Y()} }

func (b *featureBuilder) point(pos geo.Position, props map[string]any) {
	pt := pos.Point()
	f := geojson.NewPointFeature(coordinate(pt))
	for k, v := range props {
		f.SetProperty(k, v)
	}
	b.fc.AddFeature(f)
	b.points = append(b.points, pt)
}

// line adds a LineString; paths with fewer than two points are skipped
func (b *featureBuilder) line(path []geo.Position, props map[string]any) {
	if len(path) < 2 {
		return
	}
	ls := geo.LineString(path)
	coords := make([][]float64, len(ls))
	for i, pt := range ls {
		coords[i] = coordinate(pt)
	}
	f := geojson.NewLineStringFeature(coords)
	for k, v := range props {
		f.SetProperty(k, v)
	}
	b.fc.AddFeature(f)
	b.points = append(b.points, ls...)
}

// buildFeatureCollection renders the live store: CAM positions and path
// histories, DENM events and traces, MAPEM lanes and signal groups with the
// colour of their current phase. types restricts the export; empty means
// every protocol with a map representation.
func buildFeatureCollection(store *messagestore.Store, types []message.Type) *geojson.FeatureCollection {
	b := &featureBuilder{fc: geojson.NewFeatureCollection()}

	want := make(map[message.Type]bool)
	if len(types) == 0 {
		types = geoTypes
	}
	for _, t := range types {
		want[t] = true
	}

	if want[message.TypeCAM] {
		for _, m := range store.List(message.TypeCAM) {
			addCAM(b, m.(*message.CAM))
		}
	}
	if want[message.TypeDENM] {
		for _, m := range store.List(message.TypeDENM) {
			addDENM(b, m.(*message.DENM))
		}
	}
	if want[message.TypeMAPEM] {
		for _, m := range store.List(message.TypeMAPEM) {
			mapem := m.(*message.MAPEM)
			_, phases, _ := store.Intersection(mapem.IntersectionID)
			addMAPEM(b, mapem, phases)
		}
	}

	if len(b.points) > 0 {
		bound := b.points.Bound()
		b.fc.BoundingBox = []float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
	}
	return b.fc
}

func addCAM(b *featureBuilder, cam *message.CAM) {
	if cam.OriginPosition == nil {
		return
	}
	props := map[string]any{
		"kind":         kindVehicle,
		"message_type": string(message.TypeCAM),
		"key":          cam.Key(),
		"station_id":   cam.StationID,
		"station_type": message.StationTypeName(cam.StationType),
		"vehicle_role": cam.RoleName(),
		"altitude":     cam.OriginPosition.Alt,
	}
	if cam.Speed != nil {
		props["speed_kmh"] = *cam.Speed
	}
	if cam.Heading != nil {
		props["heading_deg"] = *cam.Heading
	}
	if cam.LatestDenm != nil {
		props["latest_denm"] = cam.LatestDenm.String()
	}
	b.point(*cam.OriginPosition, props)

	b.line(cam.ResolvedPath, map[string]any{
		"kind":         kindPath,
		"message_type": string(message.TypeCAM),
		"key":          cam.Key(),
	})
}

func addDENM(b *featureBuilder, denm *message.DENM) {
	if denm.OriginPosition == nil {
		return
	}
	b.point(*denm.OriginPosition, map[string]any{
		"kind":           kindEvent,
		"message_type":   string(message.TypeDENM),
		"key":            denm.Key(),
		"station_id":     denm.StationID,
		"cause_code":     denm.CauseCode,
		"sub_cause_code": denm.SubCauseCode,
		"cause":          denm.CauseDescription(),
		"sub_cause":      denm.SubCauseDescription(),
		"termination":    denm.Termination,
		"detection_time": denm.DetectionTime,
	})

	for i, trace := range denm.ResolvedTraces {
		b.line(trace, map[string]any{
			"kind":         kindTrace,
			"message_type": string(message.TypeDENM),
			"key":          denm.Key(),
			"trace":        i,
		})
	}
}

func addMAPEM(b *featureBuilder, mapem *message.MAPEM, phases *message.SpatemIntersection) {
	for _, lane := range mapem.Lanes {
		props := map[string]any{
			"kind":            kindLane,
			"message_type":    string(message.TypeMAPEM),
			"key":             mapem.Key(),
			"intersection_id": mapem.IntersectionID,
			"lane_id":         lane.LaneID,
			"lane_type":       lane.TypeName,
			"ingress":         lane.Ingress,
			"egress":          lane.Egress,
			"width_m":         mapem.LaneWidth,
		}
		if lane.IngressApproach != nil {
			props["ingress_approach"] = *lane.IngressApproach
		}
		if lane.EgressApproach != nil {
			props["egress_approach"] = *lane.EgressApproach
		}
		b.line(lane.Shape, props)
	}

	for _, sg := range mapem.SignalGroups {
		view := signalView(sg, phases)
		props := map[string]any{
			"kind":            kindSignalGroup,
			"message_type":    string(message.TypeMAPEM),
			"key":             mapem.Key(),
			"intersection_id": mapem.IntersectionID,
			"name":            mapem.Name,
			"id":              sg.ID,
			"signal_group":    sg.SignalGroup,
			"maneuver":        sg.Maneuver.String(),
			"bearing":         sg.Bearing,
			"color":           view.Color,
		}
		if view.StateName != "" {
			props["state"] = view.StateName
		}
		if view.LikelyTime != nil {
			props["likely_time"] = *view.LikelyTime
		}
		b.point(sg.Position, props)
	}
}
