package testutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Fixture builders for packet-capture envelopes. Every leaf is a string, the
// way the capture tool emits them; lists are "Item N" trees with a count.

func s(v int64) string { return strconv.FormatInt(v, 10) }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Items builds a capture list: the element count and the "Item N" tree
func Items(elements ...map[string]any) (string, map[string]any) {
	tree := make(map[string]any, len(elements))
	for i, e := range elements {
		tree[fmt.Sprintf("Item %d", i)] = e
	}
	return strconv.Itoa(len(elements)), tree
}

// Envelope wraps the its layer of a message in the capture envelope
func Envelope(messageID int, stationID int64, its map[string]any) map[string]any {
	its["its.ItsPduHeader_element"] = map[string]any{
		"its.protocolVersion": "2",
		"its.messageID":       strconv.Itoa(messageID),
		"its.stationID":       s(stationID),
	}
	return map[string]any{
		"_index": "packets-2024-05-01",
		"_type":  "doc",
		"_source": map[string]any{
			"layers": map[string]any{
				"frame": map[string]any{
					"frame.time_epoch": "1714557600.123456000",
					"frame.len":        "120",
				},
				"its": its,
			},
		},
	}
}

// JSON encodes a fixture document
func JSON(doc map[string]any) []byte {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Stream renders documents the way the capture feed sends them: one
// pretty-printed JSON array, one field per line.
func Stream(docs ...map[string]any) string {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(data) + "\n"
}

// Lines splits a stream into lines without their terminators
func Lines(stream string) []string {
	return strings.Split(strings.TrimSuffix(stream, "\n"), "\n")
}

func position(lat, lon, alt int64) map[string]any {
	return map[string]any{
		"its.latitude":  s(lat),
		"its.longitude": s(lon),
		"its.altitude_element": map[string]any{
			"its.altitudeValue":      s(alt),
			"its.altitudeConfidence": "15",
		},
	}
}

func pathPoints(points [][3]int64) (string, map[string]any) {
	items := make([]map[string]any, len(points))
	for i, p := range points {
		items[i] = map[string]any{
			"its.PathPoint_element": map[string]any{
				"its.pathPosition_element": map[string]any{
					"its.deltaLatitude":  s(p[0]),
					"its.deltaLongitude": s(p[1]),
					"its.deltaAltitude":  s(p[2]),
				},
			},
		}
	}
	return Items(items...)
}

// CAMFixture describes a CAM. Values are raw wire units; nil pointers leave
// the field out.
type CAMFixture struct {
	StationID   int64
	StationType int
	Lat, Lon    int64
	Alt         int64
	Speed       *int
	Heading     *int
	Length      *int
	Width       *int
	Role        *int
	LowBeam     bool
	Path        [][3]int64
	// NoBasic omits the basic container, leaving the position unknown
	NoBasic bool
}

// Document builds the capture envelope
func (f CAMFixture) Document() map[string]any {
	params := map[string]any{}

	if !f.NoBasic {
		params["cam.basicContainer_element"] = map[string]any{
			"cam.stationType":               strconv.Itoa(f.StationType),
			"cam.referencePosition_element": position(f.Lat, f.Lon, f.Alt),
		}
	}

	if f.Speed != nil || f.Heading != nil || f.Length != nil || f.Width != nil {
		hf := map[string]any{}
		if f.Speed != nil {
			hf["cam.speed_element"] = map[string]any{"its.speedValue": strconv.Itoa(*f.Speed)}
		}
		if f.Heading != nil {
			hf["cam.heading_element"] = map[string]any{"its.headingValue": strconv.Itoa(*f.Heading)}
		}
		if f.Length != nil {
			hf["cam.vehicleLength_element"] = map[string]any{"its.vehicleLengthValue": strconv.Itoa(*f.Length)}
		}
		if f.Width != nil {
			hf["cam.vehicleWidth"] = strconv.Itoa(*f.Width)
		}
		params["cam.highFrequencyContainer_tree"] = map[string]any{
			"cam.basicVehicleContainerHighFrequency_element": hf,
		}
	}

	if f.Role != nil || len(f.Path) > 0 || f.LowBeam {
		role := 0
		if f.Role != nil {
			role = *f.Role
		}
		count, tree := pathPoints(f.Path)
		params["cam.lowFrequencyContainer_tree"] = map[string]any{
			"cam.basicVehicleContainerLowFrequency_element": map[string]any{
				"cam.vehicleRole":      strconv.Itoa(role),
				"cam.pathHistory":      count,
				"cam.pathHistory_tree": tree,
				"cam.exteriorLights_tree": map[string]any{
					"its.ExteriorLights.lowBeamHeadlightsOn":    flag(f.LowBeam),
					"its.ExteriorLights.highBeamHeadlightsOn":   "0",
					"its.ExteriorLights.leftTurnSignalOn":       "0",
					"its.ExteriorLights.rightTurnSignalOn":      "0",
					"its.ExteriorLights.daytimeRunningLightsOn": "1",
					"its.ExteriorLights.reverseLightOn":         "0",
					"its.ExteriorLights.fogLightOn":             "0",
					"its.ExteriorLights.parkingLightsOn":        "0",
				},
			},
		}
	}

	return Envelope(2, f.StationID, map[string]any{
		"cam.CoopAwareness_element": map[string]any{
			"cam.generationDeltaTime":   "1200",
			"cam.camParameters_element": params,
		},
	})
}

// DENMFixture describes a DENM in raw wire units
type DENMFixture struct {
	StationID      int64
	SequenceNumber int
	Lat, Lon, Alt  int64
	CauseCode      int
	SubCauseCode   int
	Terminate      bool
	Traces         [][][3]int64
}

// Document builds the capture envelope
func (f DENMFixture) Document() map[string]any {
	management := map[string]any{
		"denm.actionID_element": map[string]any{
			"its.originatingStationID": s(f.StationID),
			"its.sequenceNumber":       strconv.Itoa(f.SequenceNumber),
		},
		"denm.detectionTime":         "627397261000",
		"denm.referenceTime":         "627397261500",
		"denm.eventPosition_element": position(f.Lat, f.Lon, f.Alt),
		"denm.stationType":           "15",
	}
	if f.Terminate {
		management["denm.termination"] = "1"
	}

	traces := make([]map[string]any, len(f.Traces))
	for i, trace := range f.Traces {
		count, tree := pathPoints(trace)
		traces[i] = map[string]any{
			"its.PathHistory":      count,
			"its.PathHistory_tree": tree,
		}
	}
	tracesCount, tracesTree := Items(traces...)

	return Envelope(1, f.StationID, map[string]any{
		"denm.DecentralizedEnvironmentalNotificationMessage_element": map[string]any{
			"denm.management_element": management,
			"denm.situation_element": map[string]any{
				"denm.informationQuality": "0",
				"denm.eventType_element": map[string]any{
					"its.causeCode":    strconv.Itoa(f.CauseCode),
					"its.subCauseCode": strconv.Itoa(f.SubCauseCode),
				},
			},
			"denm.location_element": map[string]any{
				"denm.traces":      tracesCount,
				"denm.traces_tree": tracesTree,
			},
		},
	})
}

// SignalStateFixture is one movement state with a single event
type SignalStateFixture struct {
	SignalGroup int
	State       int
	LikelyTime  *int
}

// SpatIntersectionFixture is one SPATEM intersection
type SpatIntersectionFixture struct {
	ID     int64
	Name   string
	States []SignalStateFixture
}

// SPATEMFixture describes a SPATEM
type SPATEMFixture struct {
	StationID     int64
	Intersections []SpatIntersectionFixture
}

// Document builds the capture envelope
func (f SPATEMFixture) Document() map[string]any {
	intersections := make([]map[string]any, len(f.Intersections))
	for i, in := range f.Intersections {
		states := make([]map[string]any, len(in.States))
		for j, st := range in.States {
			event := map[string]any{"dsrc.eventState": strconv.Itoa(st.State)}
			if st.LikelyTime != nil {
				event["dsrc.timing_element"] = map[string]any{
					"dsrc.startTime":  "0",
					"dsrc.minEndTime": "10",
					"dsrc.maxEndTime": "600",
					"dsrc.likelyTime": strconv.Itoa(*st.LikelyTime),
					"dsrc.confidence": "15",
				}
			}
			count, tree := Items(map[string]any{"dsrc.MovementEvent_element": event})
			states[j] = map[string]any{
				"dsrc.MovementState_element": map[string]any{
					"dsrc.signalGroup":           strconv.Itoa(st.SignalGroup),
					"dsrc.state_time_speed":      count,
					"dsrc.state_time_speed_tree": tree,
				},
			}
		}
		statesCount, statesTree := Items(states...)
		element := map[string]any{
			"dsrc.id_element":  map[string]any{"dsrc.id": s(in.ID)},
			"dsrc.revision":    "1",
			"dsrc.timeStamp":   "35000",
			"dsrc.moy":         "175000",
			"dsrc.states":      statesCount,
			"dsrc.states_tree": statesTree,
		}
		if in.Name != "" {
			element["dsrc.name"] = in.Name
		}
		intersections[i] = map[string]any{"dsrc.IntersectionState_element": element}
	}
	count, tree := Items(intersections...)

	return Envelope(4, f.StationID, map[string]any{
		"dsrc.SPAT_element": map[string]any{
			"dsrc.intersections":      count,
			"dsrc.intersections_tree": tree,
		},
	})
}

// ConnectionFixture is one lane connection with its allowed maneuvers
type ConnectionFixture struct {
	Lane        int
	SignalGroup int
	Straight    bool
	Left        bool
	Right       bool
}

// LaneFixture is one generic lane; nodes are (x, y) in 1/10 microdegrees
type LaneFixture struct {
	ID          int
	Type        int
	Ingress     bool
	Egress      bool
	Approach    *int
	Nodes       [][2]int64
	Connections []ConnectionFixture
}

// MAPEMFixture describes a single-intersection MAPEM
type MAPEMFixture struct {
	StationID      int64
	IntersectionID int64
	Name           string
	Lat, Lon       int64
	LaneWidth      int
	Lanes          []LaneFixture
}

func (l LaneFixture) element() map[string]any {
	nodes := make([]map[string]any, len(l.Nodes))
	for i, n := range l.Nodes {
		nodes[i] = map[string]any{
			"dsrc.NodeXY_element": map[string]any{
				"dsrc.delta": "5",
				"dsrc.delta_tree": map[string]any{
					"dsrc.node_XY6_element": map[string]any{
						"dsrc.x": s(n[0]),
						"dsrc.y": s(n[1]),
					},
				},
			},
		}
	}
	nodeCount, nodeTree := Items(nodes...)

	lane := map[string]any{
		"dsrc.laneID": strconv.Itoa(l.ID),
		"dsrc.laneAttributes_element": map[string]any{
			"dsrc.laneType": strconv.Itoa(l.Type),
			"dsrc.directionalUse_tree": map[string]any{
				"dsrc.LaneDirection.ingressPath": flag(l.Ingress),
				"dsrc.LaneDirection.egressPath":  flag(l.Egress),
			},
		},
		"dsrc.nodeList_tree": map[string]any{
			"dsrc.nodes":      nodeCount,
			"dsrc.nodes_tree": nodeTree,
		},
	}
	if l.Approach != nil {
		if l.Ingress {
			lane["dsrc.ingressApproach"] = strconv.Itoa(*l.Approach)
		} else {
			lane["dsrc.egressApproach"] = strconv.Itoa(*l.Approach)
		}
	}

	if len(l.Connections) > 0 {
		conns := make([]map[string]any, len(l.Connections))
		for i, c := range l.Connections {
			conns[i] = map[string]any{
				"dsrc.Connection_element": map[string]any{
					"dsrc.signalGroup":  strconv.Itoa(c.SignalGroup),
					"dsrc.connectionID": strconv.Itoa(i + 1),
					"dsrc.connectingLane_element": map[string]any{
						"dsrc.lane": strconv.Itoa(c.Lane),
						"dsrc.maneuver_tree": map[string]any{
							"dsrc.AllowedManeuvers.maneuverStraightAllowed": flag(c.Straight),
							"dsrc.AllowedManeuvers.maneuverLeftAllowed":     flag(c.Left),
							"dsrc.AllowedManeuvers.maneuverRightAllowed":    flag(c.Right),
						},
					},
				},
			}
		}
		lane["dsrc.connectsTo"], lane["dsrc.connectsTo_tree"] = Items(conns...)
	}

	return map[string]any{"dsrc.GenericLane_element": lane}
}

// Document builds the capture envelope
func (f MAPEMFixture) Document() map[string]any {
	lanes := make([]map[string]any, len(f.Lanes))
	for i, l := range f.Lanes {
		lanes[i] = l.element()
	}
	laneCount, laneTree := Items(lanes...)

	geometry := map[string]any{
		"dsrc.id_element": map[string]any{"dsrc.id": s(f.IntersectionID)},
		"dsrc.revision":   "3",
		"dsrc.refPoint_element": map[string]any{
			"dsrc.lat":                  s(f.Lat),
			"dsrc.long":                 s(f.Lon),
			"dsrc.position3D.elevation": "2450",
		},
		"dsrc.laneWidth":    strconv.Itoa(f.LaneWidth),
		"dsrc.laneSet":      laneCount,
		"dsrc.laneSet_tree": laneTree,
	}
	if f.Name != "" {
		geometry["dsrc.name"] = f.Name
	}
	count, tree := Items(map[string]any{"dsrc.IntersectionGeometry_element": geometry})

	return Envelope(5, f.StationID, map[string]any{
		"dsrc.MapData_element": map[string]any{
			"dsrc.msgIssueRevision":   "1",
			"dsrc.intersections":      count,
			"dsrc.intersections_tree": tree,
		},
	})
}

// RequestFixture is one SREM request
type RequestFixture struct {
	IntersectionID int64
	RequestID      int
	RequestType    int
}

// SREMFixture describes a SREM
type SREMFixture struct {
	StationID      int64
	SequenceNumber int
	Requests       []RequestFixture
}

// Document builds the capture envelope
func (f SREMFixture) Document() map[string]any {
	requests := make([]map[string]any, len(f.Requests))
	for i, r := range f.Requests {
		requests[i] = map[string]any{
			"dsrc.SignalRequestPackage_element": map[string]any{
				"dsrc.request_element": map[string]any{
					"dsrc.id_element":        map[string]any{"dsrc.id": s(r.IntersectionID)},
					"dsrc.requestID":         strconv.Itoa(r.RequestID),
					"dsrc.requestType":       strconv.Itoa(r.RequestType),
					"dsrc.inBoundLane":       "1",
					"dsrc.inBoundLane_tree":  map[string]any{"dsrc.approach": "1"},
					"dsrc.outBoundLane":      "2",
					"dsrc.outBoundLane_tree": map[string]any{"dsrc.approach": "3"},
				},
			},
		}
	}
	count, tree := Items(requests...)

	return Envelope(9, f.StationID, map[string]any{
		"dsrc.SignalRequestMessage_element": map[string]any{
			"dsrc.timeStamp":      "35000.5",
			"dsrc.sequenceNumber": strconv.Itoa(f.SequenceNumber),
			"dsrc.requests":       count,
			"dsrc.requests_tree":  tree,
			"dsrc.requestor_element": map[string]any{
				"dsrc.id_tree": map[string]any{"dsrc.stationID": s(f.StationID)},
				"dsrc.type_element": map[string]any{
					"dsrc.role":    "1",
					"dsrc.subrole": "0",
				},
				"dsrc.name":      "Bus 42",
				"dsrc.routeName": "Line 7",
			},
		},
	})
}

// ResponseFixture is one SSEM status package
type ResponseFixture struct {
	RequesterStationID int64
	RequestID          int
	Status             int
}

// SSEMFixture describes a SSEM
type SSEMFixture struct {
	StationID      int64
	IntersectionID int64
	Responses      []ResponseFixture
}

// Document builds the capture envelope
func (f SSEMFixture) Document() map[string]any {
	packages := make([]map[string]any, len(f.Responses))
	for i, r := range f.Responses {
		packages[i] = map[string]any{
			"dsrc.SignalStatusPackage_element": map[string]any{
				"dsrc.requester_element": map[string]any{
					"dsrc.id":             "0",
					"dsrc.id_tree":        map[string]any{"dsrc.stationID": s(r.RequesterStationID)},
					"dsrc.request":        strconv.Itoa(r.RequestID),
					"dsrc.sequenceNumber": "1",
					"dsrc.typeData_element": map[string]any{
						"dsrc.role":    "1",
						"dsrc.subrole": "0",
					},
				},
				"dsrc.inboundOn":                   "1",
				"dsrc.inboundOn_tree":              map[string]any{"dsrc.approach": "1"},
				"dsrc.outboundOn":                  "2",
				"dsrc.outboundOn_tree":             map[string]any{"dsrc.approach": "3"},
				"dsrc.signalStatusPackage.status": strconv.Itoa(r.Status),
			},
		}
	}
	count, tree := Items(packages...)
	_, statusTree := Items(map[string]any{
		"dsrc.SignalStatus_element": map[string]any{
			"dsrc.sequenceNumber": "1",
			"dsrc.id_element":     map[string]any{"dsrc.id": s(f.IntersectionID)},
			"dsrc.sigStatus":      count,
			"dsrc.sigStatus_tree": tree,
		},
	})

	return Envelope(10, f.StationID, map[string]any{
		"dsrc.SignalStatusMessage_element": map[string]any{
			"dsrc.timeStamp":                        "35010",
			"dsrc.sequenceNumber":                   "4",
			"dsrc.signalStatusMessage.status_tree": statusTree,
		},
	})
}

// Int returns a pointer to v
func Int(v int) *int { return &v }
