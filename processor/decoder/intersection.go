package decoder

import (
	"strconv"

	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
)

func decodeSPATEM(env envelope) ([]message.Message, error) {
	spat, err := env.its.child("dsrc.SPAT_element")
	if err != nil {
		return nil, err
	}

	spatem := &message.SPATEM{Base: env.base}
	err = spat.items("dsrc.intersections", "dsrc.intersections_tree", func(_ int, item object) error {
		element, err := item.child("dsrc.IntersectionState_element")
		if err != nil {
			return err
		}
		in, err := decodeIntersectionState(element)
		if err != nil {
			return err
		}
		spatem.Intersections = append(spatem.Intersections, in)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []message.Message{spatem}, nil
}

func decodeIntersectionState(element object) (message.SpatemIntersection, error) {
	var in message.SpatemIntersection
	var err error

	in.Name = element.optStr("dsrc.name", "")
	if in.Timestamp, err = element.integer("dsrc.timeStamp"); err != nil {
		return in, err
	}
	if in.Moy, err = element.integer("dsrc.moy"); err != nil {
		return in, err
	}
	idElement, err := element.child("dsrc.id_element")
	if err != nil {
		return in, err
	}
	if in.ID, err = idElement.long("dsrc.id"); err != nil {
		return in, err
	}

	err = element.items("dsrc.states", "dsrc.states_tree", func(_ int, item object) error {
		stateElement, err := item.child("dsrc.MovementState_element")
		if err != nil {
			return err
		}
		state := message.MovementState{Name: stateElement.optStr("dsrc.movementName", "")}
		if state.SignalGroup, err = stateElement.integer("dsrc.signalGroup"); err != nil {
			return err
		}

		err = stateElement.items("dsrc.state_time_speed", "dsrc.state_time_speed_tree", func(_ int, item object) error {
			eventElement, err := item.child("dsrc.MovementEvent_element")
			if err != nil {
				return err
			}
			event := message.MovementEvent{}
			if event.State, err = eventElement.integer("dsrc.eventState"); err != nil {
				return err
			}
			if timing := eventElement.optChild("dsrc.timing_element"); timing != nil {
				event.StartTime = timing.optInt("dsrc.startTime")
				event.MinEndTime = timing.optInt("dsrc.minEndTime")
				event.MaxEndTime = timing.optInt("dsrc.maxEndTime")
				event.LikelyTime = timing.optInt("dsrc.likelyTime")
				event.Confidence = timing.optInt("dsrc.confidence")
			}
			state.Events = append(state.Events, event)
			return nil
		})
		if err != nil {
			return err
		}
		in.MovementStates = append(in.MovementStates, state)
		return nil
	})
	return in, err
}

// decodeMAPEM emits one MAPEM per intersection geometry in the document
func decodeMAPEM(env envelope) ([]message.Message, error) {
	mapData, err := env.its.child("dsrc.MapData_element")
	if err != nil {
		return nil, err
	}

	var out []message.Message
	err = mapData.items("dsrc.intersections", "dsrc.intersections_tree", func(_ int, item object) error {
		geometry, err := item.child("dsrc.IntersectionGeometry_element")
		if err != nil {
			return err
		}
		mapem, err := decodeIntersectionGeometry(env.base, geometry)
		if err != nil {
			return err
		}
		out = append(out, mapem)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeIntersectionGeometry(base message.Base, geometry object) (*message.MAPEM, error) {
	mapem := &message.MAPEM{Base: base}

	refPoint, err := geometry.child("dsrc.refPoint_element")
	if err != nil {
		return nil, err
	}
	lat, err := refPoint.scaled("dsrc.lat", scaleCoordinate)
	if err != nil {
		return nil, err
	}
	lon, err := refPoint.scaled("dsrc.long", scaleCoordinate)
	if err != nil {
		return nil, err
	}
	ref := geo.Position{Lat: lat, Lon: lon}
	if elevation := refPoint.optScaled("dsrc.position3D.elevation", scaleElevation); elevation != nil {
		ref.Alt = *elevation
	}
	mapem.OriginPosition = &ref

	if mapem.LaneWidth, err = geometry.scaled("dsrc.laneWidth", scaleLaneWidth); err != nil {
		return nil, err
	}
	mapem.Name = geometry.optStr("dsrc.name", "Unknown")

	idElement, err := geometry.child("dsrc.id_element")
	if err != nil {
		return nil, err
	}
	if mapem.IntersectionID, err = idElement.long("dsrc.id"); err != nil {
		return nil, err
	}

	err = geometry.items("dsrc.laneSet", "dsrc.laneSet_tree", func(_ int, item object) error {
		laneElement, err := item.child("dsrc.GenericLane_element")
		if err != nil {
			return err
		}
		lane, err := decodeLane(laneElement)
		if err != nil {
			return err
		}
		mapem.Lanes = append(mapem.Lanes, lane)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mapem, nil
}

func decodeLane(element object) (message.Lane, error) {
	var lane message.Lane
	var err error

	if lane.LaneID, err = element.long("dsrc.laneID"); err != nil {
		return lane, err
	}
	lane.IngressApproach = element.optInt("dsrc.ingressApproach")
	lane.EgressApproach = element.optInt("dsrc.egressApproach")

	attributes, err := element.child("dsrc.laneAttributes_element")
	if err != nil {
		return lane, err
	}
	if lane.Type, err = attributes.integer("dsrc.laneType"); err != nil {
		return lane, err
	}
	lane.TypeName = message.LaneTypeName(lane.Type)
	directional := attributes.optChild("dsrc.directionalUse_tree")
	lane.Ingress = directional.flag("dsrc.LaneDirection.ingressPath")
	lane.Egress = directional.flag("dsrc.LaneDirection.egressPath")

	nodeList, err := element.child("dsrc.nodeList_tree")
	if err != nil {
		return lane, err
	}
	err = nodeList.items("dsrc.nodes", "dsrc.nodes_tree", func(_ int, item object) error {
		nodeElement, err := item.child("dsrc.NodeXY_element")
		if err != nil {
			return err
		}
		node, err := decodeNode(nodeElement)
		if err != nil {
			return err
		}
		lane.Nodes = append(lane.Nodes, node)
		return nil
	})
	if err != nil {
		return lane, err
	}

	err = element.optItems("dsrc.connectsTo", "dsrc.connectsTo_tree", func(_ int, item object) error {
		conn, err := decodeConnection(item)
		if err != nil {
			return err
		}
		lane.Connections = append(lane.Connections, conn)
		return nil
	})
	return lane, err
}

// decodeNode reads a NodeXY. The delta choice d selects the encoding
// width: the offsets live in node_XY{d+1}_element.
func decodeNode(element object) (geo.Node, error) {
	delta, err := element.integer("dsrc.delta")
	if err != nil {
		return geo.Node{}, err
	}
	xy, err := element.path("dsrc.delta_tree", "dsrc.node_XY"+strconv.Itoa(delta+1)+"_element")
	if err != nil {
		return geo.Node{}, err
	}
	x, err := xy.long("dsrc.x")
	if err != nil {
		return geo.Node{}, err
	}
	y, err := xy.long("dsrc.y")
	if err != nil {
		return geo.Node{}, err
	}
	return geo.Node{X: x, Y: y, Delta: delta}, nil
}

func decodeConnection(item object) (message.ConnectingLane, error) {
	var conn message.ConnectingLane

	element, err := item.child("dsrc.Connection_element")
	if err != nil {
		return conn, err
	}
	if conn.SignalGroup, err = element.integer("dsrc.signalGroup"); err != nil {
		return conn, err
	}
	conn.ConnectionID = element.intOrZero("dsrc.connectionID")

	connecting, err := element.child("dsrc.connectingLane_element")
	if err != nil {
		return conn, err
	}
	if conn.Lane, err = connecting.integer("dsrc.lane"); err != nil {
		return conn, err
	}
	maneuvers := connecting.optChild("dsrc.maneuver_tree")
	conn.Straight = maneuvers.flag("dsrc.AllowedManeuvers.maneuverStraightAllowed")
	conn.Left = maneuvers.flag("dsrc.AllowedManeuvers.maneuverLeftAllowed")
	conn.Right = maneuvers.flag("dsrc.AllowedManeuvers.maneuverRightAllowed")
	return conn, nil
}
