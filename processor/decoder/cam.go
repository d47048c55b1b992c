package decoder

import (
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
)

func decodeCAM(env envelope) ([]message.Message, error) {
	params := env.its.optPath("cam.CoopAwareness_element", "cam.camParameters_element")
	if params == nil {
		// Nothing to show without the parameters block
		return nil, nil
	}

	cam := &message.CAM{Base: env.base}

	if frame := env.layers.optChild("frame"); frame != nil {
		if epoch, err := frame.float("frame.time_epoch"); err == nil {
			cam.TimeEpoch = epoch
		}
	}

	if low := params.optPath("cam.lowFrequencyContainer_tree", "cam.basicVehicleContainerLowFrequency_element"); low != nil {
		if err := decodeCAMLowFrequency(low, cam); err != nil {
			return nil, err
		}
	}

	if high := params.optPath("cam.highFrequencyContainer_tree", "cam.basicVehicleContainerHighFrequency_element"); high != nil {
		cam.VehicleLength = high.optChild("cam.vehicleLength_element").optScaled("its.vehicleLengthValue", scaleDimension)
		cam.VehicleWidth = high.optScaled("cam.vehicleWidth", scaleDimension)
		cam.Heading = high.optChild("cam.heading_element").optScaled("its.headingValue", scaleHeading)
		cam.Speed = high.optChild("cam.speed_element").optScaled("its.speedValue", scaleSpeed)
	}

	if basic := params.optChild("cam.basicContainer_element"); basic != nil {
		cam.StationType = basic.optInt("cam.stationType")
		cam.OriginPosition = optReferencePosition(basic.optChild("cam.referencePosition_element"))
	}

	return []message.Message{cam}, nil
}

func decodeCAMLowFrequency(low object, cam *message.CAM) error {
	if tree := low.optChild("cam.pathHistory_tree"); tree != nil {
		count, err := low.integer("cam.pathHistory")
		if err != nil && low.has("cam.pathHistory") {
			return err
		}
		for i := 0; i < count; i++ {
			point, err := tree.path(itemKey(i), "its.PathPoint_element", "its.pathPosition_element")
			if err != nil {
				return err
			}
			offset, err := pathOffset(point)
			if err != nil {
				return err
			}
			cam.Path = append(cam.Path, offset)
		}
	}

	if lights := low.optChild("cam.exteriorLights_tree"); lights != nil {
		cam.Lights = &message.VehicleLights{
			LowBeamHeadlights:  lights.flag("its.ExteriorLights.lowBeamHeadlightsOn"),
			HighBeamHeadlights: lights.flag("its.ExteriorLights.highBeamHeadlightsOn"),
			LeftTurnSignal:     lights.flag("its.ExteriorLights.leftTurnSignalOn"),
			RightTurnSignal:    lights.flag("its.ExteriorLights.rightTurnSignalOn"),
			DaytimeRunning:     lights.flag("its.ExteriorLights.daytimeRunningLightsOn"),
			Reverse:            lights.flag("its.ExteriorLights.reverseLightOn"),
			Fog:                lights.flag("its.ExteriorLights.fogLightOn"),
			Parking:            lights.flag("its.ExteriorLights.parkingLightsOn"),
		}
	}

	cam.VehicleRole = low.optInt("cam.vehicleRole")
	return nil
}

// pathOffset reads one path point delta in raw wire units
func pathOffset(point object) (geo.Offset, error) {
	dLat, err := point.long("its.deltaLatitude")
	if err != nil {
		return geo.Offset{}, err
	}
	dLon, err := point.long("its.deltaLongitude")
	if err != nil {
		return geo.Offset{}, err
	}
	dAlt, err := point.long("its.deltaAltitude")
	if err != nil {
		return geo.Offset{}, err
	}
	return geo.Offset{DLat: dLat, DLon: dLon, DAlt: dAlt}, nil
}

// optReferencePosition returns nil unless latitude, longitude and altitude
// are all present
func optReferencePosition(ref object) *geo.Position {
	if ref == nil {
		return nil
	}
	lat, err := ref.scaled("its.latitude", scaleCoordinate)
	if err != nil {
		return nil
	}
	lon, err := ref.scaled("its.longitude", scaleCoordinate)
	if err != nil {
		return nil
	}
	alt, err := ref.optChild("its.altitude_element").scaled("its.altitudeValue", scaleAltitude)
	if err != nil {
		return nil
	}
	return &geo.Position{Lat: lat, Lon: lon, Alt: alt}
}

// referencePosition is optReferencePosition for required positions
func referencePosition(ref object) (*geo.Position, error) {
	lat, err := ref.scaled("its.latitude", scaleCoordinate)
	if err != nil {
		return nil, err
	}
	lon, err := ref.scaled("its.longitude", scaleCoordinate)
	if err != nil {
		return nil, err
	}
	altitude, err := ref.child("its.altitude_element")
	if err != nil {
		return nil, err
	}
	alt, err := altitude.scaled("its.altitudeValue", scaleAltitude)
	if err != nil {
		return nil, err
	}
	return &geo.Position{Lat: lat, Lon: lon, Alt: alt}, nil
}
