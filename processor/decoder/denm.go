package decoder

import (
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
)

func decodeDENM(env envelope) ([]message.Message, error) {
	denmElement, err := env.its.child("denm.DecentralizedEnvironmentalNotificationMessage_element")
	if err != nil {
		return nil, err
	}
	management, err := denmElement.child("denm.management_element")
	if err != nil {
		return nil, err
	}

	denm := &message.DENM{Base: env.base}

	action, err := management.child("denm.actionID_element")
	if err != nil {
		return nil, err
	}
	if denm.OriginatingStationID, err = action.long("its.originatingStationID"); err != nil {
		return nil, err
	}
	if denm.SequenceNumber, err = action.integer("its.sequenceNumber"); err != nil {
		return nil, err
	}
	if denm.DetectionTime, err = management.long("denm.detectionTime"); err != nil {
		return nil, err
	}
	if denm.ReferenceTime, err = management.long("denm.referenceTime"); err != nil {
		return nil, err
	}
	denm.Termination = management.flag("denm.termination")
	denm.StationType = management.optInt("denm.stationType")

	eventPosition, err := management.child("denm.eventPosition_element")
	if err != nil {
		return nil, err
	}
	if denm.OriginPosition, err = referencePosition(eventPosition); err != nil {
		return nil, err
	}

	eventType, err := denmElement.path("denm.situation_element", "denm.eventType_element")
	if err != nil {
		return nil, err
	}
	if denm.CauseCode, err = eventType.integer("its.causeCode"); err != nil {
		return nil, err
	}
	denm.SubCauseCode = eventType.intOrZero("its.subCauseCode")

	// A termination may come without a location container
	location := denmElement.optChild("denm.location_element")
	err = location.optItems("denm.traces", "denm.traces_tree", func(_ int, item object) error {
		var trace []geo.Offset
		err := item.optItems("its.PathHistory", "its.PathHistory_tree", func(_ int, point object) error {
			pos, err := point.path("its.PathPoint_element", "its.pathPosition_element")
			if err != nil {
				return err
			}
			offset, err := pathOffset(pos)
			if err != nil {
				return err
			}
			trace = append(trace, offset)
			return nil
		})
		if err != nil {
			return err
		}
		denm.Traces = append(denm.Traces, trace)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return []message.Message{denm}, nil
}
