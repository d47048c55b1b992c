package decoder

import (
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
)

func decodeSREM(env envelope) ([]message.Message, error) {
	element, err := env.its.child("dsrc.SignalRequestMessage_element")
	if err != nil {
		return nil, err
	}

	srem := &message.SREM{Base: env.base}
	if srem.Timestamp, err = element.float("dsrc.timeStamp"); err != nil {
		return nil, err
	}
	if srem.SequenceNumber, err = element.integer("dsrc.sequenceNumber"); err != nil {
		return nil, err
	}

	err = element.items("dsrc.requests", "dsrc.requests_tree", func(_ int, item object) error {
		requestElement, err := item.path("dsrc.SignalRequestPackage_element", "dsrc.request_element")
		if err != nil {
			return err
		}
		req, err := decodeRequest(requestElement)
		if err != nil {
			return err
		}
		srem.Requests = append(srem.Requests, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The store keys a SREM by its first request
	if len(srem.Requests) == 0 {
		return nil, errors.ErrNoRequests
	}

	requestor, err := element.child("dsrc.requestor_element")
	if err != nil {
		return nil, err
	}
	idTree, err := requestor.child("dsrc.id_tree")
	if err != nil {
		return nil, err
	}
	if srem.RequestorID, err = idTree.long("dsrc.stationID"); err != nil {
		return nil, err
	}
	if typeElement := requestor.optChild("dsrc.type_element"); typeElement != nil {
		srem.RequestorRole = typeElement.intOrZero("dsrc.role")
		srem.RequestorSubRole = typeElement.intOrZero("dsrc.subrole")
	}
	srem.RequestorName = requestor.optStr("dsrc.name", "")
	srem.RouteName = requestor.optStr("dsrc.routeName", "")

	return []message.Message{srem}, nil
}

func decodeRequest(element object) (message.Request, error) {
	var req message.Request
	var err error

	idElement, err := element.child("dsrc.id_element")
	if err != nil {
		return req, err
	}
	if req.IntersectionID, err = idElement.long("dsrc.id"); err != nil {
		return req, err
	}
	if req.RequestID, err = element.integer("dsrc.requestID"); err != nil {
		return req, err
	}
	if req.RequestType, err = element.integer("dsrc.requestType"); err != nil {
		return req, err
	}
	req.InboundLane = element.intOrZero("dsrc.inBoundLane")
	req.OutboundLane = element.intOrZero("dsrc.outBoundLane")
	req.ApproachInbound = element.optChild("dsrc.inBoundLane_tree").intOrZero("dsrc.approach")
	req.ApproachOutbound = element.optChild("dsrc.outBoundLane_tree").intOrZero("dsrc.approach")
	return req, nil
}

func decodeSSEM(env envelope) ([]message.Message, error) {
	element, err := env.its.child("dsrc.SignalStatusMessage_element")
	if err != nil {
		return nil, err
	}

	ssem := &message.SSEM{Base: env.base}
	if ssem.Timestamp, err = element.integer("dsrc.timeStamp"); err != nil {
		return nil, err
	}
	if ssem.SequenceNumber, err = element.integer("dsrc.sequenceNumber"); err != nil {
		return nil, err
	}

	// Only the first status block is read; one SSEM answers for one intersection
	status, err := element.path("dsrc.signalStatusMessage.status_tree", itemKey(0), "dsrc.SignalStatus_element")
	if err != nil {
		return nil, err
	}
	idElement, err := status.child("dsrc.id_element")
	if err != nil {
		return nil, err
	}
	if ssem.IntersectionID, err = idElement.long("dsrc.id"); err != nil {
		return nil, err
	}

	err = status.items("dsrc.sigStatus", "dsrc.sigStatus_tree", func(_ int, item object) error {
		pkg, err := item.child("dsrc.SignalStatusPackage_element")
		if err != nil {
			return err
		}
		resp, err := decodeResponse(pkg)
		if err != nil {
			return err
		}
		ssem.Responses = append(ssem.Responses, resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []message.Message{ssem}, nil
}

func decodeResponse(pkg object) (message.Response, error) {
	var resp message.Response

	requester, err := pkg.child("dsrc.requester_element")
	if err != nil {
		return resp, err
	}
	resp.RequesterID = requester.intOrZero("dsrc.id")
	if idTree := requester.optChild("dsrc.id_tree"); idTree != nil {
		if resp.RequesterStationID, err = idTree.long("dsrc.stationID"); err != nil {
			return resp, err
		}
	}
	if resp.RequestID, err = requester.integer("dsrc.request"); err != nil {
		return resp, err
	}
	resp.RequestSequenceNumber = requester.intOrZero("dsrc.sequenceNumber")
	if typeData := requester.optChild("dsrc.typeData_element"); typeData != nil {
		resp.Role = typeData.intOrZero("dsrc.role")
		resp.SubRole = typeData.intOrZero("dsrc.subrole")
	}

	resp.InboundLane = pkg.intOrZero("dsrc.inboundOn")
	resp.OutboundLane = pkg.intOrZero("dsrc.outboundOn")
	resp.ApproachInbound = pkg.optChild("dsrc.inboundOn_tree").intOrZero("dsrc.approach")
	resp.ApproachOutbound = pkg.optChild("dsrc.outboundOn_tree").intOrZero("dsrc.approach")

	if resp.StatusCode, err = pkg.integer("dsrc.signalStatusPackage.status"); err != nil {
		return resp, err
	}
	resp.Status = message.ResponseStatusName(resp.StatusCode)
	return resp, nil
}
