package messagestore

import (
	"github.com/c360/v2xstreams/message"
)

// The upsert and unlink helpers run with s.mu held. Each returns the events
// to deliver once the lock is released.

func (s *Store) upsertCAM(cam *message.CAM) []Event {
	cams := s.collections[message.TypeCAM]
	if existing, ok := cams.get(cam.Key()); ok {
		current := existing.(*message.CAM)
		current.Merge(cam)
		current.Modified = true
		return []Event{upserted(current)}
	}

	cam.Modified = true
	cam.LatestDenm = nil
	cam.LatestSrem = nil
	s.collections[message.TypeDENM].each(func(m message.Message) bool {
		if m.Header().StationID != cam.StationID {
			return true
		}
		key := m.(*message.DENM).DenmKey()
		cam.LatestDenm = &key
		return false
	})
	s.collections[message.TypeSREM].each(func(m message.Message) bool {
		if m.Header().StationID != cam.StationID {
			return true
		}
		key := m.(*message.SREM).SremKey()
		cam.LatestSrem = &key
		return false
	})
	cams.put(cam)
	return []Event{upserted(cam)}
}

func (s *Store) upsertDENM(denm *message.DENM) []Event {
	denms := s.collections[message.TypeDENM]
	key := denm.DenmKey()

	if denm.Termination {
		existing, ok := denms.remove(denm.Key())
		if !ok {
			s.logger.Debug("Termination for unknown DENM", "station_id", key.StationID,
				"sequence_number", key.SequenceNumber)
			return nil
		}
		s.recordEviction(message.TypeDENM, CauseTerminated)
		s.logger.Debug("DENM terminated", "station_id", key.StationID,
			"sequence_number", key.SequenceNumber)
		return append([]Event{removed(existing)}, s.unlink(existing)...)
	}

	denm.Modified = true
	denms.put(denm)
	events := []Event{upserted(denm)}

	if m, ok := s.collections[message.TypeCAM].get(idKey(denm.StationID)); ok {
		cam := m.(*message.CAM)
		cam.LatestDenm = &key
		events = append(events, upserted(cam))
	}
	return events
}

func (s *Store) upsertSPATEM(spatem *message.SPATEM) []Event {
	spatem.Modified = true
	s.collections[message.TypeSPATEM].put(spatem)
	events := []Event{upserted(spatem)}

	mapems := s.collections[message.TypeMAPEM]
	for _, in := range spatem.Intersections {
		m, ok := mapems.get(idKey(in.ID))
		if !ok {
			continue
		}
		mapem := m.(*message.MAPEM)
		mapem.LatestSpatem = &message.SpatemRef{StationID: spatem.StationID, IntersectionID: in.ID}
		mapem.Modified = true
		events = append(events, upserted(mapem))
	}
	return events
}

func (s *Store) upsertMAPEM(mapem *message.MAPEM) []Event {
	mapems := s.collections[message.TypeMAPEM]
	mapem.Modified = true

	if existing, ok := mapems.get(mapem.Key()); ok {
		mapem.LatestSpatem = existing.(*message.MAPEM).LatestSpatem
	} else {
		mapem.LatestSpatem = nil
		s.collections[message.TypeSPATEM].each(func(m message.Message) bool {
			spatem := m.(*message.SPATEM)
			if _, ok := spatem.Intersection(mapem.IntersectionID); !ok {
				return true
			}
			mapem.LatestSpatem = &message.SpatemRef{StationID: spatem.StationID, IntersectionID: mapem.IntersectionID}
			return false
		})
	}

	mapems.put(mapem)
	return []Event{upserted(mapem)}
}

func (s *Store) upsertSREM(srem *message.SREM) []Event {
	if len(srem.Requests) == 0 {
		return nil
	}
	srems := s.collections[message.TypeSREM]
	first := srem.Requests[0]

	var previous *message.SREM
	srems.each(func(m message.Message) bool {
		candidate := m.(*message.SREM)
		if candidate.StationID != srem.StationID {
			return true
		}
		for _, req := range candidate.Requests {
			if req.IntersectionID == first.IntersectionID {
				previous = candidate
				return false
			}
		}
		return true
	})

	var events []Event
	if previous != nil {
		s.logger.Debug("SREM updated", "station_id", srem.StationID,
			"request_type", first.TypeName())
		srems.remove(previous.Key())
		if previous.Key() != srem.Key() {
			s.recordEviction(message.TypeSREM, CauseReplaced)
			events = append(events, removed(previous))
			events = append(events, s.unlink(previous)...)
		}
	} else {
		s.logger.Debug("SREM received", "station_id", srem.StationID,
			"request_type", first.TypeName())
	}

	srem.Modified = true
	srem.LatestSsem = nil
	s.collections[message.TypeSSEM].each(func(m message.Message) bool {
		ssem := m.(*message.SSEM)
		for _, req := range srem.Requests {
			if _, ok := ssem.Answers(req); ok {
				id := ssem.IntersectionID
				srem.LatestSsem = &id
				return false
			}
		}
		return true
	})
	srems.put(srem)
	events = append(events, upserted(srem))

	if m, ok := s.matchCAM(srem.StationID); ok {
		cam := m.(*message.CAM)
		key := srem.SremKey()
		cam.LatestSrem = &key
		events = append(events, upserted(cam))
	}
	return events
}

func (s *Store) upsertSSEM(ssem *message.SSEM) []Event {
	ssem.Modified = true
	s.collections[message.TypeSSEM].put(ssem)
	events := []Event{upserted(ssem)}

	var (
		matched  *message.SREM
		response message.Response
	)
	s.collections[message.TypeSREM].each(func(m message.Message) bool {
		srem := m.(*message.SREM)
		for _, req := range srem.Requests {
			if r, ok := ssem.Answers(req); ok {
				matched, response = srem, r
				return false
			}
		}
		return true
	})

	if matched == nil {
		for _, r := range ssem.Responses {
			s.logger.Debug("No request for response", "intersection_id", ssem.IntersectionID,
				"request_id", r.RequestID, "status", r.Status)
			s.matchCAM(r.RequesterStationID)
		}
		return events
	}

	s.logger.Debug("Request answered", "intersection_id", ssem.IntersectionID,
		"request_id", response.RequestID, "requester", response.RequesterStationID,
		"status", response.Status)
	id := ssem.IntersectionID
	matched.LatestSsem = &id
	matched.Modified = true
	events = append(events, upserted(matched))
	s.matchCAM(response.RequesterStationID)
	return events
}

// matchCAM looks up the CAM of a station, logging whether it is known
func (s *Store) matchCAM(stationID int64) (message.Message, bool) {
	m, ok := s.collections[message.TypeCAM].get(idKey(stationID))
	if ok {
		s.logger.Debug("CAM found", "station_id", stationID)
	} else {
		s.logger.Debug("CAM not found", "station_id", stationID)
	}
	return m, ok
}

// unlink clears every link that points at a removed entity
func (s *Store) unlink(gone message.Message) []Event {
	var events []Event
	switch g := gone.(type) {
	case *message.DENM:
		key := g.DenmKey()
		s.collections[message.TypeCAM].each(func(m message.Message) bool {
			cam := m.(*message.CAM)
			if cam.LatestDenm != nil && *cam.LatestDenm == key {
				cam.LatestDenm = nil
				events = append(events, upserted(cam))
			}
			return true
		})
	case *message.SPATEM:
		s.collections[message.TypeMAPEM].each(func(m message.Message) bool {
			mapem := m.(*message.MAPEM)
			if mapem.LatestSpatem != nil && mapem.LatestSpatem.StationID == g.StationID {
				mapem.LatestSpatem = nil
				events = append(events, upserted(mapem))
			}
			return true
		})
	case *message.SREM:
		key := g.SremKey()
		s.collections[message.TypeCAM].each(func(m message.Message) bool {
			cam := m.(*message.CAM)
			if cam.LatestSrem != nil && *cam.LatestSrem == key {
				cam.LatestSrem = nil
				events = append(events, upserted(cam))
			}
			return true
		})
	case *message.SSEM:
		s.collections[message.TypeSREM].each(func(m message.Message) bool {
			srem := m.(*message.SREM)
			if srem.LatestSsem != nil && *srem.LatestSsem == g.IntersectionID {
				srem.LatestSsem = nil
				events = append(events, upserted(srem))
			}
			return true
		})
	}
	return events
}
