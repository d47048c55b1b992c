package messagestore

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/geo"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnInsertOrUpdate(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Action: ActionUpsert, Message: msg})
}

func (r *recorder) OnRemove(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Action: ActionRemove, Message: msg})
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func summarize(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, string(ev.Action)+" "+string(ev.Message.Type())+" "+ev.Message.Key())
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	s := New(Deps{})
	rec := &recorder{}
	s.AddListener(rec)
	return s, rec
}

func cam(station int64, speed float64) *message.CAM {
	return &message.CAM{
		Base: message.Base{
			MessageID:      2,
			StationID:      station,
			OriginPosition: &geo.Position{Lat: 49.8355, Lon: 18.158},
		},
		Speed: message.FloatPtr(speed),
	}
}

func denm(station int64, seq int, terminate bool) *message.DENM {
	return &message.DENM{
		Base: message.Base{
			MessageID:      1,
			StationID:      station,
			OriginPosition: &geo.Position{Lat: 49.8, Lon: 18.1},
		},
		OriginatingStationID: station,
		SequenceNumber:       seq,
		Termination:          terminate,
		CauseCode:            3,
		SubCauseCode:         9,
	}
}

func spatem(station int64, intersections ...int64) *message.SPATEM {
	sp := &message.SPATEM{Base: message.Base{MessageID: 4, StationID: station}}
	for _, id := range intersections {
		sp.Intersections = append(sp.Intersections, message.SpatemIntersection{
			ID: id,
			MovementStates: []message.MovementState{
				{SignalGroup: 1, Events: []message.MovementEvent{{State: 5}}},
			},
		})
	}
	return sp
}

func mapem(station, intersection int64, name string) *message.MAPEM {
	return &message.MAPEM{
		Base: message.Base{
			MessageID:      5,
			StationID:      station,
			OriginPosition: &geo.Position{Lat: 50, Lon: 18},
		},
		IntersectionID: intersection,
		Name:           name,
	}
}

func srem(station int64, requests ...message.Request) *message.SREM {
	return &message.SREM{
		Base:        message.Base{MessageID: 9, StationID: station},
		Requests:    requests,
		RequestorID: station,
	}
}

func ssem(station, intersection int64, responses ...message.Response) *message.SSEM {
	return &message.SSEM{
		Base:           message.Base{MessageID: 10, StationID: station},
		IntersectionID: intersection,
		Responses:      responses,
	}
}

func getCAM(t *testing.T, s *Store, station int64) *message.CAM {
	t.Helper()
	m, ok := s.Get(message.TypeCAM, idKey(station))
	require.True(t, ok, "CAM %d not in store", station)
	return m.(*message.CAM)
}

func getSREM(t *testing.T, s *Store, key string) *message.SREM {
	t.Helper()
	m, ok := s.Get(message.TypeSREM, key)
	require.True(t, ok, "SREM %s not in store", key)
	return m.(*message.SREM)
}

func TestStore_CAMUpsertDeduplicates(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(cam(100, 10))
	s.Upsert(cam(100, 20))

	cams := s.List(message.TypeCAM)
	require.Len(t, cams, 1)
	assert.Equal(t, 20.0, *cams[0].(*message.CAM).Speed)
	assert.Equal(t, []string{"upsert CAM 100", "upsert CAM 100"}, summarize(rec.take()))
}

func TestStore_CAMMergeKeepsAbsentFields(t *testing.T) {
	s, _ := newTestStore(t)

	first := cam(100, 10)
	first.Heading = message.FloatPtr(90)
	first.VehicleRole = message.IntPtr(6)
	s.Upsert(first)

	second := cam(100, 12)
	second.OriginPosition = &geo.Position{Lat: 49.9, Lon: 18.2}
	s.Upsert(second)

	got := getCAM(t, s, 100)
	assert.Equal(t, 12.0, *got.Speed)
	assert.Equal(t, 90.0, *got.Heading)
	assert.Equal(t, 6, *got.VehicleRole)
	assert.Equal(t, 49.9, got.OriginPosition.Lat)
}

func TestStore_DENMTerminationRemoves(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(denm(7, 1, false))
	s.Upsert(denm(7, 2, false))
	require.Len(t, s.List(message.TypeDENM), 2)
	rec.take()

	s.Upsert(denm(7, 1, true))

	denms := s.List(message.TypeDENM)
	require.Len(t, denms, 1)
	assert.Equal(t, "7/2", denms[0].Key())
	assert.Equal(t, []string{"remove DENM 7/1"}, summarize(rec.take()))

	// terminating an unknown event has no effect
	s.Upsert(denm(7, 9, true))
	assert.Len(t, s.List(message.TypeDENM), 1)
	assert.Empty(t, rec.take())
}

func TestStore_DENMLinksCAM(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(cam(7, 50))
	s.Upsert(denm(7, 3, false))

	got := getCAM(t, s, 7)
	require.NotNil(t, got.LatestDenm)
	assert.Equal(t, message.DenmKey{StationID: 7, SequenceNumber: 3}, *got.LatestDenm)
	assert.Equal(t, []string{"upsert CAM 7", "upsert DENM 7/3", "upsert CAM 7"}, summarize(rec.take()))

	s.Upsert(denm(7, 3, true))
	assert.Nil(t, getCAM(t, s, 7).LatestDenm)
	assert.Equal(t, []string{"remove DENM 7/3", "upsert CAM 7"}, summarize(rec.take()))
}

func TestStore_NewCAMPicksUpExistingLinks(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(denm(7, 3, false))
	s.Upsert(srem(7, message.Request{IntersectionID: 5, RequestID: 1}))
	s.Upsert(cam(7, 50))

	got := getCAM(t, s, 7)
	require.NotNil(t, got.LatestDenm)
	require.NotNil(t, got.LatestSrem)
	assert.Equal(t, "7/3", got.LatestDenm.String())
	assert.Equal(t, "7/5", got.LatestSrem.String())
}

func TestStore_SweepEviction(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(cam(1, 10))
	s.Upsert(cam(2, 10))

	result := s.Sweep()
	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, 0, result.Evicted)

	// station 2 keeps reporting, station 1 goes quiet
	for i := 0; i < 5; i++ {
		s.Upsert(cam(2, float64(i)))
		result = s.Sweep()
		assert.Equal(t, 1, result.Kept)
	}

	cams := s.List(message.TypeCAM)
	require.Len(t, cams, 1)
	assert.Equal(t, "2", cams[0].Key())

	var removedKeys []string
	for _, ev := range rec.take() {
		if ev.Action == ActionRemove {
			removedKeys = append(removedKeys, ev.Message.Key())
		}
	}
	assert.Equal(t, []string{"1"}, removedKeys)

	// the last update was before the previous sweep
	s.Sweep()
	assert.Equal(t, 0, s.Len())
}

func TestStore_SREMAnsweredBySSEM(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(srem(42, message.Request{IntersectionID: 5, RequestID: 7}))
	s.Upsert(ssem(900, 5, message.Response{RequestID: 7, RequesterStationID: 42, StatusCode: 4, Status: "granted"}))

	got := getSREM(t, s, "42/5")
	require.NotNil(t, got.LatestSsem)
	assert.Equal(t, int64(5), *got.LatestSsem)
	assert.Equal(t, []string{"upsert SREM 42/5", "upsert SSEM 5", "upsert SREM 42/5"}, summarize(rec.take()))

	// both survive the first sweep; the SREM is refreshed, the SSEM is not
	s.Sweep()
	s.Upsert(srem(42, message.Request{IntersectionID: 5, RequestID: 7}))
	rec.take()

	result := s.Sweep()
	assert.Equal(t, 1, result.Evicted)

	got = getSREM(t, s, "42/5")
	assert.Nil(t, got.LatestSsem)
	_, ok := s.Get(message.TypeSSEM, "5")
	assert.False(t, ok)
	assert.Equal(t, []string{"remove SSEM 5", "upsert SREM 42/5"}, summarize(rec.take()))
}

func TestStore_SSEMLinksFirstMatchingRequestOnly(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(srem(1, message.Request{IntersectionID: 5, RequestID: 7}))
	s.Upsert(srem(2, message.Request{IntersectionID: 5, RequestID: 7}))
	s.Upsert(ssem(900, 5, message.Response{RequestID: 7}))

	assert.NotNil(t, getSREM(t, s, "1/5").LatestSsem)
	assert.Nil(t, getSREM(t, s, "2/5").LatestSsem)
}

func TestStore_SSEMWithoutMatchingRequest(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(srem(1, message.Request{IntersectionID: 5, RequestID: 7}))
	s.Upsert(ssem(900, 5, message.Response{RequestID: 8}))
	s.Upsert(ssem(900, 6, message.Response{RequestID: 7}))

	assert.Nil(t, getSREM(t, s, "1/5").LatestSsem)
	assert.Len(t, s.List(message.TypeSSEM), 2)
}

func TestStore_SSEMReplacedByIntersection(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(ssem(900, 5, message.Response{RequestID: 1, Status: "processing"}))
	s.Upsert(ssem(901, 5, message.Response{RequestID: 1, Status: "granted"}))

	ssems := s.List(message.TypeSSEM)
	require.Len(t, ssems, 1)
	assert.Equal(t, "granted", ssems[0].(*message.SSEM).Responses[0].Status)
}

func TestStore_SREMUpdate(t *testing.T) {
	tests := []struct {
		name     string
		second   *message.SREM
		wantKeys []string
	}{
		{
			name:     "same station and intersection replaces",
			second:   srem(42, message.Request{IntersectionID: 5, RequestID: 8, RequestType: 2}),
			wantKeys: []string{"42/5"},
		},
		{
			name: "additional requests still replace",
			second: srem(42,
				message.Request{IntersectionID: 5, RequestID: 8},
				message.Request{IntersectionID: 6, RequestID: 1}),
			wantKeys: []string{"42/5"},
		},
		{
			name:     "other intersection is a new request",
			second:   srem(42, message.Request{IntersectionID: 6, RequestID: 1}),
			wantKeys: []string{"42/5", "42/6"},
		},
		{
			name:     "other station is a new request",
			second:   srem(43, message.Request{IntersectionID: 5, RequestID: 7}),
			wantKeys: []string{"42/5", "43/5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			s.Upsert(srem(42, message.Request{IntersectionID: 5, RequestID: 7}))
			s.Upsert(tt.second)

			var keys []string
			for _, m := range s.List(message.TypeSREM) {
				keys = append(keys, m.Key())
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestStore_SREMLinksCAM(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(cam(42, 30))
	s.Upsert(srem(42,
		message.Request{IntersectionID: 6, RequestID: 1},
		message.Request{IntersectionID: 5, RequestID: 7}))

	got := getCAM(t, s, 42)
	require.NotNil(t, got.LatestSrem)
	assert.Equal(t, message.SremKey{StationID: 42, IntersectionID: 6}, *got.LatestSrem)
	rec.take()

	// a repeat for intersection 5 replaces the SREM under a new key
	s.Upsert(srem(42, message.Request{IntersectionID: 5, RequestID: 7}))

	assert.Equal(t, "42/5", getCAM(t, s, 42).LatestSrem.String())
	assert.Len(t, s.List(message.TypeSREM), 1)
	assert.Equal(t, []string{"remove SREM 42/6", "upsert CAM 42", "upsert SREM 42/5", "upsert CAM 42"},
		summarize(rec.take()))
}

func TestStore_SREMWithoutRequestsIgnored(t *testing.T) {
	s, rec := newTestStore(t)
	s.Upsert(srem(42))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, rec.take())
}

func TestStore_SPATEMLinksMAPEM(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(mapem(300, 421, "Main"))
	s.Upsert(mapem(300, 422, "Side"))
	rec.take()

	s.Upsert(spatem(300, 421, 999))

	mp, phase, ok := s.Intersection(421)
	require.True(t, ok)
	require.NotNil(t, mp.LatestSpatem)
	assert.Equal(t, message.SpatemRef{StationID: 300, IntersectionID: 421}, *mp.LatestSpatem)
	require.NotNil(t, phase)
	assert.Equal(t, int64(421), phase.ID)
	assert.Equal(t, []string{"upsert SPATEM 300", "upsert MAPEM 421"}, summarize(rec.take()))

	_, phase, ok = s.Intersection(422)
	require.True(t, ok)
	assert.Nil(t, phase)

	_, _, ok = s.Intersection(1)
	assert.False(t, ok)
}

func TestStore_SPATEMRefreshesMAPEM(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(mapem(300, 421, "Main"))
	s.Sweep()

	// a MAPEM that is only refreshed through its SPATEM survives
	for i := 0; i < 3; i++ {
		s.Upsert(spatem(300, 421))
		s.Sweep()
	}
	_, _, ok := s.Intersection(421)
	assert.True(t, ok)
}

func TestStore_MAPEMUpdateKeepsSPATEMLink(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(mapem(300, 421, "Old"))
	s.Upsert(spatem(300, 421))
	s.Upsert(mapem(300, 421, "New"))

	mp, phase, ok := s.Intersection(421)
	require.True(t, ok)
	assert.Equal(t, "New", mp.Name)
	assert.NotNil(t, phase)
	assert.Len(t, s.List(message.TypeMAPEM), 1)
}

func TestStore_NewMAPEMFindsSPATEM(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(spatem(300, 421))
	s.Upsert(mapem(300, 421, "Main"))

	_, phase, ok := s.Intersection(421)
	require.True(t, ok)
	assert.NotNil(t, phase)
}

func TestStore_SPATEMEvictionClearsLink(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(mapem(300, 421, "Main"))
	s.Upsert(spatem(300, 421))
	s.Sweep()
	s.Upsert(mapem(300, 421, "Main"))
	rec.take()

	s.Sweep()

	mp, phase, ok := s.Intersection(421)
	require.True(t, ok)
	assert.Nil(t, mp.LatestSpatem)
	assert.Nil(t, phase)
	assert.Equal(t, []string{"remove SPATEM 300", "upsert MAPEM 421"}, summarize(rec.take()))
}

func TestStore_Clear(t *testing.T) {
	s, rec := newTestStore(t)

	s.Upsert(cam(1, 10))
	s.Upsert(denm(1, 1, false))
	s.Upsert(mapem(300, 421, "Main"))
	rec.take()

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, []string{"remove DENM 1/1", "remove CAM 1", "remove MAPEM 421"}, summarize(rec.take()))
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	s, _ := newTestStore(t)
	s.Upsert(cam(1, 10))

	got := getCAM(t, s, 1)
	got.Speed = message.FloatPtr(99)
	got.StationID = 2

	assert.Equal(t, 10.0, *getCAM(t, s, 1).Speed)
}

func TestStore_SnapshotOrder(t *testing.T) {
	s, _ := newTestStore(t)

	s.Upsert(cam(3, 1))
	s.Upsert(cam(1, 1))
	s.Upsert(denm(2, 1, false))
	s.Upsert(cam(2, 1))

	var keys []string
	for _, m := range s.Snapshot() {
		keys = append(keys, string(m.Type())+" "+m.Key())
	}
	assert.Equal(t, []string{"DENM 2/1", "CAM 3", "CAM 1", "CAM 2"}, keys)
	assert.Equal(t, map[message.Type]int{
		message.TypeDENM: 1, message.TypeCAM: 3, message.TypeSPATEM: 0,
		message.TypeMAPEM: 0, message.TypeSREM: 0, message.TypeSSEM: 0,
	}, s.Counts())
}

func TestStore_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := registry.CoreMetrics()
	s := New(Deps{Metrics: m})

	s.Upsert(cam(1, 10))
	s.Upsert(cam(2, 10))
	s.Upsert(denm(1, 1, false))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreEntities.WithLabelValues("CAM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreEntities.WithLabelValues("DENM")))

	s.Upsert(denm(1, 1, true))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreEvictions.WithLabelValues("DENM", CauseTerminated)))

	s.Sweep()
	s.Sweep()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreEvictions.WithLabelValues("CAM", CauseExpired)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StoreEntities.WithLabelValues("CAM")))
	assert.False(t, s.DataFlow().LastActivity.IsZero())
}
