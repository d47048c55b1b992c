package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
)

func camAt(station int64, lat, lon float64) *message.CAM {
	return &message.CAM{Base: message.Base{
		MessageID:      2,
		StationID:      station,
		OriginPosition: &geo.Position{Lat: lat, Lon: lon, Alt: 300},
	}}
}

func keys(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = string(h.Type) + ":" + h.Key
	}
	return out
}

func TestIndex_ListenerLifecycle(t *testing.T) {
	x := New()

	x.OnInsertOrUpdate(camAt(1, 48.70, 9.10))
	x.OnInsertOrUpdate(&message.SPATEM{Base: message.Base{StationID: 5}})
	assert.Equal(t, 1, x.Len(), "SPATEM is not indexed")

	// moving keeps a single entry
	x.OnInsertOrUpdate(camAt(1, 48.71, 9.11))
	assert.Equal(t, 1, x.Len())
	hits := x.Nearest(48.71, 9.11, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 48.71, hits[0].Position.Lat, 1e-9)
	assert.Equal(t, 300.0, hits[0].Position.Alt)

	// losing the position drops the entry
	x.OnInsertOrUpdate(&message.CAM{Base: message.Base{MessageID: 2, StationID: 1}})
	assert.Equal(t, 0, x.Len())

	x.OnInsertOrUpdate(camAt(2, 48.70, 9.10))
	x.OnRemove(camAt(2, 0, 0))
	assert.Equal(t, 0, x.Len())
	x.OnRemove(camAt(99, 0, 0))
}

func TestIndex_Within(t *testing.T) {
	x := New()
	x.Upsert(message.TypeCAM, "2", geo.Position{Lat: 48.70, Lon: 9.10})
	x.Upsert(message.TypeCAM, "1", geo.Position{Lat: 48.71, Lon: 9.11})
	x.Upsert(message.TypeDENM, "7/3", geo.Position{Lat: 48.705, Lon: 9.105})
	x.Upsert(message.TypeCAM, "3", geo.Position{Lat: 52.52, Lon: 13.40})

	tests := []struct {
		name  string
		box   BBox
		types []message.Type
		want  []string
	}{
		{"all types", BBox{9.0, 48.6, 9.2, 48.8}, nil, []string{"DENM:7/3", "CAM:1", "CAM:2"}},
		{"cam only", BBox{9.0, 48.6, 9.2, 48.8}, []message.Type{message.TypeCAM}, []string{"CAM:1", "CAM:2"}},
		{"degenerate box on a point", BBox{13.40, 52.52, 13.40, 52.52}, nil, []string{"CAM:3"}},
		{"empty area", BBox{0, 0, 1, 1}, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := x.Within(tt.box, tt.types...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(hits))
		})
	}
}

func TestIndex_WithinRejectsBadBox(t *testing.T) {
	x := New()
	_, err := x.Within(BBox{MinLon: 10, MinLat: 0, MaxLon: 9, MaxLat: 1})
	assert.True(t, errors.IsInvalid(err))

	_, err = x.Within(BBox{MinLon: -200, MinLat: 0, MaxLon: 9, MaxLat: 1})
	assert.True(t, errors.IsInvalid(err))
}

func TestIndex_Nearest(t *testing.T) {
	x := New()
	x.Upsert(message.TypeCAM, "near", geo.Position{Lat: 48.7001, Lon: 9.1001})
	x.Upsert(message.TypeCAM, "mid", geo.Position{Lat: 48.71, Lon: 9.11})
	x.Upsert(message.TypeMAPEM, "12", geo.Position{Lat: 48.702, Lon: 9.102})
	x.Upsert(message.TypeCAM, "far", geo.Position{Lat: 52.52, Lon: 13.40})

	hits := x.Nearest(48.70, 9.10, 2)
	assert.Equal(t, []string{"CAM:near", "MAPEM:12"}, keys(hits))
	assert.Less(t, hits[0].DistanceMeters, hits[1].DistanceMeters)
	assert.Greater(t, hits[0].DistanceMeters, 0.0)

	hits = x.Nearest(48.70, 9.10, 10, message.TypeCAM)
	assert.Equal(t, []string{"CAM:near", "CAM:mid", "CAM:far"}, keys(hits))

	assert.Empty(t, x.Nearest(48.70, 9.10, 0))
	assert.Empty(t, New().Nearest(48.70, 9.10, 3))
}

func TestNew_CustomTypes(t *testing.T) {
	x := New(message.TypeDENM)
	x.OnInsertOrUpdate(camAt(1, 48.7, 9.1))
	assert.Equal(t, 0, x.Len())
}
