package geo

import (
	"encoding/json"
	"testing"

	"github.com/mmcloughlin/geohash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointFeature(t *testing.T) {
	f := PointFeature(14.4, 50.1, map[string]any{"id": int64(7)})

	raw, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "Feature", decoded.Type)
	assert.Equal(t, "Point", decoded.Geometry.Type)
	assert.Equal(t, []float64{14.4, 50.1}, decoded.Geometry.Coordinates)
	assert.Equal(t, 7.0, decoded.Properties["id"])
	assert.Len(t, decoded.Properties[PropGeohash], GeohashPrecision)
}

func TestPoint(t *testing.T) {
	f := PointFeature(14.4, 50.1, nil)

	lng, lat, ok := Point(f)
	require.True(t, ok)
	assert.Equal(t, 14.4, lng)
	assert.Equal(t, 50.1, lat)

	_, _, ok = Point(nil)
	assert.False(t, ok)
}

func TestGeohash_CellContainsPoint(t *testing.T) {
	h := Geohash(14.42076, 50.08804)

	assert.Len(t, h, GeohashPrecision)
	assert.True(t, geohash.BoundingBox(h).Contains(50.08804, 14.42076))
}
