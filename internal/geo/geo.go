// Package geo строит канонические GeoJSON записи.
package geo

import (
	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeohashPrecision — длина geohash в свойствах feature (~150 м).
const GeohashPrecision = 7

// PropGeohash — имя свойства с geohash точки.
const PropGeohash = "geohash"

// PointFeature создаёт GeoJSON Feature с геометрией Point.
// Координаты в порядке GeoJSON: [lng, lat].
func PointFeature(lng, lat float64, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lng, lat})
	for k, v := range props {
		f.Properties[k] = v
	}
	f.Properties[PropGeohash] = Geohash(lng, lat)
	return f
}

// Geohash кодирует точку.
func Geohash(lng, lat float64) string {
	return geohash.EncodeWithPrecision(lat, lng, GeohashPrecision)
}

// Point возвращает координаты точечной feature.
func Point(f *geojson.Feature) (lng, lat float64, ok bool) {
	if f == nil {
		return 0, 0, false
	}
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return 0, 0, false
	}
	return p.Lon(), p.Lat(), true
}

// ID возвращает свойство "id" feature.
func ID(f *geojson.Feature) (any, bool) {
	if f == nil {
		return nil, false
	}
	id, ok := f.Properties["id"]
	return id, ok
}
