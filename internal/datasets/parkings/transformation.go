package parkings

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/shaiso/Citydata/internal/geo"
	"github.com/shaiso/Citydata/internal/transformation"
)

const transformationName = "ParkingsTransformation"

// Свойства feature парковки.
const (
	PropID        = "id"
	PropName      = "name"
	PropTotal     = "total_num_of_places"
	PropFree      = "num_of_free_places"
	PropTaken     = "num_of_taken_places"
	PropUpdatedAt = "updated_at"
	PropDistrict  = "district"
)

// Occupancy — снимок занятости парковки.
type Occupancy struct {
	ParkingID   int64     `json:"parking_id"`
	MeasuredAt  time.Time `json:"measured_at"`
	TotalPlaces *int64    `json:"total_num_of_places"`
	FreePlaces  *int64    `json:"num_of_free_places"`
	TakenPlaces *int64    `json:"num_of_taken_places"`
}

// Transformation — сырые записи API в GeoJSON features с историей занятости.
type Transformation = transformation.HistoryMapper[map[string]any, *geojson.Feature, Occupancy]

// NewTransformation создаёт трансформацию парковок.
func NewTransformation(opts ...transformation.Option) *Transformation {
	return transformation.NewWithHistory(transformationName, transformElement, transformHistory, opts...)
}

// transformElement: id обязателен, парковка без координат отбрасывается.
func transformElement(_ context.Context, raw map[string]any) (*geojson.Feature, bool, error) {
	id, err := transformation.RequiredInt(transformationName, PropID, raw["id"])
	if err != nil {
		return nil, false, err
	}

	lat := transformation.OptionalFloat(raw["lat"])
	lng := transformation.OptionalFloat(raw["lng"])
	if lat == nil || lng == nil {
		return nil, false, nil
	}

	props := map[string]any{
		PropID:        id,
		PropName:      orNil(transformation.OptionalString(raw["name"])),
		PropTotal:     orNil(transformation.OptionalInt(raw["total_num_of_places"])),
		PropFree:      orNil(transformation.OptionalInt(raw["num_of_free_places"])),
		PropTaken:     orNil(transformation.OptionalInt(raw["num_of_taken_places"])),
		PropUpdatedAt: orNil(transformation.OptionalTime(raw["last_updated"])),
	}
	return geo.PointFeature(*lng, *lat, props), true, nil
}

// transformHistory: одна запись занятости на парковку, без времени измерения — ничего.
func transformHistory(_ context.Context, f *geojson.Feature) ([]Occupancy, error) {
	id, err := transformation.RequiredInt(transformationName, PropID, f.Properties[PropID])
	if err != nil {
		return nil, err
	}

	measured := transformation.OptionalTime(f.Properties[PropUpdatedAt])
	if measured == nil {
		return nil, nil
	}

	return []Occupancy{{
		ParkingID:   id,
		MeasuredAt:  measured.UTC(),
		TotalPlaces: transformation.OptionalInt(f.Properties[PropTotal]),
		FreePlaces:  transformation.OptionalInt(f.Properties[PropFree]),
		TakenPlaces: transformation.OptionalInt(f.Properties[PropTaken]),
	}}, nil
}

// orNil превращает nil-указатель в явный null свойства.
func orNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
