package meteosensors

import (
	"context"
	"time"

	"github.com/shaiso/Citydata/internal/transformation"
)

const transformationName = "MeteosensorsTransformation"

// Sensor — измерение метеостанции.
type Sensor struct {
	ID              int64      `json:"id"`
	Name            *string    `json:"name"`
	Lat             float64    `json:"lat"`
	Lng             float64    `json:"lng"`
	AirTemperature  *float64   `json:"air_temperature"`
	RoadTemperature *float64   `json:"road_temperature"`
	Humidity        *float64   `json:"humidity"`
	WindDirection   *int64     `json:"wind_direction"`
	WindSpeed       *float64   `json:"wind_speed"`
	LastUpdated     *time.Time `json:"last_updated"`
}

// NewTransformation создаёт трансформацию без history.
func NewTransformation(opts ...transformation.Option) *transformation.Mapper[map[string]any, Sensor] {
	return transformation.New(transformationName, transformElement, opts...)
}

func transformElement(_ context.Context, raw map[string]any) (Sensor, bool, error) {
	id, err := transformation.RequiredInt(transformationName, "id", raw["id"])
	if err != nil {
		return Sensor{}, false, err
	}
	lat, err := transformation.RequiredFloat(transformationName, "lat", raw["lat"])
	if err != nil {
		return Sensor{}, false, err
	}
	lng, err := transformation.RequiredFloat(transformationName, "lng", raw["lng"])
	if err != nil {
		return Sensor{}, false, err
	}

	return Sensor{
		ID:              id,
		Name:            transformation.OptionalString(raw["name"]),
		Lat:             lat,
		Lng:             lng,
		AirTemperature:  transformation.OptionalFloat(raw["airTemperature"]),
		RoadTemperature: transformation.OptionalFloat(raw["roadTemperature"]),
		Humidity:        transformation.OptionalFloat(raw["humidity"]),
		WindDirection:   transformation.OptionalInt(raw["windDirection"]),
		WindSpeed:       transformation.OptionalFloat(raw["windSpeed"]),
		LastUpdated:     transformation.OptionalTime(raw["lastUpdated"]),
	}, true, nil
}
