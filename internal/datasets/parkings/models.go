package parkings

import (
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/shaiso/Citydata/internal/geo"
	"github.com/shaiso/Citydata/internal/repo"
)

// Таблицы и ключи хранилища.
const (
	TableParkings    = "parkings.parkings"
	TableOccupancies = "parkings.parkings_occupancies"
	CacheOccupancy   = "parkings:occupancy"
)

const defaultCacheTTL = 15 * time.Minute

func newParkingsModel(db repo.DB) *repo.DocumentModel[*geojson.Feature] {
	return repo.NewDocumentModel(db, repo.DocumentConfig[*geojson.Feature]{
		Name:  "ParkingsModel",
		Table: TableParkings,
		ID:    featureID,
		// район считает updateDistrict, refresh его не приносит
		Preserve: []string{"properties." + PropDistrict},
	})
}

func newOccupanciesModel(db repo.DB) *repo.TableModel[Occupancy] {
	return repo.NewTableModel(db, repo.TableConfig[Occupancy]{
		Name:  "ParkingsOccupanciesModel",
		Table: TableOccupancies,
		Columns: []string{
			"parking_id", "measured_at",
			"total_num_of_places", "num_of_free_places", "num_of_taken_places",
		},
		Key: []string{"parking_id", "measured_at"},
		Values: func(o Occupancy) ([]any, error) {
			return []any{o.ParkingID, o.MeasuredAt, o.TotalPlaces, o.FreePlaces, o.TakenPlaces}, nil
		},
		InsertOnly: true,
	})
}

// newOccupancyCache — последняя занятость каждой парковки.
func newOccupancyCache(client redis.UniversalClient, ttl time.Duration) *repo.CacheModel[Occupancy] {
	return repo.NewCacheModel(client, repo.CacheConfig[Occupancy]{
		Name: "ParkingsOccupancyCache",
		Key:  CacheOccupancy,
		ID: func(o Occupancy) (string, error) {
			return strconv.FormatInt(o.ParkingID, 10), nil
		},
		TTL: ttl,
	})
}

func featureID(f *geojson.Feature) (string, error) {
	raw, ok := geo.ID(f)
	if !ok {
		return "", fmt.Errorf("feature has no id")
	}
	id, err := cast.ToStringE(raw)
	if err != nil {
		return "", fmt.Errorf("feature id: %w", err)
	}
	return id, nil
}
