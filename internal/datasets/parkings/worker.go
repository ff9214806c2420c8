package parkings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/districts"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/geo"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/transformation"
	"github.com/shaiso/Citydata/internal/worker"
)

// documentStore — текущее состояние парковок.
type documentStore interface {
	repo.Model[*geojson.Feature]
	FindByID(ctx context.Context, id string) (*geojson.Feature, error)
}

type districtLocator interface {
	Locate(ctx context.Context, lng, lat float64) (string, error)
}

// districtMessage — тело сообщения updateDistrict.
type districtMessage struct {
	ID string `json:"id"`
}

// Worker — воркер парковок.
type Worker struct {
	*worker.Base

	source         datasource.Source[map[string]any]
	transformation *Transformation
	parkings       documentStore
	occupancies    repo.Model[Occupancy]
	cache          repo.Model[Occupancy] // nil, если Redis не настроен
	districts      districtLocator
}

// NewWorker создаёт воркер из настроек datasets.parkings.
func NewWorker(deps worker.Deps) (worker.Worker, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("parkings: config is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("parkings: postgres pool is required")
	}

	ds := deps.Config.Dataset(Name)
	url := ds.String("url", "")
	if url == "" {
		return nil, fmt.Errorf("parkings: datasets.parkings.url is required")
	}

	source := datasource.NewHTTPJSONSource[map[string]any](datasource.HTTPConfig{
		Name:        "ParkingsDataSource",
		URL:         url,
		Headers:     ds.StringMap("headers"),
		ResultsPath: ds.String("results_path", ""),
		Timeout:     ds.Duration("timeout", 30*time.Second),
		MaxBodySize: ds.Int64("max_body_size", 0),
	})

	locator, err := districts.NewLocator(deps.Pool, districts.Config{
		Table: ds.String("districts_table", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("parkings: %w", err)
	}

	w := &Worker{
		Base:           worker.NewBase(WorkerName, queue.Prefix(deps.Config.RabbitMQ.Exchange, Name), deps),
		source:         source,
		transformation: NewTransformation(),
		parkings:       newParkingsModel(deps.Pool),
		occupancies:    newOccupanciesModel(deps.Pool),
		districts:      locator,
	}
	if deps.Redis != nil {
		w.cache = newOccupancyCache(deps.Redis, ds.Duration("cache_ttl", defaultCacheTTL))
	}
	return w, nil
}

// Methods возвращает методы воркера по именам очередей.
func (w *Worker) Methods() map[string]mq.Handler {
	return map[string]mq.Handler{
		QueueRefresh:  w.refreshDataInDB,
		QueueHistory:  w.saveDataToHistory,
		QueueDistrict: w.updateDistrict,
	}
}

// refreshDataInDB загружает парковки и обновляет текущее состояние.
// После сохранения features уходят в историю, а каждая сохранённая
// парковка — на пересчёт района.
func (w *Worker) refreshDataInDB(ctx context.Context, _ *mq.Delivery) error {
	_, err := worker.Refresh(ctx, w.Base, worker.Pipeline[map[string]any, *geojson.Feature]{
		Sources:        []datasource.Source[map[string]any]{w.source},
		Transformation: w.transformation,
		Model:          w.parkings,
	}, func(ctx context.Context, features []*geojson.Feature, saved *repo.SaveResult) error {
		if err := w.SendMessageToExchange(ctx, QueueHistory, features, nil); err != nil {
			return err
		}
		for _, id := range saved.IDs() {
			if err := w.SendMessageToExchange(ctx, QueueDistrict, districtMessage{ID: id}, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// saveDataToHistory сохраняет снимок занятости в историю и кэш.
func (w *Worker) saveDataToHistory(ctx context.Context, d *mq.Delivery) error {
	features, err := worker.DecodeJSON[[]*geojson.Feature](d)
	if err != nil {
		return err
	}

	history, err := transformation.TransformHistory[*geojson.Feature, Occupancy](ctx, w.transformation, features)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		w.Logger().Debug("no occupancy records", "features", len(features))
		return nil
	}

	if _, err := worker.Persist(ctx, w.Base, w.occupancies, history, repo.SaveOptions{}); err != nil {
		return err
	}
	if w.cache != nil {
		if _, err := worker.Persist(ctx, w.Base, w.cache, history, repo.SaveOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// updateDistrict пересчитывает район парковки. Удалённая парковка — не ошибка.
func (w *Worker) updateDistrict(ctx context.Context, d *mq.Delivery) error {
	msg, err := worker.DecodeJSON[districtMessage](d)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		return errs.Validation(w.Name(), "updateDistrict: empty parking id", false, nil)
	}

	f, err := w.parkings.FindByID(ctx, msg.ID)
	if errors.Is(err, repo.ErrNotFound) {
		w.Logger().Warn("parking not found", "id", msg.ID)
		return nil
	}
	if err != nil {
		return err
	}

	lng, lat, ok := geo.Point(f)
	if !ok {
		return errs.Validation(w.Name(), "updateDistrict: parking "+msg.ID+" has no point geometry", false, nil)
	}

	slug, err := w.districts.Locate(ctx, lng, lat)
	if err != nil {
		return err
	}

	var district any
	if slug != "" {
		district = slug
	}
	if current, ok := f.Properties[PropDistrict]; ok && current == district {
		return nil
	}

	f.Properties[PropDistrict] = district
	_, err = worker.Persist(ctx, w.Base, w.parkings, []*geojson.Feature{f}, repo.SaveOptions{})
	return err
}
