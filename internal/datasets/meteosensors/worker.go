package meteosensors

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/transformation"
	"github.com/shaiso/Citydata/internal/worker"
)

// Table — таблица метеостанций.
const Table = "meteosensors.meteosensors"

const dateLayout = "2006-01-02"

// Worker — воркер метеостанций.
type Worker struct {
	*worker.Base

	// source возвращает источник за указанную дату.
	source         func(date string) datasource.Source[map[string]any]
	transformation *transformation.Mapper[map[string]any, Sensor]
	model          repo.Model[Sensor]
	location       *time.Location
	now            func() time.Time
}

// NewWorker создаёт воркер из настроек datasets.meteosensors.
func NewWorker(deps worker.Deps) (worker.Worker, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("meteosensors: config is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("meteosensors: postgres pool is required")
	}

	ds := deps.Config.Dataset(Name)
	url := ds.String("url", "")
	if url == "" {
		return nil, fmt.Errorf("meteosensors: datasets.meteosensors.url is required")
	}

	base := datasource.NewHTTPJSONSource[map[string]any](datasource.HTTPConfig{
		Name:        "MeteosensorsDataSource",
		URL:         url,
		Headers:     ds.StringMap("headers"),
		ResultsPath: ds.String("results_path", ""),
		Timeout:     ds.Duration("timeout", 30*time.Second),
		MaxBodySize: ds.Int64("max_body_size", 0),
	})

	loc, err := time.LoadLocation(ds.String("timezone", deps.Config.Scheduler.Timezone))
	if err != nil {
		return nil, errs.Fatal(WorkerName, errs.CodeConfig, "invalid timezone", err)
	}

	return &Worker{
		Base: worker.NewBase(WorkerName, queue.Prefix(deps.Config.RabbitMQ.Exchange, Name), deps),
		source: func(date string) datasource.Source[map[string]any] {
			return base.WithQuery(map[string]string{HeaderDate: date})
		},
		transformation: NewTransformation(),
		model:          newSensorsModel(deps.Pool),
		location:       loc,
		now:            time.Now,
	}, nil
}

func newSensorsModel(db repo.DB) *repo.TableModel[Sensor] {
	return repo.NewTableModel(db, repo.TableConfig[Sensor]{
		Name:  "MeteosensorsModel",
		Table: Table,
		Columns: []string{
			"id", "name", "lat", "lng",
			"air_temperature", "road_temperature", "humidity",
			"wind_direction", "wind_speed", "last_updated",
		},
		Key: []string{"id"},
		Values: func(s Sensor) ([]any, error) {
			return []any{
				s.ID, s.Name, s.Lat, s.Lng,
				s.AirTemperature, s.RoadTemperature, s.Humidity,
				s.WindDirection, s.WindSpeed, s.LastUpdated,
			}, nil
		},
	})
}

// Methods возвращает методы воркера.
func (w *Worker) Methods() map[string]mq.Handler {
	return map[string]mq.Handler{
		QueueRefresh: w.refreshDataInDB,
	}
}

// refreshDataInDB загружает данные за дату из заголовка (по умолчанию сегодня)
// и заменяет ими таблицу. Замена идёт одной транзакцией, параллельные
// вызовы (cron и ручной запуск, несколько реплик) выполняются по очереди.
func (w *Worker) refreshDataInDB(ctx context.Context, d *mq.Delivery) error {
	date, err := w.date(d)
	if err != nil {
		return err
	}

	_, err = worker.Refresh(ctx, w.Base, worker.Pipeline[map[string]any, Sensor]{
		Sources:        []datasource.Source[map[string]any]{w.source(date)},
		Transformation: w.transformation,
		Model:          w.model,
		Replace:        true,
	}, nil)
	return err
}

// date возвращает дату выгрузки. Неразборчивый заголовок — битое сообщение.
func (w *Worker) date(d *mq.Delivery) (string, error) {
	raw := d.Header(HeaderDate)
	if raw == "" {
		return w.now().In(w.location).Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", errs.Validation(w.Name(), "invalid date header "+raw, false, err)
	}
	return raw, nil
}
