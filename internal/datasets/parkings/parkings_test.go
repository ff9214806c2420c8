package parkings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/worker"
)

const exchange = "dataplatform"

// --- Fakes ---

type published struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) PublishJSON(_ context.Context, _, routingKey string, payload any, _ map[string]any) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakePublisher) keys() []string {
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.routingKey
	}
	return out
}

// fakeDocuments хранит features по id. Как и newParkingsModel, сохраняет
// район существующего документа, если новый feature его не задаёт.
type fakeDocuments struct {
	docs    map[string]*geojson.Feature
	saveErr error
	saves   int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: map[string]*geojson.Feature{}}
}

func (m *fakeDocuments) Name() string { return "ParkingsModel" }

func (m *fakeDocuments) Save(_ context.Context, records []*geojson.Feature, _ repo.SaveOptions) (*repo.SaveResult, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saves++
	res := &repo.SaveResult{Inserted: []string{}, Updated: []string{}}
	for _, f := range records {
		id, err := featureID(f)
		if err != nil {
			return nil, err
		}
		if old, ok := m.docs[id]; ok {
			res.Updated = append(res.Updated, id)
			district, had := old.Properties[PropDistrict]
			if _, set := f.Properties[PropDistrict]; had && !set {
				f.Properties[PropDistrict] = district
			}
		} else {
			res.Inserted = append(res.Inserted, id)
		}
		m.docs[id] = f
	}
	return res, nil
}

func (m *fakeDocuments) Truncate(context.Context, bool) error { return nil }

func (m *fakeDocuments) FindByID(_ context.Context, id string) (*geojson.Feature, error) {
	f, ok := m.docs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return f, nil
}

type fakeModel[T any] struct {
	name  string
	saved []T
}

func (m *fakeModel[T]) Name() string { return m.name }

func (m *fakeModel[T]) Save(_ context.Context, records []T, _ repo.SaveOptions) (*repo.SaveResult, error) {
	m.saved = append(m.saved, records...)
	return &repo.SaveResult{Inserted: make([]string, len(records))}, nil
}

func (m *fakeModel[T]) Truncate(context.Context, bool) error { return nil }

type fakeLocator struct {
	slug  string
	err   error
	calls int
}

func (l *fakeLocator) Locate(context.Context, float64, float64) (string, error) {
	l.calls++
	return l.slug, l.err
}

type testWorker struct {
	*Worker
	publisher   *fakePublisher
	parkings    *fakeDocuments
	occupancies *fakeModel[Occupancy]
	cache       *fakeModel[Occupancy]
	locator     *fakeLocator
}

func newTestWorker(records ...map[string]any) *testWorker {
	tw := &testWorker{
		publisher:   &fakePublisher{},
		parkings:    newFakeDocuments(),
		occupancies: &fakeModel[Occupancy]{name: "ParkingsOccupanciesModel"},
		cache:       &fakeModel[Occupancy]{name: "ParkingsOccupancyCache"},
		locator:     &fakeLocator{slug: "praha-4"},
	}

	deps := worker.Deps{
		Config:    &config.Config{RabbitMQ: config.RabbitMQConfig{Exchange: exchange}},
		Publisher: tw.publisher,
	}
	tw.Worker = &Worker{
		Base:           worker.NewBase(WorkerName, queue.Prefix(exchange, Name), deps),
		source:         datasource.Static("parkings", records...),
		transformation: NewTransformation(),
		parkings:       tw.parkings,
		occupancies:    tw.occupancies,
		cache:          tw.cache,
		districts:      tw.locator,
	}
	return tw
}

func rawParking(id string, lat, lng any, free int) map[string]any {
	return map[string]any{
		"id":                  id,
		"name":                "P+R " + id,
		"lat":                 lat,
		"lng":                 lng,
		"total_num_of_places": float64(100),
		"num_of_free_places":  float64(free),
		"num_of_taken_places": float64(100 - free),
		"last_updated":        "2024-03-05T10:30:00Z",
	}
}

func delivery(t *testing.T, payload any) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &mq.Delivery{Body: body, RoutingKey: "workers.dataplatform.parkings.test"}
}

// --- Transformation ---

func TestTransformElement(t *testing.T) {
	f, ok, err := transformElement(context.Background(), rawParking("534015", "50.0323", "14.4928", 40))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(534015), f.Properties[PropID])
	assert.Equal(t, "P+R 534015", f.Properties[PropName])
	assert.Equal(t, int64(40), f.Properties[PropFree])
	assert.Equal(t, int64(60), f.Properties[PropTaken])
	assert.True(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC).Equal(f.Properties[PropUpdatedAt].(time.Time)))
	assert.NotEmpty(t, f.Properties["geohash"])
}

func TestTransformElement_NullableFields(t *testing.T) {
	f, ok, err := transformElement(context.Background(), map[string]any{"id": "7", "lat": "50.1", "lng": "14.4"})
	require.NoError(t, err)
	require.True(t, ok)

	// Отсутствующие значения — явный null, а не пропущенный ключ
	for _, key := range []string{PropName, PropTotal, PropFree, PropTaken, PropUpdatedAt} {
		v, present := f.Properties[key]
		assert.True(t, present, key)
		assert.Nil(t, v, key)
	}
}

func TestTransformElement_NoCoordinatesIsDropped(t *testing.T) {
	_, ok, err := transformElement(context.Background(), rawParking("7", nil, "14.4", 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransformElement_BadIDFailsRecord(t *testing.T) {
	_, _, err := transformElement(context.Background(), rawParking("abc", "50.1", "14.4", 1))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.False(t, errs.IsRetryable(err))
}

func TestTransformHistory_SkipsWithoutMeasurement(t *testing.T) {
	withTime, _, err := transformElement(context.Background(), rawParking("1", "50.1", "14.4", 10))
	require.NoError(t, err)
	noTime, _, err := transformElement(context.Background(), map[string]any{"id": "2", "lat": "50.1", "lng": "14.4"})
	require.NoError(t, err)

	history, err := NewTransformation().TransformHistory(context.Background(), []*geojson.Feature{withTime, noTime})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].ParkingID)
	assert.Equal(t, int64(10), *history[0].FreePlaces)
}

// --- Worker ---

func TestRefreshDataInDB(t *testing.T) {
	tw := newTestWorker(
		rawParking("1", "50.02", "14.50", 40),
		rawParking("2", nil, nil, 1),
		rawParking("3", "50.10", "14.40", 0),
	)

	err := tw.Methods()[QueueRefresh](context.Background(), delivery(t, struct{}{}))
	require.NoError(t, err)

	assert.Len(t, tw.parkings.docs, 2)
	assert.Equal(t, []string{
		"workers.dataplatform.parkings.saveDataToHistory",
		"workers.dataplatform.parkings.updateDistrict",
		"workers.dataplatform.parkings.updateDistrict",
	}, tw.publisher.keys())

	features, ok := tw.publisher.messages[0].payload.([]*geojson.Feature)
	require.True(t, ok)
	assert.Len(t, features, 2)
	assert.Equal(t, districtMessage{ID: "1"}, tw.publisher.messages[1].payload)
	assert.Equal(t, districtMessage{ID: "3"}, tw.publisher.messages[2].payload)
}

func TestRefreshDataInDB_SaveFailureSendsNothing(t *testing.T) {
	tw := newTestWorker(rawParking("1", "50.02", "14.50", 40))
	tw.parkings.saveErr = errs.Transient("ParkingsModel", errs.CodeSave, "connection reset", nil)

	err := tw.Methods()[QueueRefresh](context.Background(), delivery(t, struct{}{}))
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.Empty(t, tw.publisher.messages)
}

func TestRefreshDataInDB_PublishFailureIsRetryable(t *testing.T) {
	tw := newTestWorker(rawParking("1", "50.02", "14.50", 40))
	tw.publisher.err = errors.New("channel closed")

	err := tw.Methods()[QueueRefresh](context.Background(), delivery(t, struct{}{}))
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.Equal(t, mq.OutcomeRequeue, mq.Decide(err))
}

func TestSaveDataToHistory(t *testing.T) {
	tw := newTestWorker()

	var features []*geojson.Feature
	for _, raw := range []map[string]any{rawParking("1", "50.02", "14.50", 40), rawParking("3", "50.10", "14.40", 0)} {
		f, _, err := transformElement(context.Background(), raw)
		require.NoError(t, err)
		features = append(features, f)
	}

	// Сообщение проходит через JSON, как в брокере
	err := tw.Methods()[QueueHistory](context.Background(), delivery(t, features))
	require.NoError(t, err)

	require.Len(t, tw.occupancies.saved, 2)
	assert.Equal(t, int64(3), tw.occupancies.saved[1].ParkingID)
	assert.Equal(t, int64(0), *tw.occupancies.saved[1].FreePlaces)
	assert.True(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC).Equal(tw.occupancies.saved[0].MeasuredAt))
	assert.Equal(t, tw.occupancies.saved, tw.cache.saved)
}

func TestSaveDataToHistory_WithoutCache(t *testing.T) {
	tw := newTestWorker()
	tw.Worker.cache = nil

	f, _, err := transformElement(context.Background(), rawParking("1", "50.02", "14.50", 40))
	require.NoError(t, err)

	require.NoError(t, tw.Methods()[QueueHistory](context.Background(), delivery(t, []*geojson.Feature{f})))
	assert.Len(t, tw.occupancies.saved, 1)
	assert.Empty(t, tw.cache.saved)
}

func TestSaveDataToHistory_BadMessageIsRejected(t *testing.T) {
	tw := newTestWorker()

	err := tw.Methods()[QueueHistory](context.Background(), &mq.Delivery{Body: []byte(`{"not":"a list"`)})
	require.Error(t, err)
	assert.Equal(t, mq.OutcomeReject, mq.Decide(err))
	assert.Empty(t, tw.occupancies.saved)
}

func TestUpdateDistrict(t *testing.T) {
	tw := newTestWorker()
	f, _, err := transformElement(context.Background(), rawParking("1", "50.02", "14.50", 40))
	require.NoError(t, err)
	tw.parkings.docs["1"] = f

	require.NoError(t, tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{ID: "1"})))
	assert.Equal(t, "praha-4", tw.parkings.docs["1"].Properties[PropDistrict])

	// Район не изменился — повторное сохранение не нужно
	tw.parkings.saveErr = errors.New("must not be called")
	require.NoError(t, tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{ID: "1"})))
	assert.Equal(t, 2, tw.locator.calls)
}

func TestUpdateDistrict_SurvivesRefresh(t *testing.T) {
	tw := newTestWorker(rawParking("1", "50.02", "14.50", 40))
	ctx := context.Background()

	require.NoError(t, tw.Methods()[QueueRefresh](ctx, delivery(t, struct{}{})))
	require.NoError(t, tw.Methods()[QueueDistrict](ctx, delivery(t, districtMessage{ID: "1"})))
	require.Equal(t, "praha-4", tw.parkings.docs["1"].Properties[PropDistrict])
	require.Equal(t, 2, tw.parkings.saves)

	require.NoError(t, tw.Methods()[QueueRefresh](ctx, delivery(t, struct{}{})))
	assert.Equal(t, "praha-4", tw.parkings.docs["1"].Properties[PropDistrict])

	// Район уже на месте: каскадный пересчёт ничего не пишет
	require.NoError(t, tw.Methods()[QueueDistrict](ctx, delivery(t, districtMessage{ID: "1"})))
	assert.Equal(t, 3, tw.parkings.saves)
}

// recordingDB запоминает SQL и отказывает в выполнении.
type recordingDB struct {
	repo.DB
	queries []string
}

func (db *recordingDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	db.queries = append(db.queries, sql)
	return nil, errors.New("not connected")
}

func TestParkingsModel_PreservesDistrict(t *testing.T) {
	f, _, err := transformElement(context.Background(), rawParking("1", "50.02", "14.50", 40))
	require.NoError(t, err)

	db := &recordingDB{}
	_, err = newParkingsModel(db).Save(context.Background(), []*geojson.Feature{f}, repo.SaveOptions{})
	require.Error(t, err)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0],
		"jsonb_set(EXCLUDED.data, '{properties,district}', cur.data #> '{properties,district}')")
}

func TestUpdateDistrict_OutsideDistricts(t *testing.T) {
	tw := newTestWorker()
	tw.locator.slug = ""
	f, _, err := transformElement(context.Background(), rawParking("1", "49.00", "13.00", 40))
	require.NoError(t, err)
	tw.parkings.docs["1"] = f

	require.NoError(t, tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{ID: "1"})))
	v, present := tw.parkings.docs["1"].Properties[PropDistrict]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestUpdateDistrict_Errors(t *testing.T) {
	t.Run("missing parking is acked", func(t *testing.T) {
		tw := newTestWorker()
		err := tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{ID: "404"}))
		assert.NoError(t, err)
		assert.Zero(t, tw.locator.calls)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		tw := newTestWorker()
		err := tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{}))
		assert.Equal(t, mq.OutcomeReject, mq.Decide(err))
	})

	t.Run("lookup failure is retried", func(t *testing.T) {
		tw := newTestWorker()
		f, _, _ := transformElement(context.Background(), rawParking("1", "50.02", "14.50", 40))
		tw.parkings.docs["1"] = f
		tw.locator.err = errs.Transient("districts", errs.CodeFetch, "timeout", nil)

		err := tw.Methods()[QueueDistrict](context.Background(), delivery(t, districtMessage{ID: "1"}))
		assert.Equal(t, mq.OutcomeRequeue, mq.Decide(err))
	})
}

// --- Wiring ---

type nopDB struct{ repo.DB }

func TestQueueDefinitions(t *testing.T) {
	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{Exchange: exchange},
		Datasets: map[string]map[string]any{Name: {"cron": "0 * * * *"}},
	}

	registry, err := queue.NewRegistry(QueueDefinitions(cfg), nil, nil)
	require.NoError(t, err)

	var names []string
	for _, b := range registry.Bindings() {
		names = append(names, b.FullName)
	}
	assert.Equal(t, []string{
		"dataplatform.parkings.refreshDataInDB",
		"dataplatform.parkings.saveDataToHistory",
		"dataplatform.parkings.updateDistrict",
	}, names)

	scheduled := registry.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, "0 * * * *", scheduled[0].Queue.Options.Cron)
}

func TestNewWorker(t *testing.T) {
	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{Exchange: exchange},
		Datasets: map[string]map[string]any{Name: {"url": "https://api.example.org/parkings"}},
	}

	w, err := NewWorker(worker.Deps{Config: cfg, Pool: nopDB{}})
	require.NoError(t, err)
	assert.Equal(t, WorkerName, w.Name())
	assert.Len(t, w.Methods(), 3)
	assert.Nil(t, w.(*Worker).cache)

	_, err = NewWorker(worker.Deps{Config: &config.Config{}, Pool: nopDB{}})
	assert.Error(t, err)

	_, err = NewWorker(worker.Deps{Config: cfg})
	assert.Error(t, err)
}
