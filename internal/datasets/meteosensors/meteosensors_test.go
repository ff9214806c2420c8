package meteosensors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/transformation"
	"github.com/shaiso/Citydata/internal/worker"
)

type fakeModel struct {
	calls   []string
	saved   []Sensor
	saveErr error
}

func (m *fakeModel) Name() string { return "MeteosensorsModel" }

func (m *fakeModel) Save(_ context.Context, records []Sensor, opts repo.SaveOptions) (*repo.SaveResult, error) {
	if opts.Replace {
		m.calls = append(m.calls, "replace")
	} else {
		m.calls = append(m.calls, "save")
	}
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saved = append(m.saved, records...)
	return &repo.SaveResult{Inserted: make([]string, len(records))}, nil
}

func (m *fakeModel) Truncate(_ context.Context, useTemp bool) error {
	if useTemp {
		m.calls = append(m.calls, "truncate temp")
	} else {
		m.calls = append(m.calls, "truncate")
	}
	return nil
}

func newTestWorker(records ...map[string]any) (*Worker, *fakeModel, *[]string) {
	model := &fakeModel{}
	var dates []string

	deps := worker.Deps{Config: &config.Config{RabbitMQ: config.RabbitMQConfig{Exchange: "dataplatform"}}}
	w := &Worker{
		Base: worker.NewBase(WorkerName, queue.Prefix("dataplatform", Name), deps),
		source: func(date string) datasource.Source[map[string]any] {
			dates = append(dates, date)
			return datasource.Static("meteosensors", records...)
		},
		transformation: NewTransformation(),
		model:          model,
		location:       time.UTC,
		now:            func() time.Time { return time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC) },
	}
	return w, model, &dates
}

func sensor(id string) map[string]any {
	return map[string]any{
		"id":              id,
		"name":            "Barrandovský most",
		"lat":             50.03,
		"lng":             14.41,
		"airTemperature":  "-1.5",
		"roadTemperature": nil,
		"humidity":        84,
		"windDirection":   "270",
		"windSpeed":       3.2,
		"lastUpdated":     float64(1709631000000),
	}
}

func TestTransformElement(t *testing.T) {
	s, ok, err := transformElement(context.Background(), sensor("531"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(531), s.ID)
	assert.Equal(t, -1.5, *s.AirTemperature)
	assert.Nil(t, s.RoadTemperature)
	assert.Equal(t, int64(270), *s.WindDirection)
	require.NotNil(t, s.LastUpdated)
	assert.Equal(t, int64(1709631000), s.LastUpdated.Unix())

	raw := sensor("532")
	delete(raw, "lat")
	_, _, err = transformElement(context.Background(), raw)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestNoHistoryCapability(t *testing.T) {
	_, err := transformation.TransformHistory[Sensor, Sensor](context.Background(), NewTransformation(), []Sensor{{ID: 1}})
	assert.True(t, errs.IsKind(err, errs.KindNotImplemented))
}

func TestRefreshDataInDB_FullReplace(t *testing.T) {
	w, model, dates := newTestWorker(sensor("1"), sensor("2"))

	err := w.Methods()[QueueRefresh](context.Background(), &mq.Delivery{})
	require.NoError(t, err)

	assert.Equal(t, []string{"replace"}, model.calls)
	assert.Len(t, model.saved, 2)
	assert.Equal(t, []string{"2024-03-05"}, *dates)
}

func TestRefreshDataInDB_DateHeader(t *testing.T) {
	w, _, dates := newTestWorker(sensor("1"))

	d := mq.NewDelivery(amqp.Delivery{Headers: amqp.Table{HeaderDate: "2024-01-31"}})
	require.NoError(t, w.Methods()[QueueRefresh](context.Background(), d))
	assert.Equal(t, []string{"2024-01-31"}, *dates)
}

func TestRefreshDataInDB_TimezoneDecidesToday(t *testing.T) {
	w, _, dates := newTestWorker()
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)
	w.location = loc

	require.NoError(t, w.Methods()[QueueRefresh](context.Background(), &mq.Delivery{}))
	assert.Equal(t, []string{"2024-03-06"}, *dates)
}

func TestRefreshDataInDB_BadDateIsRejected(t *testing.T) {
	w, model, _ := newTestWorker(sensor("1"))

	d := mq.NewDelivery(amqp.Delivery{Headers: amqp.Table{HeaderDate: "yesterday"}})
	err := w.Methods()[QueueRefresh](context.Background(), d)
	assert.Equal(t, mq.OutcomeReject, mq.Decide(err))
	assert.Empty(t, model.calls)
}

func TestRefreshDataInDB_ReplaceFailureIsRetried(t *testing.T) {
	w, model, _ := newTestWorker(sensor("1"))
	model.saveErr = errs.Transient("MeteosensorsModel", errs.CodeSave, "deadlock detected", nil)

	err := w.Methods()[QueueRefresh](context.Background(), &mq.Delivery{})
	assert.Equal(t, mq.OutcomeRequeue, mq.Decide(err))
}

type nopDB struct{ repo.DB }

func TestNewWorker_HTTPSource(t *testing.T) {
	var gotDate string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{Exchange: "dataplatform"},
		Datasets: map[string]map[string]any{Name: {"url": server.URL}},
	}
	w, err := NewWorker(worker.Deps{Config: cfg, Pool: nopDB{}})
	require.NoError(t, err)

	records, err := w.(*Worker).source("2024-02-29").FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "2024-02-29", gotDate)

	_, err = NewWorker(worker.Deps{Config: &config.Config{}, Pool: nopDB{}})
	assert.Error(t, err)
}
