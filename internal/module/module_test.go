package module

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/worker"
)

type stubWorker struct{ name string }

func (w stubWorker) Name() string { return w.name }

func (w stubWorker) Methods() map[string]mq.Handler {
	return map[string]mq.Handler{
		"refreshDataInDB": func(context.Context, *mq.Delivery) error { return nil },
	}
}

func factory(name string) worker.Factory {
	return func(worker.Deps) (worker.Worker, error) { return stubWorker{name: name}, nil }
}

func definitions(module string, queues ...string) func(*config.Config) []queue.Definition {
	return func(cfg *config.Config) []queue.Definition {
		if len(queues) == 0 {
			return []queue.Definition{}
		}
		def := queue.Definition{Name: module, QueuePrefix: queue.Prefix(cfg.RabbitMQ.Exchange, module)}
		for _, q := range queues {
			def.Queues = append(def.Queues, queue.Queue{Name: q, Worker: module + "Worker", Method: "refreshDataInDB"})
		}
		return []queue.Definition{def}
	}
}

func testCatalog() *Catalog {
	c := NewCatalog()
	c.Register(Module{Name: "parkings", QueueDefinitions: definitions("parkings", "refreshDataInDB", "saveDataToHistory"), Workers: []worker.Factory{factory("parkingsWorker")}})
	c.Register(Module{Name: "meteosensors", QueueDefinitions: definitions("meteosensors", "refreshDataInDB"), Workers: []worker.Factory{factory("meteosensorsWorker")}})
	c.Register(Module{Name: "empty", QueueDefinitions: definitions("empty")})
	return c
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.RabbitMQ.Exchange = "citydata"
	return cfg
}

func TestLoad_FlattensInListedOrder(t *testing.T) {
	loaded, err := Loader{Catalog: testCatalog(), Names: []string{"meteosensors", "parkings"}}.Load(testConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"meteosensors", "parkings"}, loaded.Modules)
	require.Len(t, loaded.QueueDefinitions, 2)
	assert.Equal(t, "citydata.meteosensors", loaded.QueueDefinitions[0].QueuePrefix)
	assert.Equal(t, "citydata.parkings", loaded.QueueDefinitions[1].QueuePrefix)
	assert.Len(t, loaded.Workers, 2)
}

func TestLoad_EmptyModuleContributesNothing(t *testing.T) {
	loaded, err := Loader{Catalog: testCatalog(), Names: []string{"parkings", "empty"}}.Load(testConfig())
	require.NoError(t, err)

	r, err := queue.NewRegistry(loaded.QueueDefinitions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Len(t, loaded.Workers, 1)
}

func TestLoad_UnknownModuleIsFatal(t *testing.T) {
	_, err := Loader{Catalog: testCatalog(), Names: []string{"parkings", "trams"}}.Load(testConfig())
	require.Error(t, err)

	assert.True(t, errs.IsKind(err, errs.KindFatal))
	assert.False(t, errs.IsRetryable(err))
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.Contains(t, err.Error(), `"trams"`)

	e, _ := errs.As(err)
	assert.Equal(t, errs.CodeModuleLoad, e.Code)
}

func TestLoad_RepointedToSingleModule(t *testing.T) {
	loaded, err := Loader{Catalog: testCatalog(), Names: []string{"meteosensors"}}.Load(testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"meteosensors"}, loaded.Modules)
	assert.Len(t, loaded.QueueDefinitions, 1)

	loaded, err = Loader{Catalog: testCatalog()}.Load(testConfig())
	require.NoError(t, err)
	assert.Empty(t, loaded.QueueDefinitions)
}

func TestInstantiate(t *testing.T) {
	loaded, err := Loader{Catalog: testCatalog(), Names: []string{"parkings", "meteosensors"}}.Load(testConfig())
	require.NoError(t, err)

	workers, err := loaded.Instantiate(worker.Deps{})
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "parkingsWorker", workers[0].Name())

	// Воркеры резолвятся реестром очередей
	r, err := queue.NewRegistry(loaded.QueueDefinitions, nil, nil)
	require.NoError(t, err)
	routes, err := r.Bind(Providers(workers), nil)
	require.NoError(t, err)
	assert.Len(t, routes, 3)
}

func TestInstantiate_Errors(t *testing.T) {
	broken := &Loaded{Workers: []worker.Factory{func(worker.Deps) (worker.Worker, error) {
		return nil, errors.New("missing datasets.parkings.url")
	}}}
	_, err := broken.Instantiate(worker.Deps{})
	assert.True(t, errs.IsKind(err, errs.KindFatal))

	twice := &Loaded{Workers: []worker.Factory{factory("w"), factory("w")}}
	_, err = twice.Instantiate(worker.Deps{})
	assert.True(t, errs.IsKind(err, errs.KindFatal))
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	c.Register(Module{Name: "parkings"})

	assert.Panics(t, func() { c.Register(Module{Name: "parkings"}) })
	assert.Panics(t, func() { c.Register(Module{}) })
	assert.Equal(t, []string{"parkings"}, c.Names())

	_, ok := c.Get("parkings")
	assert.True(t, ok)
}
