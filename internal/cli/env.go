package cli

import (
	"io"
	"log/slog"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/module"
	"github.com/shaiso/Citydata/internal/queue"
)

// Env — конфигурация и каталог модулей, с которыми работают команды.
type Env struct {
	Config *config.Config

	// Catalog — Default: module.Default().
	Catalog *module.Catalog
}

// LoadEnv читает конфигурацию (path может быть пустым).
func LoadEnv(path string) (*Env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &Env{Config: cfg, Catalog: module.Default()}, nil
}

// Registry загружает включённые модули и строит реестр очередей с учётом blacklist.
func (e *Env) Registry() (*queue.Registry, error) {
	loaded, err := module.Loader{Catalog: e.catalog(), Names: e.Config.Modules.Enabled}.Load(e.Config)
	if err != nil {
		return nil, err
	}
	return queue.NewRegistry(loaded.QueueDefinitions, e.Config.Modules.Blacklist, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (e *Env) catalog() *module.Catalog {
	if e.Catalog == nil {
		return module.Default()
	}
	return e.Catalog
}
