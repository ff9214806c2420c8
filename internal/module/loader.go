package module

import (
	"errors"
	"fmt"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/worker"
)

const component = "module-loader"

// ErrUnknownModule — модуль не зарегистрирован.
var ErrUnknownModule = errors.New("module is not registered")

// Loader собирает модули из списка имён.
type Loader struct {
	// Catalog — Default: каталог процесса.
	Catalog *Catalog

	// Names — порядок модулей (modules.enabled).
	Names []string
}

// Loaded — плоские списки модулей в порядке Names.
type Loaded struct {
	Modules          []string
	QueueDefinitions []queue.Definition
	Workers          []worker.Factory
}

// Load резолвит каждый модуль. Неизвестное имя — Fatal ошибка с этим именем.
func (l Loader) Load(cfg *config.Config) (*Loaded, error) {
	catalog := l.Catalog
	if catalog == nil {
		catalog = defaultCatalog
	}

	loaded := &Loaded{}
	for _, name := range l.Names {
		m, ok := catalog.Get(name)
		if !ok {
			return nil, errs.Fatal(component, errs.CodeModuleLoad,
				fmt.Sprintf("load module %q (registered: %v)", name, catalog.Names()), ErrUnknownModule)
		}

		if m.QueueDefinitions != nil {
			loaded.QueueDefinitions = append(loaded.QueueDefinitions, m.QueueDefinitions(cfg)...)
		}
		loaded.Workers = append(loaded.Workers, m.Workers...)
		loaded.Modules = append(loaded.Modules, name)
	}
	return loaded, nil
}

// Instantiate создаёт воркеры. Ошибка фабрики — Fatal.
func (l *Loaded) Instantiate(deps worker.Deps) ([]worker.Worker, error) {
	workers := make([]worker.Worker, 0, len(l.Workers))
	seen := make(map[string]bool, len(l.Workers))

	for _, factory := range l.Workers {
		w, err := factory(deps)
		if err != nil {
			return nil, errs.Fatal(component, errs.CodeModuleLoad, "create worker", err)
		}
		if seen[w.Name()] {
			return nil, errs.Fatal(component, errs.CodeModuleLoad,
				fmt.Sprintf("worker %q created twice", w.Name()), nil)
		}
		seen[w.Name()] = true
		workers = append(workers, w)
	}
	return workers, nil
}

// Providers приводит воркеры к queue.MethodProvider для Registry.Bind.
func Providers(workers []worker.Worker) []queue.MethodProvider {
	out := make([]queue.MethodProvider, len(workers))
	for i, w := range workers {
		out[i] = w
	}
	return out
}
