// Package module — каталог модулей датасетов.
//
// Пакет датасета регистрирует себя из init:
//
//	func init() {
//	    module.Register(module.Module{
//	        Name:             "parkings",
//	        QueueDefinitions: queueDefinitions,
//	        Workers:          []worker.Factory{NewWorker},
//	    })
//	}
//
// Loader на старте процесса проверяет, что каждый модуль из конфигурации
// зарегистрирован, и собирает плоские списки определений очередей и воркеров.
package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/worker"
)

// Module — экспорт модуля датасета.
type Module struct {
	Name string

	// QueueDefinitions строит определения очередей (префикс зависит от exchange).
	QueueDefinitions func(cfg *config.Config) []queue.Definition

	Workers []worker.Factory
}

// Catalog — зарегистрированные модули.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]Module)}
}

// Register добавляет модуль. Повторная регистрация имени — ошибка программиста, panic.
func (c *Catalog) Register(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.Name == "" {
		panic("module: Register with empty name")
	}
	if _, ok := c.modules[m.Name]; ok {
		panic(fmt.Sprintf("module: Register called twice for %q", m.Name))
	}
	c.modules[m.Name] = m
}

// Get возвращает модуль по имени.
func (c *Catalog) Get(name string) (Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.modules[name]
	return m, ok
}

// Names возвращает имена модулей по алфавиту.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultCatalog = NewCatalog()

// Register регистрирует модуль в каталоге процесса.
func Register(m Module) {
	defaultCatalog.Register(m)
}

// Default возвращает каталог процесса.
func Default() *Catalog {
	return defaultCatalog
}
