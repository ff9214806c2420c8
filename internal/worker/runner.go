package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
)

const defaultPrefetch = 5

// Runner держит по consumer'у на каждую привязанную очередь.
//
// Воркеры stateless, процессы масштабируются горизонтально:
// несколько экземпляров потребляют одни и те же очереди.
type Runner struct {
	conn     *mq.Connection
	routes   []queue.Route
	prefetch int
	onFatal  func(queue string, err error)
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	Conn   *mq.Connection
	Routes []queue.Route

	// Prefetch — для очередей без собственного prefetch (default: 5).
	Prefetch int

	// OnFatal получает KindFatal ошибки обработчиков.
	OnFatal func(queue string, err error)

	Logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		conn:     cfg.Conn,
		routes:   cfg.Routes,
		prefetch: prefetch,
		onFatal:  cfg.OnFatal,
		logger:   logger,
	}
}

// Start запускает consumer'ы в отдельных горутинах.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRunnerStarted
	}
	r.started = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	for _, route := range r.routes {
		prefetch := route.Queue.Options.Prefetch
		if prefetch <= 0 {
			prefetch = r.prefetch
		}

		consumer := mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
			Queue:    route.FullName,
			Handler:  route.Handler,
			Prefetch: prefetch,
			OnFatal:  r.onFatal,
		})

		r.wg.Add(1)
		go func(name string) {
			defer r.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("consumer error", "queue", name, "error", err)
			}
		}(route.FullName)
	}

	r.logger.Info("runner started", "queues", len(r.routes))
	return nil
}

// Stop останавливает consumer'ы и ждёт завершения обработчиков.
func (r *Runner) Stop() {
	r.logger.Info("stopping runner...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()

	r.logger.Info("runner stopped")
}
