// Citydata Worker — обрабатывает очереди включённых модулей датасетов.
//
// Worker:
//   - Загружает модули из modules.enabled
//   - Объявляет exchange, очереди и bindings в RabbitMQ
//   - Привязывает каждую очередь к методу воркера модуля
//   - Отдаёт /healthz и /metrics
//
// Fatal ошибка обработчика (нет exchange, сломанная привязка) останавливает процесс.
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Citydata/internal/config"
	_ "github.com/shaiso/Citydata/internal/datasets"
	"github.com/shaiso/Citydata/internal/module"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/telemetry"
	"github.com/shaiso/Citydata/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("CITYDATA_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(telemetry.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting citydata-worker", "modules", cfg.Modules.Enabled)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	// Модули проверяются до подключения к инфраструктуре
	loaded, err := module.Loader{Names: cfg.Modules.Enabled}.Load(cfg)
	if err != nil {
		logger.Error("failed to load modules", "error", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	deps := worker.Deps{
		Config:  cfg,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
	}

	if len(cfg.Redis.Addrs) > 0 {
		rdb, err := repo.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		deps.Redis = rdb
		logger.Info("redis connected")
	}

	// RabbitMQ
	conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("RabbitMQ connected")

	deps.Publisher = mq.NewPublisher(conn, logger,
		mq.WithDurableExchange(cfg.RabbitMQ.ExchangeDurable),
		mq.WithPublisherMetrics(metrics),
	)

	workers, err := loaded.Instantiate(deps)
	if err != nil {
		logger.Error("failed to create workers", "error", err)
		os.Exit(1)
	}

	queues, err := queue.NewRegistry(loaded.QueueDefinitions, cfg.Modules.Blacklist, logger)
	if err != nil {
		logger.Error("invalid queue definitions", "error", err)
		os.Exit(1)
	}

	err = queues.Declare(ctx, conn, queue.DeclareOptions{
		Exchange:           cfg.RabbitMQ.Exchange,
		ExchangeDurable:    cfg.RabbitMQ.ExchangeDurable,
		DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
		DeliveryLimit:      cfg.RabbitMQ.DeliveryLimit,
	})
	if err != nil {
		logger.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}

	routes, err := queues.Bind(module.Providers(workers), worker.Wrapper(logger, metrics))
	if err != nil {
		logger.Error("failed to bind queues", "error", err)
		os.Exit(1)
	}

	var fatal atomic.Bool
	runner := worker.NewRunner(worker.RunnerConfig{
		Conn:     conn,
		Routes:   routes,
		Prefetch: cfg.RabbitMQ.Prefetch,
		OnFatal: func(queue string, err error) {
			logger.Error("fatal error, shutting down", "queue", queue, "error", err)
			fatal.Store(true)
			cancel()
		},
		Logger: logger,
	})

	if err := runner.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	runner.Stop()
	_ = server.Shutdown(context.Background())
	logger.Info("citydata-worker stopped")

	if fatal.Load() {
		os.Exit(1)
	}
}
