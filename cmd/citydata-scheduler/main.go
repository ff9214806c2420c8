// Citydata Scheduler — публикует плановые запуски очередей с cron расписанием.
//
// Из нескольких реплик публикует только лидер (pg advisory lock).
// Без postgres.url процесс считает себя единственным лидером.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Citydata/internal/config"
	_ "github.com/shaiso/Citydata/internal/datasets"
	"github.com/shaiso/Citydata/internal/module"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/scheduler"
	"github.com/shaiso/Citydata/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CITYDATA_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(telemetry.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting citydata-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	loaded, err := module.Loader{Names: cfg.Modules.Enabled}.Load(cfg)
	if err != nil {
		logger.Error("failed to load modules", "error", err)
		os.Exit(1)
	}
	queues, err := queue.NewRegistry(loaded.QueueDefinitions, cfg.Modules.Blacklist, logger)
	if err != nil {
		logger.Error("invalid queue definitions", "error", err)
		os.Exit(1)
	}

	conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	sched, err := scheduler.New(scheduler.Config{
		Publisher: mq.NewPublisher(conn, logger,
			mq.WithDurableExchange(cfg.RabbitMQ.ExchangeDurable),
			mq.WithPublisherMetrics(metrics),
		),
		Exchange: cfg.RabbitMQ.Exchange,
		Bindings: queues.Scheduled(),
		Timezone: cfg.Scheduler.Timezone,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		os.Exit(1)
	}

	var leader scheduler.Leader
	if cfg.Postgres.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		lock := scheduler.NewAdvisoryLock(pool, cfg.Scheduler.LockKey, logger)
		defer lock.Release(context.Background())
		leader = lock
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Scheduler.Port), Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := sched.Run(ctx, cfg.Scheduler.Tick, leader); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "error", err)
	}

	_ = server.Shutdown(context.Background())
	logger.Info("citydata-scheduler stopped")
}
