package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/telemetry"
)

const component = "scheduler"

// Publisher — публикация JSON сообщений в exchange.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any, headers map[string]any) error
}

// Entry — очередь с расписанием.
type Entry struct {
	// Queue — полное имя очереди.
	Queue      string
	RoutingKey string
	Cron       string
	Next       time.Time

	schedule cron.Schedule
}

// Scheduler публикует cron.<prefix>.<queue> сообщения для очередей с расписанием.
type Scheduler struct {
	publisher Publisher
	exchange  string
	loc       *time.Location
	entries   []*Entry
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// Config — конфигурация Scheduler.
type Config struct {
	Publisher Publisher
	Exchange  string

	// Bindings — привязки с расписанием (queue.Registry.Scheduled).
	Bindings []queue.Binding

	// Timezone — часовой пояс cron-выражений (default: UTC).
	Timezone string

	// Start — момент, от которого считаются первые срабатывания (default: time.Now()).
	Start time.Time

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New создаёт Scheduler. Невалидное cron-выражение — Fatal ошибка.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}

	s := &Scheduler{
		publisher: cfg.Publisher,
		exchange:  cfg.Exchange,
		loc:       LoadLocation(cfg.Timezone),
		logger:    telemetry.WithComponent(logger, component),
		metrics:   cfg.Metrics,
	}

	for _, b := range cfg.Bindings {
		if b.Queue.Options.Cron == "" {
			continue
		}
		schedule, err := ParseCron(b.Queue.Options.Cron)
		if err != nil {
			return nil, errs.Fatal(component, errs.CodeConfig, "queue "+b.FullName, err)
		}
		s.entries = append(s.entries, &Entry{
			Queue:      b.FullName,
			RoutingKey: queue.RoutingKey(queue.OriginCron, b.Prefix, b.Queue.Name),
			Cron:       b.Queue.Options.Cron,
			Next:       NextDue(schedule, s.loc, start),
			schedule:   schedule,
		})
	}
	return s, nil
}

// Entries возвращает копию записей, отсортированных по ближайшему срабатыванию.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Tick публикует сообщение для каждой записи, срок которой наступил.
//
// Ошибка публикации одной записи не блокирует остальные, такая запись
// остаётся due и повторяется на следующем тике. Возвращает число
// опубликованных сообщений и объединённую ошибку.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	var (
		published int
		tickErr   error
	)

	for _, e := range s.entries {
		if now.Before(e.Next) {
			continue
		}

		headers := map[string]any{"scheduled_at": e.Next.Format(time.RFC3339)}
		err := s.publisher.PublishJSON(ctx, s.exchange, e.RoutingKey, struct{}{}, headers)
		s.metrics.ObserveTrigger(e.Queue, err)

		if err != nil {
			s.logger.Error("failed to trigger scheduled refresh", "queue", e.Queue, "error", err)
			tickErr = multierr.Append(tickErr, fmt.Errorf("trigger %s: %w", e.Queue, err))
			continue
		}

		e.Next = NextDue(e.schedule, s.loc, now)
		published++
		s.logger.Info("scheduled refresh triggered",
			"queue", e.Queue,
			"routing_key", e.RoutingKey,
			"next", e.Next,
		)
	}
	return published, tickErr
}

// Leader сообщает, должен ли процесс выполнять тик.
type Leader interface {
	IsLeader(ctx context.Context) bool
}

// Run вызывает Tick с интервалом interval, пока ctx не отменён.
// leader == nil — процесс всегда лидер.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, leader Leader) error {
	if interval <= 0 {
		interval = time.Second
	}

	tk := time.NewTicker(interval)
	defer tk.Stop()

	s.logger.Info("scheduler started", "entries", len(s.entries), "tick", interval, "timezone", s.loc.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-tk.C:
			if leader != nil && !leader.IsLeader(ctx) {
				continue
			}
			if _, err := s.Tick(ctx, t); err != nil {
				s.logger.Warn("scheduler tick completed with errors", "error", err)
			}
		}
	}
}
