package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Статусы обработки сообщения.
const (
	StatusOK        = "ok"
	StatusRetryable = "retryable"
	StatusFailed    = "failed"
)

// Metrics — Prometheus метрики процесса.
//
// Создаётся один раз на процесс. В тестах используйте prometheus.NewRegistry(),
// чтобы не конфликтовать с глобальным реестром.
type Metrics struct {
	Invocations       *prometheus.CounterVec
	Duration          *prometheus.HistogramVec
	RecordsSaved      *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	SchedulerTriggers *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// reg == nil — регистрируются в prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citydata_worker_invocations_total",
			Help: "Worker method invocations by outcome",
		}, []string{"worker", "method", "status"}),

		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citydata_worker_duration_seconds",
			Help:    "Worker method duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"worker", "method"}),

		RecordsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citydata_records_saved_total",
			Help: "Records persisted by model and outcome (inserted/updated)",
		}, []string{"model", "outcome"}),

		MessagesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citydata_messages_published_total",
			Help: "Messages published to the exchange",
		}, []string{"exchange", "status"}),

		SchedulerTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citydata_scheduler_triggers_total",
			Help: "Scheduled refresh messages emitted",
		}, []string{"queue", "status"}),
	}
}

// ObserveInvocation записывает результат вызова метода воркера.
// Безопасен для nil receiver.
func (m *Metrics) ObserveInvocation(worker, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(worker, method, status).Inc()
	m.Duration.WithLabelValues(worker, method).Observe(d.Seconds())
}

// ObserveSaved записывает количество сохранённых записей.
func (m *Metrics) ObserveSaved(model string, inserted, updated int) {
	if m == nil {
		return
	}
	m.RecordsSaved.WithLabelValues(model, "inserted").Add(float64(inserted))
	m.RecordsSaved.WithLabelValues(model, "updated").Add(float64(updated))
}

// ObservePublish записывает результат публикации.
func (m *Metrics) ObservePublish(exchange string, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.MessagesPublished.WithLabelValues(exchange, status).Inc()
}

// ObserveTrigger записывает результат срабатывания расписания.
func (m *Metrics) ObserveTrigger(queue string, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.SchedulerTriggers.WithLabelValues(queue, status).Inc()
}
