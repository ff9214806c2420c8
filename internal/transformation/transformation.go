// Package transformation задаёт контракт трансформации датасетов.
//
// Трансформация — stateless маппинг сырых записей источника в канонический
// вид (GeoJSON Feature, плоская запись, набор коллекций). Создаётся один раз
// на воркер и дальше не меняется.
//
// Две явные операции:
//   - TransformOne   — одна запись → одна каноническая запись или "нет значения" (ok=false)
//   - TransformBatch — TransformOne по каждому элементу, порядок входа сохраняется,
//     записи без значения отбрасываются (len(out) <= len(in))
//
// История — отдельная возможность (HistoryTransformation). Вызывающий проверяет
// её через SupportsHistory; TransformHistory у трансформации без истории
// возвращает ошибку вида NotImplemented.
package transformation

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Citydata/internal/errs"
)

// DefaultConcurrency — сколько элементов batch обрабатывается одновременно.
const DefaultConcurrency = 32

// Transformation — контракт трансформации сырых записей In в канонические Out.
type Transformation[In, Out any] interface {
	// Name возвращает имя трансформации (используется в ошибках и логах).
	Name() string

	// TransformOne трансформирует одну запись.
	// ok=false — запись отбрасывается, это не ошибка.
	TransformOne(ctx context.Context, in In) (out Out, ok bool, err error)

	// TransformBatch трансформирует последовательность записей.
	TransformBatch(ctx context.Context, in []In) ([]Out, error)
}

// HistoryTransformation — возможность строить history-записи из канонических.
//
// Одна каноническая запись может дать несколько history-записей (fan-out).
type HistoryTransformation[Out, H any] interface {
	TransformHistory(ctx context.Context, records []Out) ([]H, error)
}

// ElementFunc — маппинг одного элемента.
type ElementFunc[In, Out any] func(ctx context.Context, in In) (Out, bool, error)

// FanOutFunc — маппинг канонической записи в history-записи.
type FanOutFunc[Out, H any] func(ctx context.Context, record Out) ([]H, error)

// Option настраивает Mapper.
type Option func(*options)

type options struct {
	concurrency int
	dropInvalid bool
	logger      *slog.Logger
}

// WithConcurrency ограничивает число одновременно трансформируемых элементов.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDropInvalid разрешает отбрасывать записи с retryable ошибкой валидации
// вместо падения всего batch. Включается только для датасетов, где
// потеря одной записи допустима.
func WithDropInvalid() Option {
	return func(o *options) {
		o.dropInvalid = true
	}
}

// WithLogger задаёт логгер для отброшенных записей.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Mapper — Transformation, построенная из функции элемента.
type Mapper[In, Out any] struct {
	name    string
	element ElementFunc[In, Out]
	opts    options
}

// New создаёт Mapper.
func New[In, Out any](name string, element ElementFunc[In, Out], opts ...Option) *Mapper[In, Out] {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Mapper[In, Out]{
		name:    name,
		element: element,
		opts:    o,
	}
}

// Name возвращает имя трансформации.
func (m *Mapper[In, Out]) Name() string {
	return m.name
}

// TransformOne трансформирует одну запись.
func (m *Mapper[In, Out]) TransformOne(ctx context.Context, in In) (Out, bool, error) {
	out, ok, err := m.element(ctx, in)
	if err != nil {
		var zero Out
		if m.opts.dropInvalid && errs.IsKind(err, errs.KindValidation) && errs.IsRetryable(err) {
			m.opts.logger.Warn("record dropped", "transformation", m.name, "error", err)
			return zero, false, nil
		}
		return zero, false, wrapElementError(m.name, err)
	}
	return out, ok, nil
}

// TransformBatch трансформирует записи конкурентно.
func (m *Mapper[In, Out]) TransformBatch(ctx context.Context, in []In) ([]Out, error) {
	return Batch(ctx, in, m.opts.concurrency, m.TransformOne)
}

// Batch применяет fn к каждому элементу конкурентно и фильтрует "нет значения".
//
// Порядок обработки элементов не определён, порядок результата совпадает
// с порядком входа. Первая ошибка отменяет контекст остальных и возвращается.
func Batch[In, Out any](ctx context.Context, in []In, concurrency int, fn ElementFunc[In, Out]) ([]Out, error) {
	if len(in) == 0 {
		return []Out{}, nil
	}

	results := make([]Out, len(in))
	keep := make([]bool, len(in))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i := range in {
		i := i
		g.Go(func() error {
			out, ok, err := fn(gctx, in[i])
			if err != nil {
				return err
			}
			results[i] = out
			keep[i] = ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := make([]Out, 0, len(in))
	for i := range results {
		if keep[i] {
			filtered = append(filtered, results[i])
		}
	}
	return filtered, nil
}

// HistoryMapper — Mapper с возможностью history.
type HistoryMapper[In, Out, H any] struct {
	*Mapper[In, Out]
	history FanOutFunc[Out, H]
}

// NewWithHistory создаёт трансформацию с history.
func NewWithHistory[In, Out, H any](name string, element ElementFunc[In, Out], history FanOutFunc[Out, H], opts ...Option) *HistoryMapper[In, Out, H] {
	return &HistoryMapper[In, Out, H]{
		Mapper:  New(name, element, opts...),
		history: history,
	}
}

// TransformHistory строит history-записи; fan-out результаты склеиваются в порядке входа.
func (h *HistoryMapper[In, Out, H]) TransformHistory(ctx context.Context, records []Out) ([]H, error) {
	groups, err := Batch(ctx, records, h.opts.concurrency, func(ctx context.Context, rec Out) ([]H, bool, error) {
		items, err := h.history(ctx, rec)
		if err != nil {
			return nil, false, wrapElementError(h.name, err)
		}
		return items, len(items) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]H, 0, len(groups))
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}

// SupportsHistory проверяет, умеет ли t строить history-записи типа H из Out.
func SupportsHistory[Out, H any](t any) bool {
	_, ok := t.(HistoryTransformation[Out, H])
	return ok
}

// TransformHistory вызывает history-путь трансформации.
// Если у t нет этой возможности — ошибка NotImplemented (ошибка связывания, не данных).
func TransformHistory[Out, H any](ctx context.Context, t any, records []Out) ([]H, error) {
	ht, ok := t.(HistoryTransformation[Out, H])
	if !ok {
		return nil, errs.NotImplemented(nameOf(t), "history transformation is not implemented")
	}
	return ht.TransformHistory(ctx, records)
}

type named interface {
	Name() string
}

func nameOf(t any) string {
	if n, ok := t.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}

func wrapElementError(name string, err error) error {
	if _, ok := errs.As(err); ok {
		return err
	}
	return errs.New(errs.KindValidation, name, errs.CodeTransform, "transform record", false, err)
}
