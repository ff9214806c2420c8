package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
)

const component = "queue-registry"

// Binding — очередь модуля с вычисленными именами.
type Binding struct {
	// Definition — имя Definition, из которого пришла очередь.
	Definition string
	Prefix     string
	Queue      Queue

	// FullName — полное имя очереди в брокере.
	FullName   string
	BindingKey string
}

// Target — "worker.method" или "custom" для CustomProcess.
func (b Binding) Target() string {
	if b.Queue.CustomProcess != nil {
		return "custom"
	}
	return b.Queue.Worker + "." + b.Queue.Method
}

// Route — привязка с готовым обработчиком.
type Route struct {
	Binding
	Handler mq.Handler
}

// MethodProvider — воркер с именованными методами.
type MethodProvider interface {
	Name() string
	Methods() map[string]mq.Handler
}

// Wrapper оборачивает обработчик привязки (метрики, логи).
type Wrapper func(b Binding, h mq.Handler) mq.Handler

// Registry — плоский список привязок в порядке модулей и их очередей.
type Registry struct {
	bindings []Binding
}

// NewRegistry собирает привязки из определений.
// Очереди из blacklist (полные имена) пропускаются без ошибки.
func NewRegistry(defs []Definition, blacklist []string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	skip := make(map[string]bool, len(blacklist))
	for _, name := range blacklist {
		skip[name] = true
	}

	seen := make(map[string]string)
	r := &Registry{}

	for _, def := range defs {
		if def.QueuePrefix == "" {
			return nil, errs.Fatal(component, errs.CodeBinding,
				fmt.Sprintf("definition %q has no queue prefix", def.Name), nil)
		}

		for _, q := range def.Queues {
			if q.Name == "" {
				return nil, errs.Fatal(component, errs.CodeBinding,
					fmt.Sprintf("definition %q has a queue without name", def.Name), nil)
			}
			if q.CustomProcess == nil && (q.Worker == "" || q.Method == "") {
				return nil, errs.Fatal(component, errs.CodeBinding,
					fmt.Sprintf("queue %q has no worker method", q.Name), nil)
			}

			full := QueueName(def.QueuePrefix, q.Name)
			if skip[full] {
				logger.Debug("queue blacklisted, skipping", "queue", full)
				continue
			}
			if owner, ok := seen[full]; ok {
				return nil, errs.Fatal(component, errs.CodeBinding,
					fmt.Sprintf("queue %q declared by %q and %q", full, owner, def.Name), nil)
			}
			seen[full] = def.Name

			r.bindings = append(r.bindings, Binding{
				Definition: def.Name,
				Prefix:     def.QueuePrefix,
				Queue:      q,
				FullName:   full,
				BindingKey: BindingKey(def.QueuePrefix, q.Name),
			})
		}
	}
	return r, nil
}

// Bindings возвращает копию списка привязок.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Len возвращает число привязок.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Lookup ищет привязку по имени модуля (Definition) и короткому имени очереди.
func (r *Registry) Lookup(definition, queue string) (Binding, bool) {
	for _, b := range r.bindings {
		if b.Definition == definition && b.Queue.Name == queue {
			return b, true
		}
	}
	return Binding{}, false
}

// Scheduled возвращает привязки с расписанием.
func (r *Registry) Scheduled() []Binding {
	var out []Binding
	for _, b := range r.bindings {
		if b.Queue.Options.Cron != "" {
			out = append(out, b)
		}
	}
	return out
}

// Bind резолвит каждую привязку в обработчик.
// Отсутствующий воркер или метод — Fatal ошибка.
func (r *Registry) Bind(workers []MethodProvider, wrap Wrapper) ([]Route, error) {
	byName := make(map[string]MethodProvider, len(workers))
	for _, w := range workers {
		byName[w.Name()] = w
	}

	routes := make([]Route, 0, len(r.bindings))
	for _, b := range r.bindings {
		handler := b.Queue.CustomProcess
		if handler == nil {
			w, ok := byName[b.Queue.Worker]
			if !ok {
				return nil, errs.Fatal(component, errs.CodeBinding,
					fmt.Sprintf("queue %q: worker %q is not registered (have %v)", b.FullName, b.Queue.Worker, names(byName)), nil)
			}
			handler, ok = w.Methods()[b.Queue.Method]
			if !ok || handler == nil {
				return nil, errs.Fatal(component, errs.CodeBinding,
					fmt.Sprintf("queue %q: worker %q has no method %q", b.FullName, b.Queue.Worker, b.Queue.Method), nil)
			}
		}
		if wrap != nil {
			handler = wrap(b, handler)
		}
		routes = append(routes, Route{Binding: b, Handler: handler})
	}
	return routes, nil
}

// DeclareOptions — параметры объявления топологии.
type DeclareOptions struct {
	Exchange           string
	ExchangeDurable    bool
	DeadLetterExchange string
	DeliveryLimit      int
}

// Topology строит описание топологии для привязок.
func (r *Registry) Topology(opts DeclareOptions) mq.Topology {
	topo := mq.Topology{
		Exchange:        opts.Exchange,
		ExchangeDurable: opts.ExchangeDurable,
		Queues:          make([]mq.QueueSpec, 0, len(r.bindings)),
	}

	for _, b := range r.bindings {
		spec := mq.QueueSpec{
			Name:       b.FullName,
			Exchange:   opts.Exchange,
			BindingKey: b.BindingKey,
			Durable:    b.Queue.Options.Durable,
			MessageTTL: b.Queue.Options.MessageTTL,
		}
		if b.Queue.Options.DeadLetter && opts.DeadLetterExchange != "" {
			spec.DeadLetterExchange = opts.DeadLetterExchange
			topo.DeadLetterExchange = opts.DeadLetterExchange
			if b.Queue.Options.Durable {
				spec.Quorum = true
				spec.DeliveryLimit = opts.DeliveryLimit
			}
		}
		topo.Queues = append(topo.Queues, spec)
	}
	return topo
}

// Declare объявляет exchange, очереди и bindings.
func (r *Registry) Declare(ctx context.Context, p mq.ChannelProvider, opts DeclareOptions) error {
	if opts.Exchange == "" {
		return errs.Fatal(component, errs.CodeExchange, "exchange name is empty", nil)
	}
	if err := r.Topology(opts).Declare(ctx, p); err != nil {
		return errs.Transient(component, errs.CodeExchange, "declare topology", err)
	}
	return nil
}

func names(m map[string]MethodProvider) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
