// Package datasource описывает источники сырых данных.
//
// Ядру нужна только одна возможность источника — FetchAll. Ошибки
// типизированы: сетевой сбой и 5xx/429 — retryable, битая конфигурация
// и прочие 4xx — нет. Собственного retry у источников нет, повтор
// делает брокер через redelivery.
package datasource

import "context"

// Source — источник сырых записей.
type Source[T any] interface {
	// Name возвращает имя источника (используется в ошибках).
	Name() string

	// FetchAll загружает все записи.
	FetchAll(ctx context.Context) ([]T, error)
}

// SourceFunc — адаптер функции к Source.
type SourceFunc[T any] struct {
	SourceName string
	Fn         func(ctx context.Context) ([]T, error)
}

// Name возвращает имя источника.
func (s SourceFunc[T]) Name() string {
	return s.SourceName
}

// FetchAll вызывает функцию.
func (s SourceFunc[T]) FetchAll(ctx context.Context) ([]T, error) {
	return s.Fn(ctx)
}

// Static — источник с заранее известными записями.
func Static[T any](name string, records ...T) Source[T] {
	return SourceFunc[T]{
		SourceName: name,
		Fn: func(context.Context) ([]T, error) {
			out := make([]T, len(records))
			copy(out, records)
			return out, nil
		},
	}
}
