package repo

import "errors"

// Общие ошибки моделей.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrNoKey — у модели не задан natural id.
	ErrNoKey = errors.New("model has no key columns")
)
