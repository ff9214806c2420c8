package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoSources — у pipeline нет источников.
	ErrNoSources = errors.New("pipeline has no sources")

	// ErrNoTransformation — у pipeline нет трансформации.
	ErrNoTransformation = errors.New("pipeline has no transformation")

	// ErrNoModel — у pipeline нет модели.
	ErrNoModel = errors.New("pipeline has no model")

	// ErrRunnerStarted — Runner уже запущен.
	ErrRunnerStarted = errors.New("runner already started")
)
