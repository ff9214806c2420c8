// Package errs описывает типизированную ошибку интеграции.
//
// Каждая ошибка несёт имя компонента (worker, model, data source),
// числовой код, человекочитаемое сообщение, флаг retryable и
// опциональную причину. По этим полям агрегатор логов отличает
// "какой датасет, какой шаг, почему" без разбора текста.
//
// Виды ошибок:
//   - KindFatal          — конфигурация (нет модуля, нет exchange), никогда не ретраится
//   - KindTransient      — сеть, брокер, rate limit; повтор через redelivery брокера
//   - KindValidation     — битое обязательное поле записи
//   - KindNotImplemented — вызов history-пути у трансформации без history
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind — вид ошибки интеграции.
type Kind string

const (
	KindFatal          Kind = "fatal"
	KindTransient      Kind = "transient"
	KindValidation     Kind = "validation"
	KindNotImplemented Kind = "not_implemented"
)

// Коды ошибок.
const (
	CodeModuleLoad     = 1001
	CodeConfig         = 1002
	CodeExchange       = 1003
	CodeBinding        = 1004
	CodePublish        = 1010
	CodeFetch          = 1020
	CodeTransform      = 1030
	CodeValidation     = 1031
	CodeNotImplemented = 1032
	CodeSave           = 1040
	CodeTruncate       = 1041
	CodeDecode         = 1050
)

// Error — ошибка интеграции.
type Error struct {
	// Component — имя компонента, где возникла ошибка.
	Component string

	// Code — числовой код (см. Code*).
	Code int

	// Message — описание ошибки.
	Message string

	// Retryable — можно ли повторить обработку (redelivery брокера).
	Retryable bool

	// Kind — вид ошибки.
	Kind Kind

	// Cause — исходная ошибка.
	Cause error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	fmt.Fprintf(&b, " (code %d", e.Code)
	if e.Retryable {
		b.WriteString(", retryable")
	}
	b.WriteString(")")
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New создаёт ошибку произвольного вида.
func New(kind Kind, component string, code int, message string, retryable bool, cause error) *Error {
	return &Error{
		Component: component,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Kind:      kind,
		Cause:     cause,
	}
}

// Fatal — ошибка конфигурации, не ретраится.
func Fatal(component string, code int, message string, cause error) *Error {
	return New(KindFatal, component, code, message, false, cause)
}

// Transient — временная ошибка ввода-вывода, ретраится брокером.
func Transient(component string, code int, message string, cause error) *Error {
	return New(KindTransient, component, code, message, true, cause)
}

// Validation — ошибка валидации записи.
// retryable=true допустим только если датасет разрешает отбросить одну запись.
func Validation(component string, message string, retryable bool, cause error) *Error {
	return New(KindValidation, component, CodeValidation, message, retryable, cause)
}

// NotImplemented — вызов неподдерживаемой операции. Всегда non-retryable.
func NotImplemented(component string, message string) *Error {
	return New(KindNotImplemented, component, CodeNotImplemented, message, false, nil)
}

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable проверяет флаг retryable.
// Ошибки вне таксономии считаются retryable: неизвестный сбой
// лучше отдать на redelivery, чем потерять сообщение.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return true
}

// IsKind проверяет вид ошибки.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Wrap перетегирует ошибку компонентом вызывающего.
// Если err уже *Error, сохраняются вид, код и retryable, меняется только Component,
// а исходная ошибка остаётся в Cause.
func Wrap(err error, component string, code int, message string) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return New(e.Kind, component, e.Code, message, e.Retryable, err)
	}
	return Transient(component, code, message, err)
}
