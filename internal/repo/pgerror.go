package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/Citydata/internal/errs"
)

// permanentClasses — классы SQLSTATE, которые повтор не исправит:
// cardinality violation, data exception, integrity constraint violation,
// syntax error or access rule violation.
var permanentClasses = map[string]bool{
	"21": true,
	"22": true,
	"23": true,
	"42": true,
}

// ClassifyError классифицирует ошибку PostgreSQL по классу SQLSTATE.
//
// Ошибки permanentClasses становятся non-retryable KindValidation: сообщение
// уходит в dead letter, остальные очереди процесса продолжают работать.
// Обрыв соединения, сериализация, deadlock, остановка сервера (08, 40, 57)
// и сетевые сбои без SQLSTATE остаются Transient.
func ClassifyError(err error, component string, code int, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && permanentClasses[pgErr.Code[:2]] {
		return errs.New(errs.KindValidation, component, code,
			message+" (sqlstate "+pgErr.Code+")", false, err)
	}
	return errs.Transient(component, code, message, err)
}
