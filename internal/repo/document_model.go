package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Citydata/internal/errs"
)

// DocumentConfig — описание документной модели.
type DocumentConfig[T any] struct {
	// Name — имя модели. Default: Table.
	Name string

	// Table — таблица вида (id text primary key, data jsonb, updated_at timestamptz).
	Table string

	// ID возвращает natural id документа.
	ID func(T) (string, error)

	// Now — источник времени (для тестов). Default: time.Now.
	Now func() time.Time

	// Preserve — пути внутри документа через точку ("properties.district"),
	// значения которых переживают upsert, если новый документ их не задаёт.
	// Так производные поля, вычисленные отдельным методом, не стираются
	// очередным обновлением источника.
	Preserve []string
}

// DocumentModel хранит записи целиком как JSONB документы.
// Используется для GeoJSON features текущего состояния.
type DocumentModel[T any] struct {
	table *TableModel[T]
	db    DB
	name  string
	tbl   string
}

// NewDocumentModel создаёт модель.
func NewDocumentModel[T any](db DB, cfg DocumentConfig[T]) *DocumentModel[T] {
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	table := NewTableModel(db, TableConfig[T]{
		Name:    cfg.Name,
		Table:   cfg.Table,
		Columns: []string{"id", "data", "updated_at"},
		Key:     []string{"id"},
		Values: func(rec T) ([]any, error) {
			id, err := cfg.ID(rec)
			if err != nil {
				return nil, err
			}
			if id == "" {
				return nil, fmt.Errorf("empty document id")
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("marshal document %s: %w", id, err)
			}
			return []any{id, data, cfg.Now().UTC()}, nil
		},
		Assign: preserveAssign(cfg.Preserve),
	})

	return &DocumentModel[T]{table: table, db: db, name: cfg.Name, tbl: cfg.Table}
}

// Name возвращает имя модели.
func (m *DocumentModel[T]) Name() string {
	return m.name
}

// Save сохраняет документы (upsert по id).
func (m *DocumentModel[T]) Save(ctx context.Context, records []T, opts SaveOptions) (*SaveResult, error) {
	return m.table.Save(ctx, records, opts)
}

// Truncate очищает таблицу документов.
func (m *DocumentModel[T]) Truncate(ctx context.Context, useTemp bool) error {
	return m.table.Truncate(ctx, useTemp)
}

// FindByID возвращает документ по id.
func (m *DocumentModel[T]) FindByID(ctx context.Context, id string) (T, error) {
	var (
		doc  T
		data []byte
	)

	query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1", quoteTable(m.tbl))
	if err := m.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return doc, ErrNotFound
		}
		return doc, ClassifyError(err, m.name, errs.CodeFetch, "find document")
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, errs.New(errs.KindValidation, m.name, errs.CodeDecode, "unmarshal document", false, err)
	}
	return doc, nil
}

// preserveAssign строит SET для data: новый документ, в который перенесены
// значения paths из текущей строки, если в новом документе их нет.
// JSON null в новом документе считается заданным значением.
func preserveAssign(paths []string) map[string]string {
	if len(paths) == 0 {
		return nil
	}

	expr := "EXCLUDED.data"
	for _, p := range paths {
		path := jsonPath(p)
		current := currentAlias + ".data #> " + path
		expr = fmt.Sprintf("CASE WHEN EXCLUDED.data #> %s IS NULL AND %s IS NOT NULL THEN jsonb_set(%s, %s, %s) ELSE %s END",
			path, current, expr, path, current, expr)
	}
	return map[string]string{"data": expr}
}

// jsonPath переводит "properties.district" в литерал '{properties,district}'.
func jsonPath(p string) string {
	parts := strings.Split(p, ".")
	return "'{" + strings.ReplaceAll(strings.Join(parts, ","), "'", "''") + "}'"
}
