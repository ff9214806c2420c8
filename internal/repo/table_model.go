package repo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Citydata/internal/errs"
)

// maxParams — лимит bind-параметров PostgreSQL на один запрос.
const maxParams = 65535

// tempSuffix — суффикс staging таблицы для full-replace загрузок.
const tempSuffix = "_tmp"

// currentAlias — имя существующей строки в выражениях TableConfig.Assign.
const currentAlias = "cur"

// TableConfig — описание реляционной модели.
type TableConfig[T any] struct {
	// Name — имя модели. Default: Table.
	Name string

	// Table — таблица, допускается схема: "parkings.occupancy".
	Table string

	// Columns — колонки в порядке значений Values.
	Columns []string

	// Key — колонки natural id (цель ON CONFLICT).
	Key []string

	// Values возвращает значения колонок записи.
	Values func(T) ([]any, error)

	// InsertOnly — конфликтующие записи пропускаются (история измерений).
	InsertOnly bool

	// Assign — выражения SET при конфликте вместо EXCLUDED.<колонка>.
	// Существующая строка доступна как cur.
	Assign map[string]string
}

// TableModel сохраняет записи в таблицу PostgreSQL.
//
// Save выполняет пакетный INSERT ... ON CONFLICT DO UPDATE и по RETURNING
// (xmax = 0) разделяет вставленные и обновлённые строки. Записи с одним
// natural id схлопываются до последней: один INSERT не может обновить
// строку дважды.
type TableModel[T any] struct {
	db  DB
	cfg TableConfig[T]
}

// querier — общее у пула и транзакции.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewTableModel создаёт модель.
func NewTableModel[T any](db DB, cfg TableConfig[T]) *TableModel[T] {
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	return &TableModel[T]{db: db, cfg: cfg}
}

// Name возвращает имя модели.
func (m *TableModel[T]) Name() string {
	return m.cfg.Name
}

// Save сохраняет записи пачками.
// С opts.Replace содержимое таблицы атомарно заменяется записями, в том числе пустым набором.
func (m *TableModel[T]) Save(ctx context.Context, records []T, opts SaveOptions) (*SaveResult, error) {
	if len(records) == 0 && !opts.Replace {
		return &SaveResult{Inserted: []string{}, Updated: []string{}}, nil
	}

	rows, err := m.rows(records)
	if err != nil {
		return nil, err
	}

	if opts.Replace {
		return m.replace(ctx, rows)
	}

	result, err := m.insert(ctx, m.db, m.table(opts.UseTemp), rows)
	if err != nil {
		return nil, ClassifyError(err, m.cfg.Name, errs.CodeSave, "save records")
	}
	return result, nil
}

// rows вычисляет значения колонок и убирает повторы natural id.
func (m *TableModel[T]) rows(records []T) ([][]any, error) {
	keyIdx, err := m.keyIndexes()
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		values, err := m.cfg.Values(rec)
		if err != nil {
			return nil, errs.Validation(m.cfg.Name, "record values", false, err)
		}
		if len(values) != len(m.cfg.Columns) {
			return nil, errs.Validation(m.cfg.Name,
				fmt.Sprintf("got %d values for %d columns", len(values), len(m.cfg.Columns)), false, nil)
		}
		rows = append(rows, values)
	}
	return dedupe(rows, keyIdx), nil
}

func (m *TableModel[T]) keyIndexes() ([]int, error) {
	if len(m.cfg.Key) == 0 {
		return nil, errs.Fatal(m.cfg.Name, errs.CodeSave, "invalid model", ErrNoKey)
	}
	idx := make([]int, len(m.cfg.Key))
	for i, k := range m.cfg.Key {
		idx[i] = slices.Index(m.cfg.Columns, k)
		if idx[i] < 0 {
			return nil, errs.Fatal(m.cfg.Name, errs.CodeSave, "invalid model",
				fmt.Errorf("%w: key column %q is not in columns", ErrNoKey, k))
		}
	}
	return idx, nil
}

func (m *TableModel[T]) insert(ctx context.Context, q querier, table string, rows [][]any) (*SaveResult, error) {
	result := &SaveResult{Inserted: []string{}, Updated: []string{}}
	chunk := chunkSize(len(m.cfg.Columns))

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		args := make([]any, 0, (end-start)*len(m.cfg.Columns))
		for _, row := range rows[start:end] {
			args = append(args, row...)
		}

		query := buildUpsert(table, m.cfg.Columns, m.cfg.Key, end-start, m.cfg.InsertOnly, m.cfg.Assign)
		part, err := exec(ctx, q, query, args)
		if err != nil {
			return nil, err
		}
		result.merge(part)
	}
	return result, nil
}

func exec(ctx context.Context, q querier, query string, args []any) (*SaveResult, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	part := &SaveResult{}
	for rows.Next() {
		var (
			id       string
			inserted bool
		)
		if err := rows.Scan(&id, &inserted); err != nil {
			return nil, fmt.Errorf("scan returning: %w", err)
		}
		if inserted {
			part.Inserted = append(part.Inserted, id)
		} else {
			part.Updated = append(part.Updated, id)
		}
	}
	return part, rows.Err()
}

// replace заменяет содержимое таблицы одной транзакцией: staging копия
// заполняется и переносится в основную таблицу под pg_advisory_xact_lock,
// поэтому параллельные замены одной таблицы выполняются по очереди и
// читатели видят либо старый, либо новый набор.
func (m *TableModel[T]) replace(ctx context.Context, rows [][]any) (*SaveResult, error) {
	target := m.table(false)
	temp := m.table(true)
	cols := quoteColumns(m.cfg.Columns)

	var result *SaveResult
	err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", m.cfg.Table); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+temp); err != nil {
			return fmt.Errorf("truncate temp: %w", err)
		}
		saved, err := m.insert(ctx, tx, temp, rows)
		if err != nil {
			return fmt.Errorf("save temp: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM "+target); err != nil {
			return fmt.Errorf("delete target: %w", err)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", target, cols, cols, temp)
		if _, err := tx.Exec(ctx, insert); err != nil {
			return fmt.Errorf("copy from temp: %w", err)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+temp); err != nil {
			return fmt.Errorf("truncate temp: %w", err)
		}
		result = saved
		return nil
	})
	if err != nil {
		return nil, ClassifyError(err, m.cfg.Name, errs.CodeSave, "replace table")
	}
	return result, nil
}

// Truncate очищает таблицу или её staging копию.
func (m *TableModel[T]) Truncate(ctx context.Context, useTemp bool) error {
	query := "TRUNCATE " + m.table(useTemp)
	if _, err := m.db.Exec(ctx, query); err != nil {
		return ClassifyError(err, m.cfg.Name, errs.CodeTruncate, "truncate")
	}
	return nil
}

func (m *TableModel[T]) table(useTemp bool) string {
	name := m.cfg.Table
	if useTemp {
		name += tempSuffix
	}
	return quoteTable(name)
}

// dedupe оставляет по одной строке на natural id: значения последней
// записи на позиции первого вхождения.
func dedupe(rows [][]any, keyIdx []int) [][]any {
	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		k := rowKey(row, keyIdx)
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

func rowKey(row []any, keyIdx []int) string {
	var b strings.Builder
	for _, i := range keyIdx {
		switch v := row[i].(type) {
		case time.Time:
			b.WriteString(v.UTC().Format(time.RFC3339Nano))
		case *time.Time:
			if v != nil {
				b.WriteString(v.UTC().Format(time.RFC3339Nano))
			}
		default:
			fmt.Fprint(&b, v)
		}
		b.WriteByte(0)
	}
	return b.String()
}

// buildUpsert строит пакетный INSERT на n строк.
//
// RETURNING отдаёт natural id строкой (составной ключ склеивается через ":")
// и признак вставки: у только что вставленной строки xmax = 0.
func buildUpsert(table string, columns, key []string, n int, insertOnly bool, assign map[string]string) string {
	var b strings.Builder

	b.WriteString("INSERT INTO " + table)
	if len(assign) > 0 {
		b.WriteString(" AS " + currentAlias)
	}
	fmt.Fprintf(&b, " (%s) VALUES ", quoteColumns(columns))
	param := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", param)
			param++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", quoteColumns(key))

	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if slices.Contains(key, c) {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		if expr, ok := assign[c]; ok {
			updates = append(updates, q+" = "+expr)
			continue
		}
		updates = append(updates, q+" = EXCLUDED."+q)
	}
	if insertOnly || len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}

	fmt.Fprintf(&b, " RETURNING %s, (xmax = 0)", keyExpr(key))
	return b.String()
}

func keyExpr(key []string) string {
	if len(key) == 1 {
		return pgx.Identifier{key[0]}.Sanitize() + "::text"
	}
	return "concat_ws(':', " + quoteColumns(key) + ")"
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func chunkSize(columns int) int {
	if columns <= 0 {
		return 1
	}
	return max(1, maxParams/columns)
}
