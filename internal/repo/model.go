// Package repo содержит модели хранения канонических записей.
//
// Модели:
//   - TableModel    — реляционная таблица PostgreSQL, insert-or-update по natural id
//   - DocumentModel — документы JSONB в PostgreSQL (GeoJSON features)
//   - CacheModel    — Redis hash, быстрый доступ к последнему состоянию
//
// Все модели реализуют Model. Конкурентные записи по одному ключу
// разрешаются upsert-семантикой хранилища. Full-replace (SaveOptions.Replace)
// выполняется одной транзакцией, параллельные замены одной таблицы
// сериализуются advisory lock.
package repo

import "context"

// Model — возможность сохранения, которую потребляют воркеры.
type Model[T any] interface {
	// Name возвращает имя модели (используется в ошибках и метриках).
	Name() string

	// Save сохраняет записи.
	Save(ctx context.Context, records []T, opts SaveOptions) (*SaveResult, error)

	// Truncate очищает хранилище. useTemp=true — очищается staging копия.
	Truncate(ctx context.Context, useTemp bool) error
}

// SaveOptions — параметры сохранения.
type SaveOptions struct {
	// UseTemp — писать в staging копию.
	UseTemp bool

	// Replace — атомарно заменить всё содержимое модели записями.
	Replace bool
}

// SaveResult — итог сохранения: natural id вставленных и обновлённых записей.
// Используется для каскадных обновлений (например, пересчёт района по id).
type SaveResult struct {
	Inserted []string `json:"inserted"`
	Updated  []string `json:"updated"`
}

// Count возвращает общее число сохранённых записей.
func (r *SaveResult) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Inserted) + len(r.Updated)
}

// IDs возвращает id вставленных и обновлённых записей.
func (r *SaveResult) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, r.Count())
	ids = append(ids, r.Inserted...)
	ids = append(ids, r.Updated...)
	return ids
}

func (r *SaveResult) merge(other *SaveResult) {
	r.Inserted = append(r.Inserted, other.Inserted...)
	r.Updated = append(r.Updated, other.Updated...)
}
