package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Citydata/internal/errs"
)

// CacheConfig — описание кэш-модели.
type CacheConfig[T any] struct {
	// Name — имя модели. Default: Key.
	Name string

	// Key — ключ Redis hash, например "parkings:current".
	Key string

	// ID возвращает поле hash для записи.
	ID func(T) (string, error)

	// TTL — время жизни hash после последней записи. 0 — без TTL.
	TTL time.Duration
}

// CacheModel хранит последнее состояние записей в Redis hash: поле — id, значение — JSON.
type CacheModel[T any] struct {
	client redis.UniversalClient
	cfg    CacheConfig[T]
}

// NewCacheModel создаёт модель.
func NewCacheModel[T any](client redis.UniversalClient, cfg CacheConfig[T]) *CacheModel[T] {
	if cfg.Name == "" {
		cfg.Name = cfg.Key
	}
	return &CacheModel[T]{client: client, cfg: cfg}
}

// Name возвращает имя модели.
func (m *CacheModel[T]) Name() string {
	return m.cfg.Name
}

// Save записывает записи одним pipeline. HSET вернувший 1 — новое поле.
// С opts.Replace hash пересоздаётся в MULTI/EXEC.
func (m *CacheModel[T]) Save(ctx context.Context, records []T, opts SaveOptions) (*SaveResult, error) {
	result := &SaveResult{Inserted: []string{}, Updated: []string{}}
	if len(records) == 0 && !opts.Replace {
		return result, nil
	}

	key := m.key(opts.UseTemp)
	ids := make([]string, len(records))
	cmds := make([]*redis.IntCmd, len(records))

	pipelined := m.client.Pipelined
	if opts.Replace {
		pipelined = m.client.TxPipelined
	}

	_, err := pipelined(ctx, func(pipe redis.Pipeliner) error {
		if opts.Replace {
			pipe.Del(ctx, key)
		}
		for i, rec := range records {
			id, err := m.cfg.ID(rec)
			if err != nil {
				return errs.Validation(m.cfg.Name, "record id", false, err)
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return errs.Validation(m.cfg.Name, "marshal record "+id, false, err)
			}
			ids[i] = id
			cmds[i] = pipe.HSet(ctx, key, id, data)
		}
		if m.cfg.TTL > 0 {
			pipe.Expire(ctx, key, m.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		if _, ok := errs.As(err); ok {
			return nil, err
		}
		return nil, errs.Transient(m.cfg.Name, errs.CodeSave, "save to cache", err)
	}

	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			result.Inserted = append(result.Inserted, ids[i])
		} else {
			result.Updated = append(result.Updated, ids[i])
		}
	}
	return result, nil
}

// Truncate удаляет hash.
func (m *CacheModel[T]) Truncate(ctx context.Context, useTemp bool) error {
	if err := m.client.Del(ctx, m.key(useTemp)).Err(); err != nil {
		return errs.Transient(m.cfg.Name, errs.CodeTruncate, "delete cache key", err)
	}
	return nil
}

// Get возвращает запись по id.
func (m *CacheModel[T]) Get(ctx context.Context, id string) (T, error) {
	var rec T

	data, err := m.client.HGet(ctx, m.cfg.Key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rec, ErrNotFound
		}
		return rec, errs.Transient(m.cfg.Name, errs.CodeFetch, "read cache", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errs.New(errs.KindValidation, m.cfg.Name, errs.CodeDecode,
			fmt.Sprintf("unmarshal cached %s", id), false, err)
	}
	return rec, nil
}

func (m *CacheModel[T]) key(useTemp bool) string {
	if useTemp {
		return m.cfg.Key + tempSuffix
	}
	return m.cfg.Key
}
