// Package districts определяет городской район по координатам точки.
//
// Поиск выполняется в PostGIS (ST_Contains по полигонам районов).
// Результаты кэшируются в LRU по точным координатам: объекты каскада
// неподвижны и пересчитываются на каждом обновлении, а ключ по ячейке
// отдавал бы точкам у границы район соседа.
package districts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/repo"
)

const (
	component        = "districts"
	defaultCacheSize = 4096
)

// QueryFunc возвращает slug района, "" — точка вне районов.
type QueryFunc func(ctx context.Context, lng, lat float64) (string, error)

// Config — таблица районов.
type Config struct {
	// Table — Default: common.citydistricts.
	Table string

	// NameColumn — Default: district_name_slug.
	NameColumn string

	// GeomColumn — Default: geom (SRID 4326).
	GeomColumn string

	// CacheSize — Default: 4096 точек.
	CacheSize int
}

// Locator ищет район точки.
type Locator struct {
	query QueryFunc
	cache *lru.Cache[string, string]
}

// NewLocator создаёт Locator поверх PostGIS.
func NewLocator(db repo.DB, cfg Config) (*Locator, error) {
	if cfg.Table == "" {
		cfg.Table = "common.citydistricts"
	}
	if cfg.NameColumn == "" {
		cfg.NameColumn = "district_name_slug"
	}
	if cfg.GeomColumn == "" {
		cfg.GeomColumn = "geom"
	}

	query := buildQuery(cfg)
	return NewLocatorFunc(func(ctx context.Context, lng, lat float64) (string, error) {
		var slug string
		err := db.QueryRow(ctx, query, lng, lat).Scan(&slug)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return slug, err
	}, cfg.CacheSize)
}

// NewLocatorFunc создаёт Locator с произвольным запросом.
func NewLocatorFunc(query QueryFunc, cacheSize int) (*Locator, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create district cache: %w", err)
	}
	return &Locator{query: query, cache: cache}, nil
}

// Locate возвращает slug района точки. "" — точка вне всех районов.
func (l *Locator) Locate(ctx context.Context, lng, lat float64) (string, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", errs.Validation(component, fmt.Sprintf("coordinates out of range: %v, %v", lng, lat), false, nil)
	}

	key := pointKey(lng, lat)
	if slug, ok := l.cache.Get(key); ok {
		return slug, nil
	}

	slug, err := l.query(ctx, lng, lat)
	if err != nil {
		return "", repo.ClassifyError(err, component, errs.CodeFetch, "locate district")
	}
	l.cache.Add(key, slug)
	return slug, nil
}

func pointKey(lng, lat float64) string {
	return strconv.FormatFloat(lng, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64)
}

// Len возвращает число закэшированных точек.
func (l *Locator) Len() int {
	return l.cache.Len()
}

func buildQuery(cfg Config) string {
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE ST_Contains(%s, ST_SetSRID(ST_MakePoint($1, $2), 4326)) LIMIT 1",
		pgx.Identifier{cfg.NameColumn}.Sanitize(),
		pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize(),
		pgx.Identifier{cfg.GeomColumn}.Sanitize(),
	)
}
