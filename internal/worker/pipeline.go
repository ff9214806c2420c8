package worker

import (
	"context"
	"encoding/json"

	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/transformation"
)

// Pipeline — источники, трансформация и модель одного метода обновления.
type Pipeline[In, Out any] struct {
	// Sources — записи всех источников склеиваются в порядке списка.
	Sources []datasource.Source[In]

	Transformation transformation.Transformation[In, Out]

	Model repo.Model[Out]

	// Truncate — full-replace: очистить модель перед сохранением.
	Truncate bool

	// UseTemp — писать в staging копию модели.
	UseTemp bool

	// Replace — атомарно заменить содержимое модели одним Save.
	// Отдельный Truncate при этом не выполняется.
	Replace bool
}

// OnSaved вызывается после успешного сохранения.
type OnSaved[Out any] func(ctx context.Context, records []Out, saved *repo.SaveResult) error

// Refresh выполняет fetch → transform → save → onSaved.
// onSaved не вызывается, если сохранение не удалось.
func Refresh[In, Out any](ctx context.Context, b *Base, p Pipeline[In, Out], onSaved OnSaved[Out]) (*repo.SaveResult, error) {
	if len(p.Sources) == 0 {
		return nil, errs.Fatal(b.name, errs.CodeFetch, "invalid pipeline", ErrNoSources)
	}
	if p.Transformation == nil {
		return nil, errs.Fatal(b.name, errs.CodeTransform, "invalid pipeline", ErrNoTransformation)
	}
	if p.Model == nil {
		return nil, errs.Fatal(b.name, errs.CodeSave, "invalid pipeline", ErrNoModel)
	}

	var raw []In
	for _, src := range p.Sources {
		records, err := src.FetchAll(ctx)
		if err != nil {
			return nil, tag(err, b.name, errs.CodeFetch, "fetch "+src.Name())
		}
		raw = append(raw, records...)
	}

	records, err := p.Transformation.TransformBatch(ctx, raw)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("records transformed",
		"transformation", p.Transformation.Name(),
		"fetched", len(raw),
		"transformed", len(records),
	)

	if p.Truncate && !p.Replace {
		if err := p.Model.Truncate(ctx, p.UseTemp); err != nil {
			return nil, tag(err, b.name, errs.CodeTruncate, "truncate "+p.Model.Name())
		}
	}

	saved, err := Persist(ctx, b, p.Model, records, repo.SaveOptions{UseTemp: p.UseTemp, Replace: p.Replace})
	if err != nil {
		return nil, err
	}

	if onSaved != nil {
		if err := onSaved(ctx, records, saved); err != nil {
			return saved, err
		}
	}
	return saved, nil
}

// Persist сохраняет записи через модель и пишет метрики.
func Persist[T any](ctx context.Context, b *Base, model repo.Model[T], records []T, opts repo.SaveOptions) (*repo.SaveResult, error) {
	saved, err := model.Save(ctx, records, opts)
	if err != nil {
		return nil, tag(err, b.name, errs.CodeSave, "save "+model.Name())
	}

	b.metrics.ObserveSaved(model.Name(), len(saved.Inserted), len(saved.Updated))
	b.logger.Info("records saved",
		"model", model.Name(),
		"inserted", len(saved.Inserted),
		"updated", len(saved.Updated),
	)
	return saved, nil
}

// DecodeJSON декодирует тело сообщения. Битое сообщение не повторяется.
func DecodeJSON[T any](d *mq.Delivery) (T, error) {
	var v T
	if err := json.Unmarshal(d.Body, &v); err != nil {
		return v, errs.New(errs.KindValidation, "delivery", errs.CodeDecode,
			"decode message from "+d.RoutingKey, false, err)
	}
	return v, nil
}

// tag сохраняет типизированную ошибку как есть, прочие помечает компонентом.
func tag(err error, component string, code int, message string) error {
	if _, ok := errs.As(err); ok {
		return err
	}
	return errs.Wrap(err, component, code, message)
}
