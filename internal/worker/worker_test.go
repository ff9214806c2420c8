package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/datasource"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/telemetry"
)

// --- Fakes ---

type calls struct {
	log []string
}

func (c *calls) add(s string) { c.log = append(c.log, s) }

type recordingTransformation struct {
	calls *calls
}

func (t recordingTransformation) Name() string { return "recording" }

func (t recordingTransformation) TransformOne(_ context.Context, in int) (string, bool, error) {
	return strings.Repeat("x", in), in > 0, nil
}

func (t recordingTransformation) TransformBatch(ctx context.Context, in []int) ([]string, error) {
	t.calls.add("transform")
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok, _ := t.TransformOne(ctx, v)
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeModel struct {
	calls   *calls
	saved   []string
	opts    repo.SaveOptions
	saveErr error
}

func (m *fakeModel) Name() string { return "fake-model" }

func (m *fakeModel) Save(_ context.Context, records []string, opts repo.SaveOptions) (*repo.SaveResult, error) {
	m.calls.add("save")
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saved = records
	m.opts = opts
	return &repo.SaveResult{Inserted: records, Updated: []string{}}, nil
}

func (m *fakeModel) Truncate(_ context.Context, useTemp bool) error {
	if useTemp {
		m.calls.add("truncate temp")
	} else {
		m.calls.add("truncate")
	}
	return nil
}

type sentMessage struct {
	exchange, key string
	payload       any
	headers       map[string]any
}

type fakePublisher struct {
	calls *calls
	sent  []sentMessage
	err   error
}

func (p *fakePublisher) PublishJSON(_ context.Context, exchange, key string, payload any, headers map[string]any) error {
	if p.calls != nil {
		p.calls.add("publish")
	}
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{exchange, key, payload, headers})
	return nil
}

func recordingSource(c *calls, name string, records ...int) datasource.Source[int] {
	return datasource.SourceFunc[int]{
		SourceName: name,
		Fn: func(context.Context) ([]int, error) {
			c.add("getAll " + name)
			return records, nil
		},
	}
}

func testDeps(pub Publisher, metrics *telemetry.Metrics) Deps {
	cfg := &config.Config{}
	cfg.RabbitMQ.Exchange = "citydata"
	return Deps{
		Config:    cfg,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   metrics,
	}
}

// --- Refresh ---

func TestRefresh_CallOrder(t *testing.T) {
	c := &calls{}
	pub := &fakePublisher{calls: c}
	b := NewBase("ParkingsWorker", "citydata.parkings", testDeps(pub, nil))
	model := &fakeModel{calls: c}

	p := Pipeline[int, string]{
		Sources:        []datasource.Source[int]{recordingSource(c, "a", 1, 0, 2), recordingSource(c, "b", 3)},
		Transformation: recordingTransformation{calls: c},
		Model:          model,
	}

	saved, err := Refresh(context.Background(), b, p, func(ctx context.Context, records []string, saved *repo.SaveResult) error {
		return b.SendMessageToExchange(ctx, "saveDataToHistory", records, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"getAll a", "getAll b", "transform", "save", "publish"}
	if !reflect.DeepEqual(c.log, want) {
		t.Errorf("expected calls %v, got %v", want, c.log)
	}

	// Источники склеиваются, нулевая запись отброшена трансформацией
	if !reflect.DeepEqual(model.saved, []string{"x", "xx", "xxx"}) {
		t.Errorf("unexpected saved records: %v", model.saved)
	}
	if saved.Count() != 3 {
		t.Errorf("expected 3 saved, got %d", saved.Count())
	}
	if pub.sent[0].key != "workers.citydata.parkings.saveDataToHistory" {
		t.Errorf("unexpected routing key %q", pub.sent[0].key)
	}
}

func TestRefresh_NoPublishWhenSaveFails(t *testing.T) {
	c := &calls{}
	pub := &fakePublisher{calls: c}
	b := NewBase("ParkingsWorker", "citydata.parkings", testDeps(pub, nil))
	saveErr := errs.Transient("parkings", errs.CodeSave, "save records", errors.New("connection reset"))

	p := Pipeline[int, string]{
		Sources:        []datasource.Source[int]{recordingSource(c, "a", 1)},
		Transformation: recordingTransformation{calls: c},
		Model:          &fakeModel{calls: c, saveErr: saveErr},
	}

	onSavedCalled := false
	_, err := Refresh(context.Background(), b, p, func(ctx context.Context, records []string, _ *repo.SaveResult) error {
		onSavedCalled = true
		return b.SendMessageToExchange(ctx, "saveDataToHistory", records, nil)
	})

	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
	if !errs.IsRetryable(err) {
		t.Error("save error should stay retryable")
	}
	if onSavedCalled || len(pub.sent) != 0 {
		t.Error("nothing must be published after a failed save")
	}
	if c.log[len(c.log)-1] != "save" {
		t.Errorf("save must be the last step, got %v", c.log)
	}
}

func TestRefresh_FullReplace(t *testing.T) {
	c := &calls{}
	b := NewBase("MeteosensorsWorker", "citydata.meteosensors", testDeps(&fakePublisher{}, nil))
	model := &fakeModel{calls: c}

	p := Pipeline[int, string]{
		Sources:        []datasource.Source[int]{recordingSource(c, "a", 1)},
		Transformation: recordingTransformation{calls: c},
		Model:          model,
		Truncate:       true,
		UseTemp:        true,
	}

	if _, err := Refresh(context.Background(), b, p, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"getAll a", "transform", "truncate temp", "save"}
	if !reflect.DeepEqual(c.log, want) {
		t.Errorf("expected calls %v, got %v", want, c.log)
	}
	if !model.opts.UseTemp {
		t.Error("expected save into temp")
	}
}

func TestRefresh_SourceErrorTaggedWithWorker(t *testing.T) {
	b := NewBase("ParkingsWorker", "citydata.parkings", testDeps(&fakePublisher{}, nil))
	failing := datasource.SourceFunc[int]{
		SourceName: "api",
		Fn: func(context.Context) ([]int, error) {
			return nil, errors.New("dial tcp: i/o timeout")
		},
	}

	_, err := Refresh(context.Background(), b, Pipeline[int, string]{
		Sources:        []datasource.Source[int]{failing},
		Transformation: recordingTransformation{calls: &calls{}},
		Model:          &fakeModel{calls: &calls{}},
	}, nil)

	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if e.Component != "ParkingsWorker" || !e.Retryable || e.Code != errs.CodeFetch {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestRefresh_InvalidPipeline(t *testing.T) {
	b := NewBase("W", "p", testDeps(&fakePublisher{}, nil))

	_, err := Refresh(context.Background(), b, Pipeline[int, string]{Model: &fakeModel{calls: &calls{}}}, nil)
	if !errors.Is(err, ErrNoSources) || !errs.IsKind(err, errs.KindFatal) {
		t.Errorf("expected fatal ErrNoSources, got %v", err)
	}

	_, err = Refresh(context.Background(), b, Pipeline[int, string]{
		Sources: []datasource.Source[int]{datasource.Static[int]("s")},
		Model:   &fakeModel{calls: &calls{}},
	}, nil)
	if !errors.Is(err, ErrNoTransformation) || !errs.IsKind(err, errs.KindFatal) {
		t.Errorf("expected fatal ErrNoTransformation, got %v", err)
	}
	if e, ok := errs.As(err); !ok || e.Code != errs.CodeTransform {
		t.Errorf("expected transform code, got %v", err)
	}

	_, err = Refresh(context.Background(), b, Pipeline[int, string]{
		Sources:        []datasource.Source[int]{datasource.Static[int]("s")},
		Transformation: recordingTransformation{calls: &calls{}},
	}, nil)
	if !errors.Is(err, ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}

func TestRefresh_Replace(t *testing.T) {
	c := &calls{}
	b := NewBase("MeteosensorsWorker", "citydata.meteosensors", testDeps(&fakePublisher{}, nil))
	model := &fakeModel{calls: c}

	p := Pipeline[int, string]{
		Sources:        []datasource.Source[int]{recordingSource(c, "a", 1)},
		Transformation: recordingTransformation{calls: c},
		Model:          model,
		Truncate:       true,
		Replace:        true,
	}

	if _, err := Refresh(context.Background(), b, p, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"getAll a", "transform", "save"}
	if !reflect.DeepEqual(c.log, want) {
		t.Errorf("expected calls %v, got %v", want, c.log)
	}
	if !model.opts.Replace {
		t.Error("expected replacing save")
	}
}

// --- SendMessageToExchange ---

func TestSendMessageToExchange(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBase("ParkingsWorker", "citydata.parkings", testDeps(pub, nil))

	err := b.SendMessageToExchange(context.Background(), "updateDistrict", map[string]string{"id": "1"}, map[string]any{"date": "2024-03-05"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := pub.sent[0]
	if got.exchange != "citydata" || got.key != "workers.citydata.parkings.updateDistrict" {
		t.Errorf("unexpected destination %s/%s", got.exchange, got.key)
	}
	if got.headers["date"] != "2024-03-05" {
		t.Errorf("headers not passed: %v", got.headers)
	}
}

func TestSendMessageToExchange_Errors(t *testing.T) {
	brokerDown := errs.Transient("publisher", errs.CodePublish, "publish message", errors.New("connection refused"))
	b := NewBase("ParkingsWorker", "citydata.parkings", testDeps(&fakePublisher{err: brokerDown}, nil))

	err := b.SendMessageToExchange(context.Background(), "updateDistrict", nil, nil)
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if e.Component != "ParkingsWorker" || !e.Retryable {
		t.Errorf("publish failure must be retryable and tagged with worker name: %+v", e)
	}

	noExchange := NewBase("ParkingsWorker", "citydata.parkings", Deps{Publisher: &fakePublisher{}})
	err = noExchange.SendMessageToExchange(context.Background(), "updateDistrict", nil, nil)
	if !errs.IsKind(err, errs.KindFatal) {
		t.Errorf("missing exchange must be fatal, got %v", err)
	}
}

// --- DecodeJSON ---

func TestDecodeJSON(t *testing.T) {
	ids, err := DecodeJSON[[]string](&mq.Delivery{Body: []byte(`["1","2"]`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"1", "2"}) {
		t.Errorf("unexpected ids: %v", ids)
	}

	_, err = DecodeJSON[[]string](&mq.Delivery{Body: []byte(`{broken`), RoutingKey: "workers.x.y"})
	if err == nil || errs.IsRetryable(err) {
		t.Errorf("broken message must not be retried, got %v", err)
	}
}

// --- Instrument ---

func TestInstrument(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	results := []error{
		nil,
		errs.Transient("w", errs.CodeFetch, "timeout", nil),
		errs.Validation("w", "bad", false, nil),
	}
	for _, res := range results {
		h := Instrument(logger, metrics, "ParkingsWorker", "refreshDataInDB", func(ctx context.Context, _ *mq.Delivery) error {
			if telemetry.FromContext(ctx) == slog.Default() {
				t.Error("handler context must carry worker logger")
			}
			return res
		})
		if err := h(context.Background(), &mq.Delivery{}); !errors.Is(err, res) {
			t.Errorf("error must pass through, got %v", err)
		}
	}

	for _, status := range []string{telemetry.StatusOK, telemetry.StatusRetryable, telemetry.StatusFailed} {
		got := testutil.ToFloat64(metrics.Invocations.WithLabelValues("ParkingsWorker", "refreshDataInDB", status))
		if got != 1 {
			t.Errorf("status %s: expected 1 invocation, got %v", status, got)
		}
	}
}
