package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Citydata/internal/errs"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "citydata", cfg.RabbitMQ.Exchange)
	assert.False(t, cfg.RabbitMQ.ExchangeDurable)
	assert.Equal(t, []string{"parkings", "meteosensors"}, cfg.Modules.Enabled)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 8082, cfg.HTTP.Port)
	assert.Equal(t, int64(424242), cfg.Scheduler.LockKey)
	assert.Equal(t, 8081, cfg.Scheduler.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
rabbitmq:
  exchange: golem
  prefetch: 2
modules:
  enabled: [parkings]
  blacklist: [golem.parkings.updateDistrict]
datasets:
  parkings:
    url: http://example.com/parkings
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CITYDATA_RABBITMQ_PREFETCH", "7")
	t.Setenv("CITYDATA_MODULES_ENABLED", "parkings, meteosensors")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "golem", cfg.RabbitMQ.Exchange)
	assert.Equal(t, 7, cfg.RabbitMQ.Prefetch)
	assert.Equal(t, []string{"parkings", "meteosensors"}, cfg.Modules.Enabled)
	assert.Equal(t, []string{"golem.parkings.updateDistrict"}, cfg.Modules.Blacklist)
	assert.Equal(t, "http://example.com/parkings", cfg.Dataset("parkings")["url"])
	assert.Empty(t, cfg.Dataset("unknown"))
}

func TestLoad_MissingExchangeIsFatal(t *testing.T) {
	t.Setenv("CITYDATA_RABBITMQ_EXCHANGE", " ")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindFatal))
	assert.ErrorIs(t, err, ErrMissingExchange)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindFatal))
}

func TestDatasetSettings(t *testing.T) {
	s := DatasetSettings{
		"url":           "http://example.com",
		"timeout":       "15s",
		"headers":       map[string]any{"x-access-token": "secret"},
		"bad":           "soon",
		"max_body_size": 1048576,
	}

	assert.Equal(t, "http://example.com", s.String("url", ""))
	assert.Equal(t, "*/5 * * * *", s.String("cron", "*/5 * * * *"))
	assert.Equal(t, 15*time.Second, s.Duration("timeout", time.Minute))
	assert.Equal(t, time.Minute, s.Duration("bad", time.Minute))
	assert.Equal(t, time.Minute, s.Duration("missing", time.Minute))
	assert.Equal(t, map[string]string{"x-access-token": "secret"}, s.StringMap("headers"))
	assert.Empty(t, s.StringMap("missing"))
	assert.Equal(t, int64(1048576), s.Int64("max_body_size", 0))
	assert.Equal(t, int64(7), s.Int64("bad", 7))
	assert.Equal(t, int64(7), s.Int64("missing", 7))
}
