package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telarch/telarch/internal/bytesize"
	"github.com/telarch/telarch/pkg/store"
)

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "polling", cfg.Bot.Mode)
	assert.Equal(t, 10*time.Second, cfg.Bot.AlbumWindow)
	assert.Equal(t, "teltubby", cfg.S3.Bucket)
	assert.Equal(t, 64*bytesize.MiB, cfg.S3.MultipartThreshold)
	assert.Equal(t, 4*bytesize.GiB, cfg.Ingest.MaxFileSize)
	assert.Equal(t, 50*bytesize.MiB, cfg.Ingest.SmallPathLimit)
	assert.True(t, cfg.Ingest.DedupOn())
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.Equal(t, "/data/teltubby.db", cfg.Database.SQLite.Path)
	assert.InDelta(t, 0.8, cfg.Quota.AlertThreshold, 1e-9)
	assert.Equal(t, "localhost", cfg.Queue.Host)
	assert.Equal(t, 5672, cfg.Queue.Port)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Worker.IOTimeout)
	assert.True(t, cfg.API.IsEnabled())
	assert.Equal(t, "127.0.0.1", cfg.API.BindAddress)

	require.NoError(t, Validate(cfg))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
logging:
  level: debug
  format: text
bot:
  token: "12345:abcdef"
  whitelist: [100, 200]
  album_window: "15s"
s3:
  endpoint: "https://minio.lab:9000"
  bucket: archive
  force_path_style: true
ingest:
  max_file_size: "2Gi"
  small_path_limit: "20Mi"
  dedup_enabled: false
quota:
  max_size: "500Gi"
  alert_threshold: 0.9
worker:
  io_timeout: "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values survive, including the human-readable forms.
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "12345:abcdef", cfg.Bot.Token)
	assert.Equal(t, []int64{100, 200}, cfg.Bot.Whitelist)
	assert.Equal(t, 15*time.Second, cfg.Bot.AlbumWindow)
	assert.Equal(t, "https://minio.lab:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.ForcePathStyle)
	assert.Equal(t, 2*bytesize.GiB, cfg.Ingest.MaxFileSize)
	assert.Equal(t, 20*bytesize.MiB, cfg.Ingest.SmallPathLimit)
	assert.False(t, cfg.Ingest.DedupOn())
	assert.Equal(t, 500*bytesize.GiB, cfg.Quota.MaxSize)
	assert.InDelta(t, 0.9, cfg.Quota.AlertThreshold, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Worker.IOTimeout)

	// Untouched sections still get defaults.
	assert.Equal(t, "polling", cfg.Bot.Mode)
	assert.Equal(t, "localhost", cfg.Queue.Host)
	assert.Equal(t, "/data/teltubby.db", cfg.Database.SQLite.Path)
}

func TestValidate(t *testing.T) {
	t.Run("webhook mode requires url", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Bot.Mode = "webhook"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook_url")

		cfg.Bot.WebhookURL = "https://bot.example.com/hook"
		require.NoError(t, Validate(cfg))
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Bot.Mode = "carrier-pigeon"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be one of")
	})

	t.Run("small path larger than ceiling", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Ingest.MaxFileSize = 10 * bytesize.MiB
		cfg.Ingest.SmallPathLimit = 50 * bytesize.MiB
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "small_path_limit")
	})

	t.Run("partial mtproto credentials", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.MTProto.APIID = 424242
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mtproto")

		cfg.MTProto.APIHash = "deadbeef"
		cfg.MTProto.Phone = "+15550001111"
		require.NoError(t, Validate(cfg))
	})

	t.Run("alert threshold range", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Quota.AlertThreshold = 1.5
		require.Error(t, Validate(cfg))
	})

	t.Run("postgres needs host", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Database = store.Config{Type: store.DatabaseTypePostgres}
		cfg.Database.ApplyDefaults()
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres host")
	})
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Bot.Token = "98765:secret"
	cfg.Quota.MaxSize = 200 * bytesize.GiB
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "98765:secret", got.Bot.Token)
	assert.Equal(t, 200*bytesize.GiB, got.Quota.MaxSize)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	// AutomaticEnv only overrides keys viper has seen, so the file names them.
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: INFO\nqueue:\n  host: localhost\n"), 0600))

	t.Setenv("TELARCH_LOGGING_LEVEL", "ERROR")
	t.Setenv("TELARCH_QUEUE_HOST", "rabbit.internal")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, "rabbit.internal", cfg.Queue.Host)
}

func TestInitConfigToPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	// The sample must load and validate as-is.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "polling", cfg.Bot.Mode)
	assert.Equal(t, 50*bytesize.MiB, cfg.Ingest.SmallPathLimit)

	err = InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, InitConfigToPath(path, true))
}

func TestWiring(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.RotateMaxSize = 10 * bytesize.MiB
	cfg.Quota.MaxSize = 100 * bytesize.GiB
	dedupOff := false
	cfg.Ingest.DedupEnabled = &dedupOff

	lc := cfg.LoggerConfig()
	assert.Equal(t, int64(10*bytesize.MiB), lc.RotateMaxBytes)

	pc := cfg.PipelineConfig()
	assert.Equal(t, int64(50*bytesize.MiB), pc.SmallPathLimit)
	assert.True(t, pc.DisableDedup)

	qc := cfg.QuotaCalcConfig()
	assert.Equal(t, int64(100*bytesize.GiB), qc.MaxBytes)

	bc := cfg.BotServiceConfig()
	assert.Equal(t, int64(50*bytesize.MiB), bc.SmallPathLimit)
	assert.Equal(t, 3, bc.MaxRetries)
}
