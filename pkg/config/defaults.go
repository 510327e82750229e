package config

import (
	"strings"
	"time"

	"github.com/telarch/telarch/internal/bytesize"
	"github.com/telarch/telarch/pkg/store"
)

// ApplyDefaults fills unspecified fields with defaults. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyBotDefaults(&cfg.Bot)
	applyS3Defaults(&cfg.S3)
	applyIngestDefaults(&cfg.Ingest)
	cfg.Database.ApplyDefaults()
	applyQuotaDefaults(&cfg.Quota)
	applyQueueDefaults(&cfg.Queue)
	applyWorkerDefaults(&cfg.Worker)
	applyMTProtoDefaults(&cfg.MTProto)
	cfg.API.ApplyDefaults()
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.RotateBackups == 0 {
		cfg.RotateBackups = 3
	}
}

func applyBotDefaults(cfg *BotConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "polling"
	}
	if cfg.AlbumWindow == 0 {
		cfg.AlbumWindow = 10 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 10 * time.Second
	}
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "teltubby"
	}
	if cfg.MultipartThreshold == 0 {
		cfg.MultipartThreshold = 64 * bytesize.MiB
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = 16 * bytesize.MiB
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
}

func applyIngestDefaults(cfg *IngestConfig) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 4 * bytesize.GiB
	}
	if cfg.SmallPathLimit == 0 {
		cfg.SmallPathLimit = 50 * bytesize.MiB
	}
}

func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = 0.8
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = time.Hour
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5672
	}
	if cfg.Username == "" {
		cfg.Username = "guest"
	}
	if cfg.Password == "" {
		cfg.Password = "guest"
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 30 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	if cfg.MaxAuthFailures == 0 {
		cfg.MaxAuthFailures = 3
	}
}

func applyMTProtoDefaults(cfg *MTProtoConfig) {
	if cfg.SessionPath == "" {
		cfg.SessionPath = "/data/mtproto.session"
	}
}

// GetDefaultConfig returns a Config with every default applied. Used by
// 'telarch init' to write the sample file, and by tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
