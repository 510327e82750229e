package config

import (
	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/blob"
	"github.com/telarch/telarch/pkg/bot"
	"github.com/telarch/telarch/pkg/ingest"
	"github.com/telarch/telarch/pkg/mtproto"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/quota"
	"github.com/telarch/telarch/pkg/worker"
)

// The methods below project the loaded configuration onto the component
// config types. The commands wire services exclusively through them.

// LoggerConfig builds the logger configuration.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:          c.Logging.Level,
		Format:         c.Logging.Format,
		Output:         c.Logging.Output,
		RotateMaxBytes: c.Logging.RotateMaxSize.Int64(),
		RotateBackups:  c.Logging.RotateBackups,
	}
}

// BlobConfig builds the object store client configuration.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Endpoint:           c.S3.Endpoint,
		Region:             c.S3.Region,
		Bucket:             c.S3.Bucket,
		AccessKeyID:        c.S3.AccessKeyID,
		SecretAccessKey:    c.S3.SecretAccessKey,
		ForcePathStyle:     c.S3.ForcePathStyle,
		TLSSkipVerify:      c.S3.TLSSkipVerify,
		MultipartThreshold: c.S3.MultipartThreshold.Int64(),
		PartSize:           c.S3.PartSize.Int64(),
		Concurrency:        c.S3.Concurrency,
	}
}

// BotServiceConfig builds the chat front-end configuration.
func (c *Config) BotServiceConfig() bot.Config {
	return bot.Config{
		Token:          c.Bot.Token,
		Whitelist:      c.Bot.Whitelist,
		Mode:           c.Bot.Mode,
		WebhookURL:     c.Bot.WebhookURL,
		WebhookListen:  c.Bot.WebhookListen,
		AlbumWindow:    c.Bot.AlbumWindow,
		PollTimeout:    c.Bot.PollTimeout,
		SmallPathLimit: c.Ingest.SmallPathLimit.Int64(),
		MaxRetries:     c.Worker.MaxRetries,
	}
}

// PipelineConfig builds the small-path pipeline configuration.
func (c *Config) PipelineConfig() ingest.Config {
	return ingest.Config{
		MaxFileBytes:   c.Ingest.MaxFileSize.Int64(),
		SmallPathLimit: c.Ingest.SmallPathLimit.Int64(),
		TempDir:        c.Ingest.TempDir,
		DisableDedup:   !c.Ingest.DedupOn(),
	}
}

// QuotaCalcConfig builds the quota calculator configuration.
func (c *Config) QuotaCalcConfig() quota.Config {
	return quota.Config{
		MaxBytes:       c.Quota.MaxSize.Int64(),
		CacheTTL:       c.Quota.CacheTTL,
		AlertThreshold: c.Quota.AlertThreshold,
		AlertCooldown:  c.Quota.AlertCooldown,
	}
}

// QueueManagerConfig builds the broker configuration.
func (c *Config) QueueManagerConfig() queue.Config {
	return queue.Config{
		Host:       c.Queue.Host,
		Port:       c.Queue.Port,
		Username:   c.Queue.Username,
		Password:   c.Queue.Password,
		VHost:      c.Queue.VHost,
		Exchange:   c.Queue.Exchange,
		Queue:      c.Queue.Queue,
		DLExchange: c.Queue.DLExchange,
		DLQueue:    c.Queue.DLQueue,
	}
}

// MTProtoClientConfig builds the worker session configuration.
func (c *Config) MTProtoClientConfig() mtproto.Config {
	return mtproto.Config{
		APIID:       c.MTProto.APIID,
		APIHash:     c.MTProto.APIHash,
		Phone:       c.MTProto.Phone,
		SessionPath: c.MTProto.SessionPath,
	}
}

// WorkerRunConfig builds the consumer configuration.
func (c *Config) WorkerRunConfig() worker.Config {
	return worker.Config{
		Concurrency:     c.Worker.Concurrency,
		IOTimeout:       c.Worker.IOTimeout,
		MaxRetries:      c.Worker.MaxRetries,
		HealthInterval:  c.Worker.HealthInterval,
		MaxAuthFailures: c.Worker.MaxAuthFailures,
		TempDir:         c.Worker.TempDir,
	}
}
