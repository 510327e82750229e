// Package config loads, defaults and validates the telarch configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/telarch/telarch/internal/bytesize"
	"github.com/telarch/telarch/pkg/api"
	"github.com/telarch/telarch/pkg/store"
)

// Config is the full telarch configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (TELARCH_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Bot configures the chat front-end.
	Bot BotConfig `mapstructure:"bot" yaml:"bot"`

	// S3 configures the archive bucket.
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// Ingest tunes the small-path pipeline.
	Ingest IngestConfig `mapstructure:"ingest" yaml:"ingest"`

	// Database configures the dedup and job index (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Quota bounds bucket usage.
	Quota QuotaConfig `mapstructure:"quota" yaml:"quota"`

	// Queue configures the AMQP broker and queue names.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// MTProto holds the worker's user-session credentials.
	MTProto MTProtoConfig `mapstructure:"mtproto" yaml:"mtproto"`

	// Worker tunes the large-file consumer.
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Metrics enables the Prometheus registry.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the observability HTTP server.
	API api.APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// RotateMaxSize triggers size-based rotation when Output is a file.
	// Zero disables rotation.
	RotateMaxSize bytesize.ByteSize `mapstructure:"rotate_max_size" yaml:"rotate_max_size,omitempty"`

	// RotateBackups is how many rotated files to keep. Default: 3.
	RotateBackups int `mapstructure:"rotate_backups" yaml:"rotate_backups,omitempty"`
}

// BotConfig configures the chat front-end.
type BotConfig struct {
	// Token is the bot API token (required for the bot service).
	Token string `mapstructure:"token" yaml:"token"`

	// Whitelist holds the user ids allowed to talk to the bot.
	Whitelist []int64 `mapstructure:"whitelist" yaml:"whitelist"`

	// Mode selects update delivery: polling (default) or webhook.
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=polling webhook" yaml:"mode"`

	// WebhookURL is the public HTTPS URL in webhook mode.
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`

	// WebhookListen is the local listen address in webhook mode.
	WebhookListen string `mapstructure:"webhook_listen" yaml:"webhook_listen,omitempty"`

	// AlbumWindow is how long grouped media waits for siblings. Default: 10s.
	AlbumWindow time.Duration `mapstructure:"album_window" yaml:"album_window"`

	// PollTimeout is the long-poll timeout. Default: 10s.
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// S3Config configures the archive bucket connection.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// ForcePathStyle addresses the bucket in the path, required by MinIO.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// TLSSkipVerify disables certificate checks for self-signed endpoints.
	TLSSkipVerify bool `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify,omitempty"`

	// MultipartThreshold switches uploads to multipart. Default: 64Mi.
	MultipartThreshold bytesize.ByteSize `mapstructure:"multipart_threshold" yaml:"multipart_threshold,omitempty"`

	// PartSize is the multipart part size. Default: 16Mi.
	PartSize bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size,omitempty"`

	// Concurrency is the parallel part upload count. Default: 4.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
}

// IngestConfig tunes the small-path pipeline.
type IngestConfig struct {
	// MaxFileSize is the archive ceiling; larger media is refused.
	// Default: 4Gi.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// SmallPathLimit is the bot API download ceiling; larger media goes to
	// the job queue. Default: 50Mi.
	SmallPathLimit bytesize.ByteSize `mapstructure:"small_path_limit" yaml:"small_path_limit"`

	// TempDir holds in-flight downloads. Empty means the OS default.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`

	// DedupEnabled controls content dedup. Default: true.
	DedupEnabled *bool `mapstructure:"dedup_enabled" yaml:"dedup_enabled,omitempty"`
}

// DedupOn reports whether dedup is active. Defaults to true.
func (c *IngestConfig) DedupOn() bool {
	if c.DedupEnabled == nil {
		return true
	}
	return *c.DedupEnabled
}

// QuotaConfig bounds bucket usage.
type QuotaConfig struct {
	// MaxSize is the bucket budget. Zero disables enforcement.
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`

	// AlertThreshold is the used-ratio that triggers an admin warning.
	// Default: 0.8.
	AlertThreshold float64 `mapstructure:"alert_threshold" validate:"omitempty,gt=0,lte=1" yaml:"alert_threshold"`

	// CacheTTL is how long a measured usage stays fresh. Default: 5m.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// AlertCooldown is the minimum gap between warnings. Default: 1h.
	AlertCooldown time.Duration `mapstructure:"alert_cooldown" yaml:"alert_cooldown"`
}

// QueueConfig configures the AMQP broker connection and topology names.
type QueueConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	VHost    string `mapstructure:"vhost" yaml:"vhost"`

	Exchange   string `mapstructure:"exchange" yaml:"exchange,omitempty"`
	Queue      string `mapstructure:"queue" yaml:"queue,omitempty"`
	DLExchange string `mapstructure:"dl_exchange" yaml:"dl_exchange,omitempty"`
	DLQueue    string `mapstructure:"dl_queue" yaml:"dl_queue,omitempty"`
}

// MTProtoConfig holds the worker's user-session credentials. All fields
// empty means the worker runs in simulate mode.
type MTProtoConfig struct {
	APIID       int    `mapstructure:"api_id" yaml:"api_id"`
	APIHash     string `mapstructure:"api_hash" yaml:"api_hash"`
	Phone       string `mapstructure:"phone" yaml:"phone"`
	SessionPath string `mapstructure:"session_path" yaml:"session_path"`
}

// WorkerConfig tunes the large-file consumer.
type WorkerConfig struct {
	// Concurrency bounds in-flight jobs. Default: 2.
	Concurrency int `mapstructure:"concurrency" validate:"omitempty,min=1,max=32" yaml:"concurrency"`

	// IOTimeout bounds one acquisition. Default: 30m.
	IOTimeout time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`

	// MaxRetries is stamped into job metadata. Default: 3.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// HealthInterval is the session probe cadence. Default: 5m.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`

	// MaxAuthFailures flips the worker to simulate mode. Default: 3.
	MaxAuthFailures int `mapstructure:"max_auth_failures" yaml:"max_auth_failures"`

	// TempDir holds in-flight downloads. Empty means the OS default.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

// MetricsConfig enables the Prometheus registry. The scrape endpoint lives
// on the API server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  telarch init\n\n"+
				"Or specify a custom config file:\n"+
				"  telarch <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  telarch init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML. Permissions are restricted
// because the file carries the bot token and S3 credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment overrides and the config file search.
// Example: TELARCH_LOGGING_LEVEL=DEBUG, TELARCH_BOT_TOKEN=....
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("TELARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is fine;
// defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook lets config files use human-readable sizes like
// "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets config files use durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/telarch, falling back to
// ~/.config/telarch, or "." when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "telarch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "telarch")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
