package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented starting point written by 'telarch init'.
// Every value shown is the default; uncomment and edit what differs.
const sampleConfig = `# telarch configuration file
#
# Any option here can be overridden with an environment variable:
#   TELARCH_<SECTION>_<KEY>, e.g. TELARCH_BOT_TOKEN=12345:abc
#
# Sizes accept human-readable forms ("50Mi", "4Gi", "100MB") and durations
# accept Go syntax ("30s", "5m", "1h").

logging:
  level: INFO          # DEBUG, INFO, WARN, ERROR
  format: json         # json or text
  output: stdout       # stdout, stderr, or a file path
  # rotate_max_size: 100Mi
  # rotate_backups: 3

bot:
  token: ""            # @BotFather token, required for the bot service
  whitelist: []        # Telegram user ids allowed to archive
  mode: polling        # polling or webhook
  # webhook_url: https://bot.example.com/hook
  # webhook_listen: :8443
  album_window: 10s
  poll_timeout: 10s

s3:
  endpoint: ""         # empty means AWS; set for MinIO/Garage/Ceph
  region: us-east-1
  bucket: teltubby
  access_key_id: ""
  secret_access_key: ""
  force_path_style: false

ingest:
  max_file_size: 4Gi
  small_path_limit: 50Mi
  dedup_enabled: true

database:
  type: sqlite         # sqlite or postgres
  sqlite:
    path: /data/teltubby.db
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: teltubby
  #   user: teltubby
  #   password: ""

quota:
  max_size: 0          # 0 disables quota enforcement
  alert_threshold: 0.8
  cache_ttl: 5m
  alert_cooldown: 1h

queue:
  host: localhost
  port: 5672
  username: guest
  password: guest
  vhost: /

mtproto:
  # All empty means the worker runs in simulate mode.
  api_id: 0
  api_hash: ""
  phone: ""
  session_path: /data/mtproto.session

worker:
  concurrency: 2
  io_timeout: 30m
  max_retries: 3

metrics:
  enabled: false

api:
  enabled: true
  bind_address: 127.0.0.1
  port: 8080
`

// InitConfig writes the sample configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to the given path.
// Refuses to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// 0600: the file carries the bot token and S3 credentials.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
