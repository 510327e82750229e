package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var cfgValidate = validator.New()

// Validate checks the configuration for consistency. It expects defaults to
// have been applied already.
func Validate(cfg *Config) error {
	if err := cfgValidate.Struct(cfg); err != nil {
		if errors, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(errors))
			for _, fe := range errors {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	if cfg.Bot.Mode == "webhook" && cfg.Bot.WebhookURL == "" {
		return fmt.Errorf("bot.webhook_url is required when bot.mode is webhook")
	}

	if cfg.Ingest.SmallPathLimit > cfg.Ingest.MaxFileSize {
		return fmt.Errorf("ingest.small_path_limit (%s) must not exceed ingest.max_file_size (%s)",
			cfg.Ingest.SmallPathLimit, cfg.Ingest.MaxFileSize)
	}

	// Partial MTProto credentials are a config mistake; all-empty means
	// simulate mode and is fine.
	mt := cfg.MTProto
	anySet := mt.APIID != 0 || mt.APIHash != "" || mt.Phone != ""
	allSet := mt.APIID != 0 && mt.APIHash != "" && mt.Phone != ""
	if anySet && !allSet {
		return fmt.Errorf("mtproto requires api_id, api_hash and phone together (or none for simulate mode)")
	}

	return nil
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Namespace(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
