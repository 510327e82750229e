package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/telarch/telarch/pkg/ingest"
)

// SchemaVersion is carried as a message header so consumers can reject
// payloads from a different layout.
const SchemaVersion = "1.0"

// JobType tags large-file job messages on the wire.
const JobType = "telarch.largefile.job"

// FileInfo identifies the media the worker must acquire.
type FileInfo struct {
	FileID       string `json:"file_id" validate:"required"`
	FileUniqueID string `json:"file_unique_id" validate:"required"`
	FileSize     int64  `json:"file_size,omitempty"`
	FileType     string `json:"file_type" validate:"required"`
	FileName     string `json:"file_name,omitempty"`
	MIMEType     string `json:"mime_type,omitempty"`
}

// TelegramContext carries message metadata the worker embeds in its output.
type TelegramContext struct {
	ForwardOrigin *ingest.Origin    `json:"forward_origin,omitempty"`
	Caption       string            `json:"caption,omitempty"`
	Entities      []json.RawMessage `json:"entities"`
	MediaGroupID  string            `json:"media_group_id,omitempty"`
}

// JobMetadata tracks scheduling state inside the payload.
type JobMetadata struct {
	CreatedAt  time.Time `json:"created_at" validate:"required"`
	Priority   uint8     `json:"priority" validate:"lte=9"`
	RetryCount int       `json:"retry_count" validate:"gte=0"`
	MaxRetries int       `json:"max_retries" validate:"gte=0"`
}

// JobMessage is the large-file job payload.
type JobMessage struct {
	JobID           string          `json:"job_id" validate:"required,uuid4"`
	UserID          int64           `json:"user_id" validate:"required"`
	ChatID          int64           `json:"chat_id" validate:"required"`
	MessageID       int64           `json:"message_id" validate:"required"`
	FileInfo        FileInfo        `json:"file_info" validate:"required"`
	TelegramContext TelegramContext `json:"telegram_context"`
	JobMetadata     JobMetadata     `json:"job_metadata" validate:"required"`
}

var payloadValidate = validator.New()

// Validate checks the payload before publish.
func (j *JobMessage) Validate() error {
	if err := payloadValidate.Struct(j); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}
	return nil
}

// Marshal renders the payload for the wire.
func (j *JobMessage) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// ParseJobMessage decodes and validates a payload from the wire.
func ParseJobMessage(data []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
