package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// ManifestSchemaVersion tags the manifest layout for future migrations.
const ManifestSchemaVersion = "1.0"

// ManifestItem is the archived metadata of one batch item.
type ManifestItem struct {
	Ordinal          int      `json:"ordinal"`
	Type             string   `json:"type"`
	MIMEType         *string  `json:"mime_type"`
	SizeBytes        *int64   `json:"size_bytes"`
	Width            *int     `json:"width"`
	Height           *int     `json:"height"`
	Duration         *float64 `json:"duration"`
	FileID           string   `json:"file_id"`
	FileUniqueID     string   `json:"file_unique_id"`
	OriginalFilename *string  `json:"original_filename"`
	SHA256           *string  `json:"sha256"`
	S3Key            *string  `json:"s3_key"`
}

// ManifestTelegram carries the source-side message metadata.
type ManifestTelegram struct {
	MessageID       string            `json:"message_id"`
	MediaGroupID    *string           `json:"media_group_id"`
	ChatID          string            `json:"chat_id"`
	ChatTitle       *string           `json:"chat_title"`
	ChatUsername    *string           `json:"chat_username"`
	SenderID        string            `json:"sender_id"`
	SenderUsername  *string           `json:"sender_username"`
	ForwardOrigin   *Origin           `json:"forward_origin"`
	CaptionPlain    *string           `json:"caption_plain"`
	CaptionEntities []json.RawMessage `json:"caption_entities"`
	Entities        []json.RawMessage `json:"entities"`
	Items           []ManifestItem    `json:"items"`
}

// Manifest is the per-batch JSON artifact written next to the media at
// <base>/message.json.
type Manifest struct {
	SchemaVersion       string           `json:"schema_version"`
	ArchiveTimestampUTC string           `json:"archive_timestamp_utc"`
	MessageTimestampUTC string           `json:"message_timestamp_utc"`
	Bucket              string           `json:"bucket"`
	BasePath            string           `json:"base_path"`
	FilesCount          int              `json:"files_count"`
	TotalBytesUploaded  int64            `json:"total_bytes_uploaded"`
	Keys                []string         `json:"keys"`
	DuplicateOf         *string          `json:"duplicate_of"`
	DedupReason         *string          `json:"dedup_reason"`
	Notes               *string          `json:"notes"`
	Telegram            ManifestTelegram `json:"telegram"`
}

// BuildManifest assembles the batch manifest. sorted must be the batch in
// pipeline order with sorted[0] as the anchor message.
func BuildManifest(bucket string, sorted []*Message, res *BatchResult, now time.Time) *Manifest {
	msg0 := sorted[0]

	keys := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.S3Key != "" {
			keys = append(keys, o.S3Key)
		}
	}

	items := make([]ManifestItem, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		items = append(items, ManifestItem{
			Ordinal:          o.Ordinal,
			Type:             string(o.Type),
			MIMEType:         optStr(o.MIME),
			SizeBytes:        optInt64(o.SizeBytes),
			Width:            optInt(o.Width),
			Height:           optInt(o.Height),
			Duration:         optFloat(o.Duration),
			FileID:           o.FileID,
			FileUniqueID:     o.FileUniqueID,
			OriginalFilename: optStr(o.OriginalName),
			SHA256:           optStr(o.SHA256),
			S3Key:            optStr(o.S3Key),
		})
	}

	senderID := ""
	if msg0.SenderID != 0 {
		senderID = formatSignedID(msg0.SenderID)
	}

	return &Manifest{
		SchemaVersion:       ManifestSchemaVersion,
		ArchiveTimestampUTC: now.UTC().Format("2006-01-02T15:04:05Z"),
		MessageTimestampUTC: msg0.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Bucket:              bucket,
		BasePath:            res.BasePath,
		FilesCount:          len(keys),
		TotalBytesUploaded:  res.TotalBytes,
		Keys:                keys,
		DuplicateOf:         optStr(res.DuplicateOf),
		DedupReason:         optStr(res.DedupReason),
		Notes:               optStr(res.Notes),
		Telegram: ManifestTelegram{
			MessageID:       formatSignedID(msg0.MessageID),
			MediaGroupID:    optStr(msg0.MediaGroupID),
			ChatID:          formatSignedID(msg0.ChatID),
			ChatTitle:       optStr(msg0.ChatTitle),
			ChatUsername:    optStr(msg0.ChatUsername),
			SenderID:        senderID,
			SenderUsername:  optStr(msg0.SenderName),
			ForwardOrigin:   msg0.ForwardOrigin,
			CaptionPlain:    optStr(msg0.Caption),
			CaptionEntities: rawOrEmpty(msg0.CaptionEntities),
			Entities:        rawOrEmpty(msg0.Entities),
			Items:           items,
		},
	}
}

func (p *Pipeline) writeManifest(ctx context.Context, sorted []*Message, res *BatchResult) error {
	manifest := BuildManifest(p.obj.Bucket(), sorted, res, time.Now())
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	key := res.BasePath + "message.json"
	return p.obj.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func optInt64(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func optFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func rawOrEmpty(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return []json.RawMessage{}
	}
	return in
}

func formatSignedID(id int64) string {
	return strconv.FormatInt(id, 10)
}
