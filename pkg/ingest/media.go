// Package ingest implements the small-path archival pipeline: album
// aggregation, media classification, dedup, acquisition and upload.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MediaType classifies the binary payload of a message.
type MediaType string

const (
	MediaPhoto     MediaType = "photo"
	MediaDocument  MediaType = "document"
	MediaVideo     MediaType = "video"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaAnimation MediaType = "animation"
	MediaSticker   MediaType = "sticker"
	MediaVideoNote MediaType = "video_note"
	MediaUnknown   MediaType = "unknown"
)

// Media is the platform-neutral description of one attachment. For photos the
// bot layer picks the largest rendition before building this.
type Media struct {
	Type         MediaType
	FileID       string
	FileUniqueID string

	// DeclaredSize is the size the platform reports before download.
	// Zero means unknown; the post-download gate still applies.
	DeclaredSize int64

	Width        int
	Height       int
	Duration     float64
	OriginalName string
	MIME         string

	// Animated distinguishes video stickers (webm) from static ones (webp).
	Animated bool
}

// Origin describes where a forwarded message came from.
type Origin struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	Username string `json:"username,omitempty"`
	Title    string `json:"title,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Message is one inbound chat message, reduced to what archival needs.
type Message struct {
	MessageID    int64
	ChatID       int64
	ChatTitle    string
	ChatUsername string
	SenderID     int64
	SenderName   string
	MediaGroupID string
	Timestamp    time.Time
	Caption      string

	CaptionEntities []json.RawMessage
	Entities        []json.RawMessage
	ForwardOrigin   *Origin

	// Media is nil for text-only messages.
	Media *Media
}

// OriginName returns the source to slug for keys: the forward origin when
// present, otherwise the chat itself.
func (m *Message) OriginName() string {
	if m.ForwardOrigin != nil {
		if m.ForwardOrigin.Username != "" {
			return m.ForwardOrigin.Username
		}
		if m.ForwardOrigin.Title != "" {
			return m.ForwardOrigin.Title
		}
		if m.ForwardOrigin.ChatID != 0 {
			return formatID(m.ForwardOrigin.ChatID)
		}
	}
	if m.ChatUsername != "" {
		return m.ChatUsername
	}
	return formatID(m.ChatID)
}

// SenderLabel returns the sender's username or numeric id, "" when unknown.
func (m *Message) SenderLabel() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.SenderID != 0 {
		return formatID(m.SenderID)
	}
	return ""
}

// formatID renders an id for key material. Channel ids are negative; keys
// cannot carry the sign.
func formatID(id int64) string {
	if id < 0 {
		id = -id
	}
	return strconv.FormatInt(id, 10)
}

// ExtAndMIME derives the archive extension and content type for a media item.
func ExtAndMIME(m *Media) (string, string) {
	switch m.Type {
	case MediaPhoto:
		return "jpg", "image/jpeg"
	case MediaDocument:
		return extFromName(m.OriginalName, "bin"), m.MIME
	case MediaVideo:
		return extFromName(m.OriginalName, "mp4"), m.MIME
	case MediaAudio:
		return extFromName(m.OriginalName, "mp3"), m.MIME
	case MediaVoice:
		return "ogg", m.MIME
	case MediaAnimation:
		return extFromName(m.OriginalName, "mp4"), m.MIME
	case MediaSticker:
		if m.Animated {
			return "webm", ""
		}
		return "webp", ""
	case MediaVideoNote:
		return "mp4", ""
	default:
		return "bin", ""
	}
}

func extFromName(name, fallback string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 && idx < len(name)-1 {
		return strings.ToLower(name[idx+1:])
	}
	return fallback
}
