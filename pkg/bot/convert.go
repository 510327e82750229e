package bot

import (
	"encoding/json"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/telarch/telarch/pkg/ingest"
	"github.com/telarch/telarch/pkg/queue"
)

// fromTelebot reduces a platform message to the neutral form the pipeline
// consumes.
func fromTelebot(m *tele.Message) *ingest.Message {
	msg := &ingest.Message{
		MessageID:    int64(m.ID),
		Timestamp:    m.Time(),
		MediaGroupID: m.AlbumID,
		Caption:      m.Caption,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.ChatTitle = m.Chat.Title
		msg.ChatUsername = m.Chat.Username
	}
	if m.Sender != nil {
		msg.SenderID = m.Sender.ID
		msg.SenderName = m.Sender.Username
	}
	msg.CaptionEntities = marshalEntities(m.CaptionEntities)
	msg.Entities = marshalEntities(m.Entities)
	msg.ForwardOrigin = forwardOrigin(m)
	msg.Media = mediaOf(m)
	return msg
}

func forwardOrigin(m *tele.Message) *ingest.Origin {
	var o *ingest.Origin
	switch {
	case m.OriginalChat != nil:
		o = &ingest.Origin{
			ChatID:   m.OriginalChat.ID,
			Username: m.OriginalChat.Username,
			Title:    m.OriginalChat.Title,
		}
	case m.OriginalSender != nil:
		o = &ingest.Origin{
			ChatID:   m.OriginalSender.ID,
			Username: m.OriginalSender.Username,
		}
	case m.OriginalSenderName != "":
		// Sender hid their account; only the display name survives.
		o = &ingest.Origin{Title: m.OriginalSenderName}
	default:
		return nil
	}
	if m.OriginalUnixtime != 0 {
		o.Date = time.Unix(int64(m.OriginalUnixtime), 0).UTC().Format(time.RFC3339)
	}
	return o
}

func mediaOf(m *tele.Message) *ingest.Media {
	switch {
	case m.Photo != nil:
		// telebot already resolves the largest rendition.
		return &ingest.Media{
			Type:         ingest.MediaPhoto,
			FileID:       m.Photo.FileID,
			FileUniqueID: m.Photo.UniqueID,
			DeclaredSize: m.Photo.FileSize,
			Width:        m.Photo.Width,
			Height:       m.Photo.Height,
		}
	case m.Document != nil:
		return &ingest.Media{
			Type:         ingest.MediaDocument,
			FileID:       m.Document.FileID,
			FileUniqueID: m.Document.UniqueID,
			DeclaredSize: m.Document.FileSize,
			OriginalName: m.Document.FileName,
			MIME:         m.Document.MIME,
		}
	case m.Video != nil:
		return &ingest.Media{
			Type:         ingest.MediaVideo,
			FileID:       m.Video.FileID,
			FileUniqueID: m.Video.UniqueID,
			DeclaredSize: m.Video.FileSize,
			Width:        m.Video.Width,
			Height:       m.Video.Height,
			Duration:     float64(m.Video.Duration),
			OriginalName: m.Video.FileName,
			MIME:         m.Video.MIME,
		}
	case m.Audio != nil:
		return &ingest.Media{
			Type:         ingest.MediaAudio,
			FileID:       m.Audio.FileID,
			FileUniqueID: m.Audio.UniqueID,
			DeclaredSize: m.Audio.FileSize,
			Duration:     float64(m.Audio.Duration),
			OriginalName: m.Audio.FileName,
			MIME:         m.Audio.MIME,
		}
	case m.Voice != nil:
		return &ingest.Media{
			Type:         ingest.MediaVoice,
			FileID:       m.Voice.FileID,
			FileUniqueID: m.Voice.UniqueID,
			DeclaredSize: m.Voice.FileSize,
			Duration:     float64(m.Voice.Duration),
			MIME:         m.Voice.MIME,
		}
	case m.Animation != nil:
		return &ingest.Media{
			Type:         ingest.MediaAnimation,
			FileID:       m.Animation.FileID,
			FileUniqueID: m.Animation.UniqueID,
			DeclaredSize: m.Animation.FileSize,
			Width:        m.Animation.Width,
			Height:       m.Animation.Height,
			Duration:     float64(m.Animation.Duration),
			OriginalName: m.Animation.FileName,
			MIME:         m.Animation.MIME,
		}
	case m.Sticker != nil:
		return &ingest.Media{
			Type:         ingest.MediaSticker,
			FileID:       m.Sticker.FileID,
			FileUniqueID: m.Sticker.UniqueID,
			DeclaredSize: m.Sticker.FileSize,
			Width:        m.Sticker.Width,
			Height:       m.Sticker.Height,
			Animated:     m.Sticker.Video || m.Sticker.Animated,
		}
	case m.VideoNote != nil:
		return &ingest.Media{
			Type:         ingest.MediaVideoNote,
			FileID:       m.VideoNote.FileID,
			FileUniqueID: m.VideoNote.UniqueID,
			DeclaredSize: m.VideoNote.FileSize,
			Duration:     float64(m.VideoNote.Duration),
		}
	default:
		return nil
	}
}

func marshalEntities(entities tele.Entities) []json.RawMessage {
	if len(entities) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// buildJob lifts a message with oversized media into a queue payload.
func buildJob(msg *ingest.Message, maxRetries int, now time.Time) *queue.JobMessage {
	m := msg.Media
	return &queue.JobMessage{
		JobID:     queue.NewJobID(),
		UserID:    msg.SenderID,
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		FileInfo: queue.FileInfo{
			FileID:       m.FileID,
			FileUniqueID: m.FileUniqueID,
			FileSize:     m.DeclaredSize,
			FileType:     string(m.Type),
			FileName:     m.OriginalName,
			MIMEType:     m.MIME,
		},
		TelegramContext: queue.TelegramContext{
			ForwardOrigin: msg.ForwardOrigin,
			Caption:       msg.Caption,
			Entities:      msg.CaptionEntities,
			MediaGroupID:  msg.MediaGroupID,
		},
		JobMetadata: queue.JobMetadata{
			CreatedAt:  now,
			Priority:   queue.DefaultPriority,
			MaxRetries: maxRetries,
		},
	}
}
