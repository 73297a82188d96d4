package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/batch-share-bot/pkg/entities"
)

// ParseUpdate reduces an update to the event the bot acts on. Text wins over
// attachments, attachments are taken in document, audio, video, photo order.
func ParseUpdate(update tgbotapi.Update) e.Event {
	ev := e.Event{
		Kind:     e.EventKindEmpty,
		UpdateID: update.UpdateID,
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return ev
	}

	ev.MessageID = msg.MessageID
	ev.ChatID = msg.Chat.ID

	if msg.Text != "" {
		ev.Kind = e.EventKindCommand
		ev.Text = msg.Text
		return ev
	}

	if info, ok := ExtractFileInfo(msg); ok {
		ev.Kind = e.EventKindFile
		ev.File = &info
		return ev
	}

	ev.Kind = e.EventKindUnrecognized
	return ev
}

// ExtractFileInfo normalizes the attachment of the message. For photos the
// last, largest size is used and the name is derived from its unique id.
func ExtractFileInfo(msg *tgbotapi.Message) (e.FileInfo, bool) {
	switch {
	case msg.Document != nil:
		return e.FileInfo{
			FileID:       msg.Document.FileID,
			FileUniqueID: msg.Document.FileUniqueID,
			FileName:     msg.Document.FileName,
			MimeType:     msg.Document.MimeType,
			Kind:         e.FileKindDocument,
		}, true
	case msg.Audio != nil:
		return e.FileInfo{
			FileID:       msg.Audio.FileID,
			FileUniqueID: msg.Audio.FileUniqueID,
			FileName:     msg.Audio.FileName,
			MimeType:     msg.Audio.MimeType,
			Kind:         e.FileKindAudio,
		}, true
	case msg.Video != nil:
		return e.FileInfo{
			FileID:       msg.Video.FileID,
			FileUniqueID: msg.Video.FileUniqueID,
			FileName:     msg.Video.FileName,
			MimeType:     msg.Video.MimeType,
			Kind:         e.FileKindVideo,
		}, true
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return e.FileInfo{
			FileID:       largest.FileID,
			FileUniqueID: largest.FileUniqueID,
			FileName:     largest.FileUniqueID + ".jpg",
			MimeType:     "image/jpeg",
			Kind:         e.FileKindPhoto,
		}, true
	default:
		return e.FileInfo{}, false
	}
}
