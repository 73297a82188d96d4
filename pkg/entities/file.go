package entities

type FileKind string

const (
	FileKindDocument FileKind = "document"
	FileKindAudio    FileKind = "audio"
	FileKindVideo    FileKind = "video"
	FileKindPhoto    FileKind = "photo"
)

func (k FileKind) Valid() bool {
	switch k {
	case FileKindDocument, FileKindAudio, FileKindVideo, FileKindPhoto:
		return true
	default:
		return false
	}
}

// FileInfo is an attachment normalized from an incoming message.
type FileInfo struct {
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	Kind         FileKind
}

// FileRecord is the stored, deduplicated metadata of a platform file keyed by
// its stable unique id.
type FileRecord struct {
	FileUniqueID string   `db:"file_unique_id"`
	FileID       string   `db:"file_id"`
	FileName     string   `db:"file_name"`
	MimeType     string   `db:"mime_type"`
	ChatID       int64    `db:"chat_id"`
	Kind         FileKind `db:"type"`
}

func NewFileRecord(info FileInfo, chatID int64) FileRecord {
	return FileRecord{
		FileUniqueID: info.FileUniqueID,
		FileID:       info.FileID,
		FileName:     info.FileName,
		MimeType:     info.MimeType,
		ChatID:       chatID,
		Kind:         info.Kind,
	}
}
