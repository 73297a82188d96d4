package entities

type EventKind string

const (
	// EventKindEmpty is an update without a message, nothing has to be done
	EventKindEmpty EventKind = "empty"

	// EventKindCommand is a text message, the first token is the command
	EventKindCommand EventKind = "command"

	// EventKindFile is a message carrying a document, audio, video or photo
	EventKindFile EventKind = "file"

	// EventKindUnrecognized is a message of any other shape
	EventKindUnrecognized EventKind = "unrecognized"
)

// Event is an inbound update reduced to what the bot acts on. File is set
// only for EventKindFile, Text only for EventKindCommand.
type Event struct {
	Kind      EventKind
	UpdateID  int
	MessageID int
	ChatID    int64
	Text      string
	File      *FileInfo
}
