package domain

// Status is the lifecycle state of a queued transcription job
type Status string

// Job status constants. A job moves queued -> processing -> completed or
// failed; completed rows are deleted at once unless a retention window is
// configured.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// ParseStatus validates a user-supplied status value
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusQueued, StatusProcessing, StatusFailed, StatusCompleted:
		return Status(value), true
	}
	return "", false
}

// Session artifact file names
const (
	TranscriptFile  = "transcript.txt"
	NotesFile       = "notes.md"
	ChatHistoryFile = "chat_history.json"
)

// DefaultFilename is used when an upload carries no name
const DefaultFilename = "recording"
