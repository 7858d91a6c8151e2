package domain

import "time"

// Job represents one row of the transcription queue
type Job struct {
	ID               string
	AudioPath        string
	OriginalFilename string
	Status           Status
	TranscriptID     string
	ErrorKind        ErrorKind
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// StatusReport is what pollers see for a job id.
//
// Known is false when the row no longer exists. A job that finished and was
// deleted and an id that never existed are reported the same way: completed
// with Known false.
type StatusReport struct {
	Status       Status
	TranscriptID string
	ErrorMessage string
	Known        bool
}

// Summary is a read-only snapshot of the queue
type Summary struct {
	ProcessingFilename string // empty when idle
	QueuedCount        int
}

// Processing reports whether a job is currently in flight
func (s Summary) Processing() bool {
	return s.ProcessingFilename != ""
}
