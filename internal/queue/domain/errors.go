package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotTerminal is returned when deleting a job that is still queued or processing
	ErrJobNotTerminal = errors.New("job is not in a terminal state")

	// ErrJobNotProcessing is returned when finalizing a job the worker does not hold
	ErrJobNotProcessing = errors.New("job is not processing")
)

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	// KindEngineUnavailable means the audio-to-text engine could not be loaded
	KindEngineUnavailable ErrorKind = "engine_unavailable"
	// KindTranscription means the engine failed while decoding
	KindTranscription ErrorKind = "transcription_failure"
	// KindPersistence means artifacts or the catalog record could not be written
	KindPersistence ErrorKind = "persistence_failure"
	// KindUnexpected covers panics and anything else
	KindUnexpected ErrorKind = "unexpected"
)

// PublicMessage is the text pollers get when error details are hidden
func (k ErrorKind) PublicMessage() string {
	switch k {
	case KindEngineUnavailable:
		return "transcription engine unavailable"
	case KindTranscription:
		return "audio could not be transcribed"
	case KindPersistence:
		return "transcript could not be saved"
	default:
		return "transcription failed"
	}
}

// JobError is a classified job failure. Message is what gets persisted.
type JobError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError classifies err; the message defaults to err's text
func NewJobError(kind ErrorKind, err error) *JobError {
	jobErr := &JobError{Kind: kind, Err: err}
	if err != nil {
		jobErr.Message = err.Error()
	}
	return jobErr
}

// KindOf extracts the failure kind, KindUnexpected for unclassified errors
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return KindUnexpected
}
