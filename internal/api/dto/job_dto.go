package dto

// EnqueueResponse is returned when an upload is accepted
type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse mirrors domain.StatusReport for pollers
type StatusResponse struct {
	Status       string `json:"status"`
	TranscriptID string `json:"transcript_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// QueueSummaryResponse reports the in-flight file and backlog size.
// ProcessingFile is null when the worker is idle.
type QueueSummaryResponse struct {
	ProcessingFile *string `json:"processing_file"`
	QueuedCount    int     `json:"queued_count"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID            string `json:"job_id"`
	OriginalFilename string `json:"original_filename"`
	Status           string `json:"status"`
	TranscriptID     string `json:"transcript_id,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        string `json:"created_at"`
	StartedAt        string `json:"started_at,omitempty"`
	FinishedAt       string `json:"finished_at,omitempty"`
}
