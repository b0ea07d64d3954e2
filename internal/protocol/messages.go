package protocol

import "time"

// JobRequest asks the narration service to render text to an audio file.
type JobRequest struct {
	JobID        string `json:"job_id,omitempty"`
	Text         string `json:"text"`
	Language     string `json:"language,omitempty"`
	Voice        string `json:"voice,omitempty"`
	OutputName   string `json:"output_name,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty"`
	ChunkSeconds int    `json:"chunk_seconds,omitempty"`
	AllowPartial bool   `json:"allow_partial,omitempty"`
}

// JobProgress is published after every chunk completes.
type JobProgress struct {
	JobID        string    `json:"job_id"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	WordsPerSec  float64   `json:"words_per_sec"`
	ChunksPerSec float64   `json:"chunks_per_sec"`
	ETAMillis    int64     `json:"eta_ms"`
	Done         bool      `json:"done"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	StateAccepted  = "accepted"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// JobStatus reports the outcome of a job on the status subject and to the
// request's reply inbox.
type JobStatus struct {
	JobID      string    `json:"job_id"`
	State      string    `json:"state"`
	OutputPath string    `json:"output_path,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Words      int       `json:"words,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectJobRequest  = "narrate.job.request"
	SubjectJobProgress = "narrate.job.progress"
	SubjectJobStatus   = "narrate.job.status"
)
