package models

import (
	"time"
)

// JobStatus represents where a job sits in the queue
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// JobState is the last pipeline state a job reached
type JobState string

const (
	StateQueued      JobState = "queued"
	StateStarted     JobState = "started"
	StateTranscribed JobState = "transcribed"
	StateDiarized    JobState = "diarized"
	StateSummarized  JobState = "summarized"
	StatePersisted   JobState = "persisted"
	StateNotified    JobState = "notified"
	StateFailed      JobState = "failed"
	StateDone        JobState = "done"
)

// IsTerminal reports whether no further transitions can follow.
func (s JobState) IsTerminal() bool {
	return s == StateDone
}

// Job represents one uploaded audio file travelling through the pipeline
type Job struct {
	ID               string    `json:"id"`
	OriginalFileName string    `json:"original_file_name"`
	SourceFileName   string    `json:"source_file_name"`
	AudioPath        string    `json:"audio_path"`
	RecipientEmail   string    `json:"recipient_email"`
	AudioDuration    float64   `json:"audio_duration_seconds,omitempty"`
	Status           JobStatus `json:"status"`
	State            JobState  `json:"state"`
	FailedStage      string    `json:"failed_stage,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	NotifyError      string    `json:"notify_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	ProcessingNode   string    `json:"processing_node,omitempty"`
}
