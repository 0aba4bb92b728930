package models

import "time"

// JobRecord is the durable result of a job that made it through persistence.
// It is written once and never updated.
type JobRecord struct {
	ID             string    `json:"id"`
	SourceFileName string    `json:"source_file_name"`
	TranscriptText string    `json:"transcript"`
	SummaryText    string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}
