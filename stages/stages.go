// Package stages defines the collaborator boundaries the pipeline invokes,
// one narrow interface per stage.
package stages

import (
	"context"
	"errors"

	"github.com/jupark12/voxnotes/models"
)

var (
	// ErrDuplicateRecord is returned when a record with the same id already exists.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrRecordNotFound is returned when no record exists for an id.
	ErrRecordNotFound = errors.New("record not found")
)

// Transcriber turns an audio file into timed text segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}

// Diarizer attributes speech intervals of an audio file to speakers.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error)
}

// Summarizer condenses a full transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Mailer delivers a plain text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RecordStore keeps one record per job, keyed by job id.
type RecordStore interface {
	Save(ctx context.Context, record models.JobRecord) error
	Get(ctx context.Context, id string) (models.JobRecord, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audioPath string) ([]models.Segment, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	return f(ctx, audioPath)
}

// DiarizerFunc adapts a function to Diarizer.
type DiarizerFunc func(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error)

// Diarize calls f.
func (f DiarizerFunc) Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error) {
	return f(ctx, audioPath, minSpeakers, maxSpeakers)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, text string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject, body string) error

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}
