// Package dispatch validates uploads, stores the audio and schedules jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jupark12/voxnotes/audio"
	"github.com/jupark12/voxnotes/logging"
	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/queue"
)

// AckMessage is returned to the uploader once a job is scheduled.
const AckMessage = "Upload received - check your inbox soon!"

// ValidationError rejects an upload before anything is written or scheduled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Receipt acknowledges a scheduled job.
type Receipt struct {
	JobID   string `json:"id"`
	Message string `json:"message"`
}

// Enqueuer accepts jobs for background processing.
type Enqueuer interface {
	EnqueueJob(job *models.Job) error
}

// Config holds dispatcher settings.
type Config struct {
	UploadDir        string
	DefaultRecipient string
	Metrics          *metrics.Metrics
}

// Dispatcher turns uploads into queued jobs.
type Dispatcher struct {
	uploadDir        string
	defaultRecipient string
	queue            Enqueuer
	metrics          *metrics.Metrics
	newID            func() string
}

// New creates the upload directory and returns a dispatcher feeding q.
func New(cfg Config, q Enqueuer) (*Dispatcher, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Dispatcher{
		uploadDir:        cfg.UploadDir,
		defaultRecipient: cfg.DefaultRecipient,
		queue:            q,
		metrics:          m,
		newID:            uuid.NewString,
	}, nil
}

// Submit validates the upload, stores it as "<id>_<name>" in the upload
// directory and enqueues a job. It returns once the job is scheduled; the
// pipeline runs in the background.
func (d *Dispatcher) Submit(ctx context.Context, r io.Reader, originalFileName, recipientEmail string) (Receipt, error) {
	name := filepath.Base(strings.TrimSpace(originalFileName))
	if name == "." || name == string(filepath.Separator) || !audio.IsSupported(name) {
		d.metrics.RecordRejected("invalid_extension")
		return Receipt{}, &ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("only %s accepted", strings.Join(audio.SupportedExtensions, "/")),
		}
	}

	recipient := strings.TrimSpace(recipientEmail)
	if recipient == "" {
		recipient = d.defaultRecipient
	}
	if recipient == "" {
		d.metrics.RecordRejected("missing_recipient")
		return Receipt{}, &ValidationError{Field: "email", Reason: "no recipient and no default configured"}
	}

	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	jobID := d.newID()
	storedName := jobID + "_" + name
	audioPath := filepath.Join(d.uploadDir, storedName)
	logger := logging.WithJob(jobID)

	if err := writeFile(audioPath, r); err != nil {
		d.metrics.RecordRejected("storage")
		return Receipt{}, err
	}

	job := &models.Job{
		ID:               jobID,
		OriginalFileName: name,
		SourceFileName:   storedName,
		AudioPath:        audioPath,
		RecipientEmail:   recipient,
		CreatedAt:        time.Now().UTC(),
	}

	if info, err := audio.Inspect(audioPath); err == nil {
		job.AudioDuration = info.Duration.Seconds()
		logger.Debug().
			Dur("duration", info.Duration).
			Int("sampleRate", info.Format.SampleRate).
			Int("channels", info.Format.NumChannels).
			Msg("Inspected WAV upload")
	} else if !errors.Is(err, audio.ErrNotWav) {
		logger.Warn().Err(err).Msg("Failed to inspect upload")
	}

	if err := d.queue.EnqueueJob(job); err != nil {
		if rmErr := os.Remove(audioPath); rmErr != nil {
			logger.Warn().Err(rmErr).Str("path", audioPath).Msg("Failed to remove unscheduled upload")
		}
		if errors.Is(err, queue.ErrQueueFull) {
			d.metrics.RecordRejected("queue_full")
		} else {
			d.metrics.RecordRejected("enqueue")
		}
		return Receipt{}, fmt.Errorf("failed to schedule job: %w", err)
	}

	d.metrics.RecordSubmitted()
	logger.Info().
		Str("file", storedName).
		Str("recipient", recipient).
		Msg("Upload accepted")

	return Receipt{JobID: jobID, Message: AckMessage}, nil
}

func writeFile(path string, r io.Reader) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("failed to save file data: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to save file data: %w", err)
	}
	return nil
}
