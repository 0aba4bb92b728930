// Package pipeline runs one job through transcription, diarization,
// summarization, persistence and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jupark12/voxnotes/logging"
	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages"
	"github.com/jupark12/voxnotes/transcript"
)

// Stage names used in failures, logs and metrics.
const (
	StageTranscribe = "transcribe"
	StageDiarize    = "diarize"
	StageRender     = "render"
	StageSummarize  = "summarize"
	StagePersist    = "persist"
	StageNotify     = "notify"
)

// persistCheckTimeout bounds the lookup after a failed save.
const persistCheckTimeout = 10 * time.Second

// Speaker count search range passed to the diarizer.
const (
	MinSpeakers = 1
	MaxSpeakers = 8
)

// Timeouts bounds each adapter call. Zero means no limit.
type Timeouts struct {
	Transcribe time.Duration
	Diarize    time.Duration
	Summarize  time.Duration
	Persist    time.Duration
	Notify     time.Duration
}

// Dependencies are the stage adapters. They are built once at startup and
// shared by every job.
type Dependencies struct {
	Transcriber stages.Transcriber
	Diarizer    stages.Diarizer
	Summarizer  stages.Summarizer
	Store       stages.RecordStore
	Mailer      stages.Mailer
}

// Config holds orchestrator settings.
type Config struct {
	// TranscriptDir receives the per-job subtitle file. Empty disables it.
	TranscriptDir string
	Timeouts      Timeouts
	Metrics       *metrics.Metrics
}

// Observer is told about every state a job enters.
type Observer func(jobID string, state models.JobState)

// Orchestrator sequences the stage adapters for a job.
type Orchestrator struct {
	deps          Dependencies
	transcriptDir string
	timeouts      Timeouts
	metrics       *metrics.Metrics
	observer      Observer
	now           func() time.Time
}

// New validates deps and builds an orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case deps.Diarizer == nil:
		return nil, errors.New("pipeline: diarizer is required")
	case deps.Summarizer == nil:
		return nil, errors.New("pipeline: summarizer is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: record store is required")
	case deps.Mailer == nil:
		return nil, errors.New("pipeline: mailer is required")
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	return &Orchestrator{
		deps:          deps,
		transcriptDir: cfg.TranscriptDir,
		timeouts:      cfg.Timeouts,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetObserver registers the state change callback.
func (o *Orchestrator) SetObserver(observer Observer) {
	o.observer = observer
}

// Run executes every stage of job in order and returns the outcome.
// It never returns before the job is Done.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) Outcome {
	logger := logging.WithJob(job.ID)
	outcome := Outcome{JobID: job.ID}
	start := time.Now()

	o.enter(job.ID, models.StateStarted)
	logger.Info().Str("audioPath", job.AudioPath).Msg("Pipeline started")

	segments, failure := invoke(ctx, o, job.ID, StageTranscribe, o.timeouts.Transcribe,
		func(ctx context.Context) ([]models.Segment, error) {
			return o.deps.Transcriber.Transcribe(ctx, job.AudioPath)
		})
	if failure != nil {
		return o.fail(job.ID, outcome, failure)
	}
	o.enter(job.ID, models.StateTranscribed)
	logger.Info().Int("segments", len(segments)).Msg("Audio transcribed")

	turns, failure := invoke(ctx, o, job.ID, StageDiarize, o.timeouts.Diarize,
		func(ctx context.Context) ([]models.SpeakerTurn, error) {
			return o.deps.Diarizer.Diarize(ctx, job.AudioPath, MinSpeakers, MaxSpeakers)
		})
	if failure != nil {
		return o.fail(job.ID, outcome, failure)
	}
	segments = transcript.MergeSpeakers(segments, turns)
	o.enter(job.ID, models.StateDiarized)
	logger.Info().Int("turns", len(turns)).Msg("Speakers assigned")

	text, failure := invoke(ctx, o, job.ID, StageRender, 0,
		func(ctx context.Context) (string, error) {
			return o.render(job, segments)
		})
	if failure != nil {
		return o.fail(job.ID, outcome, failure)
	}

	summary, failure := invoke(ctx, o, job.ID, StageSummarize, o.timeouts.Summarize,
		func(ctx context.Context) (string, error) {
			return o.deps.Summarizer.Summarize(ctx, text)
		})
	if failure != nil {
		return o.fail(job.ID, outcome, failure)
	}
	o.enter(job.ID, models.StateSummarized)
	logger.Info().Int("summaryChars", len(summary)).Msg("Transcript summarized")

	record := models.JobRecord{
		ID:             job.ID,
		SourceFileName: job.SourceFileName,
		TranscriptText: text,
		SummaryText:    summary,
		CreatedAt:      o.now(),
	}
	_, failure = invoke(ctx, o, job.ID, StagePersist, o.timeouts.Persist,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Store.Save(ctx, record)
		})
	if failure != nil && !o.recordStored(ctx, record, failure) {
		return o.fail(job.ID, outcome, failure)
	}
	outcome.Record = &record
	o.enter(job.ID, models.StatePersisted)
	logger.Info().Msg("Record saved")

	// the record is durable from here on; mail failures only get reported
	subject, body := ComposeNotification(job, summary)
	_, failure = invoke(ctx, o, job.ID, StageNotify, o.timeouts.Notify,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Mailer.Send(ctx, job.RecipientEmail, subject, body)
		})
	if failure != nil {
		outcome.NotifyErr = &NotificationError{JobID: job.ID, To: job.RecipientEmail, Err: failure.Err}
		o.metrics.RecordNotificationFailed()
		logger.Error().Err(outcome.NotifyErr).Msg("Notification failed, record kept")
	} else {
		o.enter(job.ID, models.StateNotified)
		logger.Info().Str("to", job.RecipientEmail).Msg("Notification sent")
	}

	o.enter(job.ID, models.StateDone)
	o.metrics.RecordFinished(outcome.Label())
	logger.Info().
		Str("outcome", outcome.Label()).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline finished")
	return outcome
}

// render writes the subtitle artifact and returns the plain transcript.
func (o *Orchestrator) render(job *models.Job, segments []models.Segment) (string, error) {
	text, err := transcript.Render(segments)
	if err != nil {
		return "", err
	}
	if o.transcriptDir != "" {
		path := transcript.SRTPath(o.transcriptDir, job.AudioPath)
		if err := transcript.WriteSRT(path, segments); err != nil {
			return "", err
		}
		logger := logging.WithJob(job.ID)
		logger.Debug().Str("path", path).Msg("Subtitles written")
	}
	return text, nil
}

// recordStored reports whether a save that returned an error still left
// record in the store, e.g. when the deadline fired after the commit. A
// duplicate key means some other record owns the id.
func (o *Orchestrator) recordStored(ctx context.Context, record models.JobRecord, failure *StageError) bool {
	if errors.Is(failure.Err, stages.ErrDuplicateRecord) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistCheckTimeout)
	defer cancel()
	stored, err := o.deps.Store.Get(ctx, record.ID)
	if err != nil || stored.SourceFileName != record.SourceFileName ||
		stored.TranscriptText != record.TranscriptText || stored.SummaryText != record.SummaryText {
		return false
	}

	logger := logging.WithStage(record.ID, StagePersist)
	logger.Warn().Err(failure.Err).Msg("Save reported an error but the record is stored")
	return true
}

func (o *Orchestrator) fail(jobID string, outcome Outcome, failure *StageError) Outcome {
	outcome.Failure = failure
	o.enter(jobID, models.StateFailed)
	o.enter(jobID, models.StateDone)
	o.metrics.RecordFinished(outcome.Label())

	logger := logging.WithStage(jobID, failure.Stage)
	logger.Error().
		Err(failure.Err).
		Msg("Pipeline failed")
	return outcome
}

func (o *Orchestrator) enter(jobID string, state models.JobState) {
	if o.observer != nil {
		o.observer(jobID, state)
	}
}

// invoke runs one stage under its timeout and turns any error or panic into
// a StageError.
func invoke[T any](
	ctx context.Context,
	o *Orchestrator,
	jobID, stage string,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (result T, failure *StageError) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			failure = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
		var err error
		if failure != nil {
			err = failure.Err
		}
		o.metrics.RecordStage(stage, err, time.Since(start).Seconds())
		logger := logging.WithStage(jobID, stage)
		logger.Debug().
			Dur("duration", time.Since(start)).
			Bool("ok", err == nil).
			Msg("Stage finished")
	}()

	result, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, &StageError{Stage: stage, Err: err}
	}
	return result, nil
}
