package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jupark12/voxnotes/events"
	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/pipeline"
)

const publishTimeout = 10 * time.Second

// JobSource hands out jobs and records their terminal status.
type JobSource interface {
	DequeueJob(ctx context.Context, workerID string) (*models.Job, error)
	CompleteJob(jobID string, notifyErr string) error
	FailJob(jobID, stage, errorMsg string) error
}

// Runner executes the pipeline for one job.
type Runner interface {
	Run(ctx context.Context, job *models.Job) pipeline.Outcome
}

// Publisher emits job outcome events.
type Publisher interface {
	PublishOutcome(ctx context.Context, event events.JobEvent) error
}

// Worker represents a processing node that consumes jobs
type Worker struct {
	ID         string
	queue      JobSource
	runner     Runner
	publisher  Publisher
	metrics    *metrics.Metrics
	processing bool
	mu         sync.Mutex
}

// NewWorker creates a new worker instance
func NewWorker(id string, queue JobSource, runner Runner, publisher Publisher, m *metrics.Metrics) *Worker {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Worker{
		ID:        id,
		queue:     queue,
		runner:    runner,
		publisher: publisher,
		metrics:   m,
	}
}

// Processing reports whether the worker is running a job.
func (w *Worker) Processing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processing
}

// Run consumes jobs until ctx is cancelled. A job that was already dequeued
// runs to completion even after cancellation.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Str("workerId", w.ID).Msg("Worker starting")
	defer log.Info().Str("workerId", w.ID).Msg("Worker stopped")

	for {
		job, err := w.queue.DequeueJob(ctx, w.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("workerId", w.ID).Msg("Dequeue failed")
			continue
		}

		w.setProcessing(true)
		w.metrics.WorkerBusy()
		w.process(context.WithoutCancel(ctx), job)
		w.metrics.WorkerIdle()
		w.setProcessing(false)
	}
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	logger := log.With().Str("workerId", w.ID).Str("jobId", job.ID).Logger()
	logger.Info().Str("file", job.SourceFileName).Msg("Processing job")

	outcome := w.runner.Run(ctx, job)

	var err error
	if outcome.Failed() {
		err = w.queue.FailJob(job.ID, outcome.Failure.Stage, outcome.Failure.Err.Error())
		logger.Warn().Str("stage", outcome.Failure.Stage).Msg("Job failed")
	} else {
		notifyErr := ""
		if outcome.NotifyErr != nil {
			notifyErr = outcome.NotifyErr.Error()
		}
		err = w.queue.CompleteJob(job.ID, notifyErr)
		logger.Info().Str("outcome", outcome.Label()).Msg("Job completed")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record job status")
	}

	if w.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := w.publisher.PublishOutcome(pubCtx, events.NewJobEvent(job, outcome)); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish job event")
	}
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.processing = v
	w.mu.Unlock()
}

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewPool creates size workers named worker-1..worker-N.
func NewPool(size int, queue JobSource, runner Runner, publisher Publisher, m *metrics.Metrics) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be at least 1, got %d", size)
	}
	if queue == nil || runner == nil {
		return nil, errors.New("worker pool needs a queue and a runner")
	}

	p := &Pool{workers: make([]*Worker, size)}
	for i := range p.workers {
		p.workers[i] = NewWorker(fmt.Sprintf("worker-%d", i+1), queue, runner, publisher, m)
	}
	return p, nil
}

// Start launches every worker. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	log.Info().Int("workers", len(p.workers)).Msg("Worker pool started")
}

// Stop stops taking new jobs and waits for in-flight jobs to finish or for
// ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

// Busy returns the number of workers running a job.
func (p *Pool) Busy() int {
	n := 0
	for _, w := range p.workers {
		if w.Processing() {
			n++
		}
	}
	return n
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
