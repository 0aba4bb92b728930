package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
)

var (
	// ErrQueueFull is returned when the pending backlog is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned for state updates after the pipeline ended.
	ErrJobFinished = errors.New("job already finished")
)

// StageInterrupted marks jobs that were running when the process stopped.
const StageInterrupted = "interrupted"

// DefaultCapacity bounds the pending backlog when no capacity is given.
const DefaultCapacity = 256

// JobQueue manages the backlog of audio jobs and their bookkeeping
type JobQueue struct {
	mu             sync.RWMutex
	pendingJobs    []*models.Job
	processingJobs map[string]*models.Job
	completedJobs  map[string]*models.Job
	failedJobs     map[string]*models.Job
	jobsByID       map[string]*models.Job
	dataDir        string
	capacity       int
	ready          chan struct{}
	jobUpdateChan  chan models.JobUpdate
	metrics        *metrics.Metrics
}

// NewJobQueue creates a queue journaling jobs under dataDir
func NewJobQueue(dataDir string, capacity int, m *metrics.Metrics) (*JobQueue, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}

	return &JobQueue{
		pendingJobs:    make([]*models.Job, 0),
		processingJobs: make(map[string]*models.Job),
		completedJobs:  make(map[string]*models.Job),
		failedJobs:     make(map[string]*models.Job),
		jobsByID:       make(map[string]*models.Job),
		dataDir:        dataDir,
		capacity:       capacity,
		ready:          make(chan struct{}, 1),
		jobUpdateChan:  make(chan models.JobUpdate, 100),
		metrics:        m,
	}, nil
}

// EnqueueJob adds a new job to the back of the queue
func (q *JobQueue) EnqueueJob(job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobsByID[job.ID]; exists {
		return fmt.Errorf("job %s already enqueued", job.ID)
	}
	if len(q.pendingJobs) >= q.capacity {
		return ErrQueueFull
	}

	now := time.Now().UTC()
	job.Status = models.StatusPending
	job.State = models.StateQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	// Persist before publishing so a crash never loses an acknowledged job
	if err := q.persistJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	q.pendingJobs = append(q.pendingJobs, job)
	q.jobsByID[job.ID] = job
	q.metrics.SetQueueDepth(len(q.pendingJobs))
	q.signal()

	log.Info().
		Str("jobId", job.ID).
		Str("file", job.SourceFileName).
		Int("depth", len(q.pendingJobs)).
		Msg("Job enqueued")
	return nil
}

// DequeueJob blocks until a job is pending, then marks it as processing by workerID
func (q *JobQueue) DequeueJob(ctx context.Context, workerID string) (*models.Job, error) {
	for {
		if job, ok, err := q.tryDequeue(workerID); ok || err != nil {
			return job, err
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *JobQueue) tryDequeue(workerID string) (*models.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pendingJobs) == 0 {
		return nil, false, nil
	}

	// Get the next job from the queue (FIFO)
	job := q.pendingJobs[0]
	q.pendingJobs[0] = nil
	q.pendingJobs = q.pendingJobs[1:]

	// Wake another worker if more work is waiting
	if len(q.pendingJobs) > 0 {
		q.signal()
	}

	now := time.Now().UTC()
	job.Status = models.StatusProcessing
	job.StartedAt = now
	job.UpdatedAt = now
	job.ProcessingNode = workerID
	q.processingJobs[job.ID] = job
	q.metrics.SetQueueDepth(len(q.pendingJobs))

	if err := q.persistJob(job); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to journal job status")
	}
	q.publish(job)

	return copyJob(job), true, nil
}

// UpdateState records the pipeline state a processing job reached
func (q *JobQueue) UpdateState(jobID string, state models.JobState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.processingJobs[jobID]
	if !exists {
		return fmt.Errorf("%w in processing queue: %s", ErrJobNotFound, jobID)
	}
	if job.State.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, job.State)
	}

	job.State = state
	job.UpdatedAt = time.Now().UTC()
	q.publish(job)

	return q.persistJob(job)
}

// CompleteJob marks a job as completed. notifyErr is kept when the mail failed.
func (q *JobQueue) CompleteJob(jobID string, notifyErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.processingJobs[jobID]
	if !exists {
		return fmt.Errorf("%w in processing queue: %s", ErrJobNotFound, jobID)
	}

	now := time.Now().UTC()
	job.Status = models.StatusCompleted
	job.State = models.StateDone
	job.NotifyError = notifyErr
	job.CompletedAt = now
	job.UpdatedAt = now

	// Move from processing to completed
	delete(q.processingJobs, jobID)
	q.completedJobs[jobID] = job
	q.publish(job)

	return q.persistJob(job)
}

// FailJob marks a job as failed at stage
func (q *JobQueue) FailJob(jobID, stage, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.processingJobs[jobID]
	if !exists {
		return fmt.Errorf("%w in processing queue: %s", ErrJobNotFound, jobID)
	}

	q.markFailed(job, stage, errorMsg)
	delete(q.processingJobs, jobID)
	q.failedJobs[jobID] = job
	q.publish(job)

	return q.persistJob(job)
}

func (q *JobQueue) markFailed(job *models.Job, stage, errorMsg string) {
	now := time.Now().UTC()
	job.Status = models.StatusFailed
	job.State = models.StateDone
	job.FailedStage = stage
	job.ErrorMessage = errorMsg
	job.CompletedAt = now
	job.UpdatedAt = now
}

// GetJob returns a snapshot of the job with jobID
func (q *JobQueue) GetJob(jobID string) (models.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobsByID[jobID]
	if !exists {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return *job, nil
}

// Depth returns the number of jobs waiting for a worker
func (q *JobQueue) Depth() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pendingJobs)
}

// persistJob saves job data to disk
func (q *JobQueue) persistJob(job *models.Job) error {
	jobPath := filepath.Join(q.dataDir, job.ID+".json")

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	tmpPath := jobPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	if err := os.Rename(tmpPath, jobPath); err != nil {
		return fmt.Errorf("failed to replace job file: %w", err)
	}

	return nil
}

// LoadJobs loads all journaled jobs from disk. Pending jobs go back on the
// queue; jobs that were processing when the process stopped are failed.
func (q *JobQueue) LoadJobs() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var pending []*models.Job
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		jobPath := filepath.Join(q.dataDir, file.Name())
		data, err := os.ReadFile(jobPath)
		if err != nil {
			log.Warn().Err(err).Str("path", jobPath).Msg("Failed to read job file")
			continue
		}

		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Warn().Err(err).Str("path", jobPath).Msg("Failed to unmarshal job data")
			continue
		}

		// Add job to appropriate index based on status
		q.jobsByID[job.ID] = &job

		switch job.Status {
		case models.StatusPending:
			pending = append(pending, &job)
		case models.StatusProcessing:
			q.markFailed(&job, StageInterrupted, "service stopped while the job was running")
			q.failedJobs[job.ID] = &job
			if err := q.persistJob(&job); err != nil {
				log.Warn().Err(err).Str("jobId", job.ID).Msg("Failed to journal interrupted job")
			}
		case models.StatusCompleted:
			q.completedJobs[job.ID] = &job
		case models.StatusFailed:
			q.failedJobs[job.ID] = &job
		}
	}

	// Resume in submission order
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	q.pendingJobs = append(q.pendingJobs, pending...)
	q.metrics.SetQueueDepth(len(q.pendingJobs))
	if len(q.pendingJobs) > 0 {
		q.signal()
	}

	log.Info().
		Int("jobs", len(q.jobsByID)).
		Int("pending", len(q.pendingJobs)).
		Msg("Loaded jobs from disk")
	return nil
}

// GetPendingJobs returns snapshots of the pending jobs in queue order
func (q *JobQueue) GetPendingJobs() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]models.Job, len(q.pendingJobs))
	for i, job := range q.pendingJobs {
		jobs[i] = *job
	}
	return jobs
}

// GetProcessingJobs returns snapshots of the jobs being processed
func (q *JobQueue) GetProcessingJobs() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.processingJobs)
}

// GetCompletedJobs returns snapshots of the completed jobs
func (q *JobQueue) GetCompletedJobs() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.completedJobs)
}

// GetFailedJobs returns snapshots of the failed jobs
func (q *JobQueue) GetFailedJobs() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.failedJobs)
}

// GetAllJobs returns snapshots of all jobs
func (q *JobQueue) GetAllJobs() []models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.jobsByID)
}

// GetJobUpdateChannel returns the job update channel
func (q *JobQueue) GetJobUpdateChannel() <-chan models.JobUpdate {
	return q.jobUpdateChan
}

// signal wakes one waiting worker without blocking.
func (q *JobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// publish emits an update without blocking; slow consumers miss updates.
func (q *JobQueue) publish(job *models.Job) {
	select {
	case q.jobUpdateChan <- models.NewJobUpdate(job):
	default:
		log.Warn().Str("jobId", job.ID).Msg("Job update channel full, dropping update")
	}
}

func snapshot(jobs map[string]*models.Job) []models.Job {
	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyJob(job *models.Job) *models.Job {
	c := *job
	return &c
}
