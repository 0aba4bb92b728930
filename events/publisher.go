// Package events publishes job outcome events.
package events

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/pipeline"
)

const dialTimeout = 10 * time.Second

// Event types.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// JobEvent is the payload written for every job that reached Done.
type JobEvent struct {
	EventType      string    `json:"eventType"`
	JobID          string    `json:"jobId"`
	SourceFileName string    `json:"sourceFileName"`
	Stage          string    `json:"stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	NotifyError    string    `json:"notifyError,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewJobEvent builds the event for a finished pipeline run.
func NewJobEvent(job *models.Job, outcome pipeline.Outcome) JobEvent {
	event := JobEvent{
		EventType:      EventJobCompleted,
		JobID:          job.ID,
		SourceFileName: job.SourceFileName,
		Timestamp:      time.Now().UTC(),
	}
	if outcome.Failure != nil {
		event.EventType = EventJobFailed
		event.Stage = outcome.Failure.Stage
		event.Error = outcome.Failure.Err.Error()
	}
	if outcome.NotifyErr != nil {
		event.NotifyError = outcome.NotifyErr.Error()
	}
	return event
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher writes job events to a Kafka topic, or only logs them when
// Kafka is disabled.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *metrics.Metrics
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list selects log-only mode.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: m}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialContext, DialTimeout: dialTimeout},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writer:  writer,
		topic:   cfg.Topic,
		enabled: true,
		metrics: m,
	}
}

// Enabled reports whether events go to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishOutcome writes event keyed by its job id. Errors are returned for
// logging only; they never change the job outcome.
func (p *Publisher) PublishOutcome(ctx context.Context, event JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("jobId", event.JobID).Msg("Failed to marshal event")
		p.metrics.RecordEventPublish(event.EventType, err)
		return err
	}

	log.Debug().
		Str("topic", p.topic).
		Str("jobId", event.JobID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordEventPublish(event.EventType, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", p.topic).
			Str("jobId", event.JobID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordEventPublish(event.EventType, err)
		return err
	}

	p.metrics.RecordEventPublish(event.EventType, nil)
	return nil
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
