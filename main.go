package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jupark12/voxnotes/config"
	"github.com/jupark12/voxnotes/dispatch"
	"github.com/jupark12/voxnotes/events"
	"github.com/jupark12/voxnotes/logging"
	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/pipeline"
	"github.com/jupark12/voxnotes/queue"
	"github.com/jupark12/voxnotes/server"
	"github.com/jupark12/voxnotes/stages"
	"github.com/jupark12/voxnotes/stages/google"
	"github.com/jupark12/voxnotes/stages/mock"
	"github.com/jupark12/voxnotes/stages/openai"
	"github.com/jupark12/voxnotes/stages/smtp"
	"github.com/jupark12/voxnotes/stages/whispercpp"
	"github.com/jupark12/voxnotes/store"
	"github.com/jupark12/voxnotes/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env file is fine; the environment wins either way
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("VoxNotes stopped with an error")
	}
}

func run(cfg config.Config) error {
	ctx := context.Background()
	m := metrics.DefaultMetrics

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	deps, stageClosers, err := buildStages(ctx, cfg)
	closers = append(closers, stageClosers...)
	if err != nil {
		return err
	}

	records, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)
	deps.Store = records

	// Initialize the job queue and pick up whatever the last run left behind
	jobQueue, err := queue.NewJobQueue(cfg.DataDir, cfg.QueueCapacity, m)
	if err != nil {
		return err
	}
	if err := jobQueue.LoadJobs(); err != nil {
		log.Warn().Err(err).Msg("Failed to load existing jobs")
	}

	orchestrator, err := pipeline.New(deps, pipeline.Config{
		TranscriptDir: cfg.TranscriptDir,
		Timeouts:      pipeline.Timeouts(cfg.Timeouts),
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	orchestrator.SetObserver(func(jobID string, state models.JobState) {
		if err := jobQueue.UpdateState(jobID, state); err != nil {
			log.Debug().Err(err).Str("jobId", jobID).Msg("State update not recorded")
		}
	})

	publisher := events.New(&events.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Enabled: cfg.Kafka.Enabled,
	}, m)
	closers = append(closers, func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	})

	pool, err := worker.NewPool(cfg.Workers, jobQueue, orchestrator, publisher, m)
	if err != nil {
		return err
	}
	pool.Start(ctx)

	dispatcher, err := dispatch.New(dispatch.Config{
		UploadDir:        cfg.UploadDir,
		DefaultRecipient: cfg.DefaultRecipient,
		Metrics:          m,
	}, jobQueue)
	if err != nil {
		return err
	}

	srv := server.NewServer(server.Config{
		HTTPAddr:       cfg.HTTPAddr,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Gatherer:       prometheus.DefaultGatherer,
	}, jobQueue, dispatcher, records)
	if err := srv.Start(); err != nil {
		return err
	}

	var health *server.HealthServer
	if cfg.GRPCHealthAddr != "" {
		health = server.NewHealthServer(cfg.GRPCHealthAddr)
		if err := health.Start(); err != nil {
			return err
		}
	}

	log.Info().
		Int("workers", cfg.Workers).
		Str("transcriber", cfg.Transcriber).
		Str("diarizer", cfg.Diarizer).
		Str("summarizer", cfg.Summarizer).
		Str("mailer", cfg.Mailer).
		Str("store", cfg.Store).
		Msg("VoxNotes started")

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Workers still busy at shutdown; their jobs resume as interrupted on restart")
	}
	return nil
}

// buildStages picks the stage adapters named in cfg. The returned closers
// run even when an error is returned.
func buildStages(ctx context.Context, cfg config.Config) (pipeline.Dependencies, []func(), error) {
	var (
		deps    pipeline.Dependencies
		closers []func()
		speech  *google.Adapter
	)

	googleAdapter := func() (*google.Adapter, error) {
		if speech != nil {
			return speech, nil
		}
		a, err := google.New(ctx, google.Config{
			LanguageCode: cfg.GoogleLanguageCode,
			FFmpegBin:    cfg.FFmpegBin,
		})
		if err != nil {
			return nil, err
		}
		speech = a
		closers = append(closers, func() {
			if err := a.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close speech client")
			}
		})
		return a, nil
	}

	openaiCfg := openai.Config{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		TranscribeModel: cfg.OpenAIModelTranscribe,
		SummaryModel:    cfg.OpenAIModelSummary,
	}

	switch cfg.Transcriber {
	case "mock":
		deps.Transcriber = mock.NewTranscriber()
	case "openai":
		t, err := openai.NewTranscriber(openaiCfg)
		if err != nil {
			return deps, closers, err
		}
		deps.Transcriber = t
	case "google":
		a, err := googleAdapter()
		if err != nil {
			return deps, closers, err
		}
		deps.Transcriber = a
	case "whispercpp":
		t, err := whispercpp.New(whispercpp.Config{
			WhisperBin: cfg.WhisperBin,
			FFmpegBin:  cfg.FFmpegBin,
			ModelPath:  cfg.WhisperModel,
		})
		if err != nil {
			return deps, closers, err
		}
		deps.Transcriber = t
	}

	switch cfg.Diarizer {
	case "mock":
		deps.Diarizer = mock.NewDiarizer()
	case "google":
		a, err := googleAdapter()
		if err != nil {
			return deps, closers, err
		}
		deps.Diarizer = a
	}

	switch cfg.Summarizer {
	case "mock":
		deps.Summarizer = mock.NewSummarizer()
	case "openai":
		s, err := openai.NewSummarizer(openaiCfg)
		if err != nil {
			return deps, closers, err
		}
		deps.Summarizer = s
	}

	switch cfg.Mailer {
	case "log":
		deps.Mailer = mock.NewLogMailer()
	case "smtp":
		mailer, err := smtp.New(smtp.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.User,
			Password: cfg.Email.Password,
			Sender:   cfg.Email.Sender,
			Timeout:  cfg.Timeouts.Notify,
		})
		if err != nil {
			return deps, closers, err
		}
		deps.Mailer = mailer
	}

	return deps, closers, nil
}

func buildStore(ctx context.Context, cfg config.Config) (stages.RecordStore, func(), error) {
	switch cfg.Store {
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "file":
		s, err := store.NewFileStore(filepath.Join(cfg.DataDir, "notes"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
