// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings.
type Config struct {
	HTTPAddr       string
	GRPCHealthAddr string
	DataDir        string
	UploadDir      string
	TranscriptDir  string
	Workers        int
	QueueCapacity  int
	MaxUploadBytes int64

	DefaultRecipient string

	LogLevel  string
	LogFormat string

	Transcriber string
	Diarizer    string
	Summarizer  string
	Mailer      string
	Store       string

	DatabaseURL string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModelTranscribe string
	OpenAIModelSummary    string

	GoogleLanguageCode string

	WhisperBin   string
	WhisperModel string
	FFmpegBin    string

	Email EmailConfig
	Kafka KafkaConfig

	Timeouts TimeoutConfig
}

// EmailConfig holds SMTP relay settings.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
}

// KafkaConfig holds outcome event settings.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// TimeoutConfig bounds each pipeline stage. Zero disables the limit.
type TimeoutConfig struct {
	Transcribe time.Duration
	Diarize    time.Duration
	Summarize  time.Duration
	Persist    time.Duration
	Notify     time.Duration
}

var choices = map[string][]string{
	"TRANSCRIBER": {"mock", "openai", "google", "whispercpp"},
	"DIARIZER":    {"mock", "google"},
	"SUMMARIZER":  {"mock", "openai"},
	"MAILER":      {"log", "smtp"},
	"STORE":       {"memory", "file", "postgres"},
	"LOG_FORMAT":  {"json", "console"},
}

// DefaultRecipient receives notes for uploads that name no email.
const DefaultRecipient = "notes@voxnotes.local"

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:              envOrDefault("HTTP_ADDR", ":8080"),
		GRPCHealthAddr:        os.Getenv("GRPC_HEALTH_ADDR"),
		DataDir:               envOrDefault("DATA_DIR", ".data"),
		UploadDir:             envOrDefault("UPLOAD_DIR", "audio"),
		TranscriptDir:         envOrDefault("TRANSCRIPT_DIR", "transcripts"),
		DefaultRecipient:      envOrDefault("DEFAULT_RECIPIENT", DefaultRecipient),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		LogFormat:             envOrDefault("LOG_FORMAT", "json"),
		Transcriber:           envOrDefault("TRANSCRIBER", "mock"),
		Diarizer:              envOrDefault("DIARIZER", "mock"),
		Summarizer:            envOrDefault("SUMMARIZER", "mock"),
		Mailer:                envOrDefault("MAILER", "log"),
		Store:                 envOrDefault("STORE", "memory"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:         envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModelTranscribe: envOrDefault("OPENAI_MODEL_TRANSCRIBE", "whisper-1"),
		OpenAIModelSummary:    envOrDefault("OPENAI_MODEL_SUMMARY", "gpt-4o-mini"),
		GoogleLanguageCode:    envOrDefault("GOOGLE_LANGUAGE_CODE", "en-US"),
		WhisperBin:            envOrDefault("WHISPER_BIN", "whisper-cli"),
		WhisperModel:          os.Getenv("WHISPER_MODEL"),
		FFmpegBin:             envOrDefault("FFMPEG_BIN", "ffmpeg"),
		Email: EmailConfig{
			Host:     os.Getenv("EMAIL_HOST"),
			User:     os.Getenv("EMAIL_USER"),
			Password: os.Getenv("EMAIL_PASS"),
			Sender:   os.Getenv("EMAIL_SENDER"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOrDefault("KAFKA_TOPIC", "voxnotes.jobs"),
		},
	}

	var err error
	if cfg.Workers, err = parseIntEnv("WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.Workers < 1 {
		return Config{}, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.QueueCapacity, err = parseIntEnv("QUEUE_CAPACITY", 256); err != nil {
		return Config{}, err
	}
	if cfg.Email.Port, err = parseIntEnv("EMAIL_PORT", 587); err != nil {
		return Config{}, err
	}

	maxUploadMB, err := parseIntEnv("MAX_UPLOAD_MB", 100)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) * 1024 * 1024

	if cfg.Kafka.Enabled, err = parseBoolEnv("KAFKA_ENABLED", false); err != nil {
		return Config{}, err
	}

	timeouts := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"TIMEOUT_TRANSCRIBE", &cfg.Timeouts.Transcribe, 30 * time.Minute},
		{"TIMEOUT_DIARIZE", &cfg.Timeouts.Diarize, 30 * time.Minute},
		{"TIMEOUT_SUMMARIZE", &cfg.Timeouts.Summarize, 10 * time.Minute},
		{"TIMEOUT_PERSIST", &cfg.Timeouts.Persist, 30 * time.Second},
		{"TIMEOUT_NOTIFY", &cfg.Timeouts.Notify, time.Minute},
	}
	for _, to := range timeouts {
		if *to.dst, err = parseDurationEnv(to.key, to.def); err != nil {
			return Config{}, err
		}
	}

	selected := map[string]string{
		"TRANSCRIBER": cfg.Transcriber,
		"DIARIZER":    cfg.Diarizer,
		"SUMMARIZER":  cfg.Summarizer,
		"MAILER":      cfg.Mailer,
		"STORE":       cfg.Store,
		"LOG_FORMAT":  cfg.LogFormat,
	}
	for key, value := range selected {
		if !contains(choices[key], value) {
			return Config{}, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(choices[key], "|"), value)
		}
	}

	if cfg.Store == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when STORE=postgres")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// parseDurationEnv accepts Go durations ("90s", "5m") or plain seconds.
func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if secs, convErr := strconv.Atoi(value); convErr == nil {
		d, err = time.Duration(secs)*time.Second, nil
	}
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
