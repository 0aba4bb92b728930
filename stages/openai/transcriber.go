package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/jupark12/voxnotes/models"
)

// Transcriber calls /audio/transcriptions with verbose_json output to get
// timed segments.
type Transcriber struct {
	client *client
	model  string
}

// NewTranscriber builds a transcription adapter.
func NewTranscriber(cfg Config) (*Transcriber, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.TranscribeModel
	if model == "" {
		model = defaultTranscribeModel
	}
	return &Transcriber{client: c, model: model}, nil
}

type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements stages.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if err := writer.WriteField("model", t.model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("write format field: %w", err)
	}
	if err := writer.WriteField("timestamp_granularities[]", "segment"); err != nil {
		return nil, fmt.Errorf("write granularity field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var payload verboseTranscription
	if err := t.client.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), body, &payload); err != nil {
		return nil, err
	}
	return toSegments(payload), nil
}

func toSegments(payload verboseTranscription) []models.Segment {
	if len(payload.Segments) == 0 {
		text := strings.TrimSpace(payload.Text)
		if text == "" {
			return []models.Segment{}
		}
		// models without segment output still return the full text
		return []models.Segment{{Start: 0, End: payload.Duration, Text: text}}
	}

	segments := make([]models.Segment, 0, len(payload.Segments))
	for _, s := range payload.Segments {
		segments = append(segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return segments
}
