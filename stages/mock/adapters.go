// Package mock provides deterministic stage adapters for running the
// service without cloud credentials.
package mock

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/transcript"
)

// DefaultSegments is the transcript returned for audio without a sidecar file.
var DefaultSegments = []models.Segment{
	{Start: 0.0, End: 2.3, Text: "Welcome to the show."},
	{Start: 2.3, End: 4.8, Text: "Thanks for having me."},
	{Start: 4.8, End: 9.1, Text: "Let's talk about what you are building this year."},
}

// DefaultTurns alternates two speakers over DefaultSegments.
var DefaultTurns = []models.SpeakerTurn{
	{Speaker: "SPEAKER_00", Start: 0.0, End: 2.3},
	{Speaker: "SPEAKER_01", Start: 2.3, End: 4.8},
	{Speaker: "SPEAKER_00", Start: 4.8, End: 9.1},
}

// Transcriber returns fixed segments. When "<audio path>.srt" exists its
// cues are returned instead.
type Transcriber struct {
	Segments []models.Segment
}

// NewTranscriber returns a transcriber serving DefaultSegments.
func NewTranscriber() *Transcriber {
	return &Transcriber{Segments: DefaultSegments}
}

// Transcribe implements stages.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(audioPath + ".srt")
	switch {
	case err == nil:
		defer f.Close()
		return transcript.ParseSRT(f)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	out := make([]models.Segment, len(t.Segments))
	copy(out, t.Segments)
	return out, nil
}

// Diarizer returns fixed speaker turns.
type Diarizer struct {
	Turns []models.SpeakerTurn
}

// NewDiarizer returns a diarizer serving DefaultTurns.
func NewDiarizer() *Diarizer {
	return &Diarizer{Turns: DefaultTurns}
}

// Diarize implements stages.Diarizer.
func (d *Diarizer) Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.SpeakerTurn, len(d.Turns))
	copy(out, d.Turns)
	return out, nil
}

// Summarizer keeps the first MaxSentences sentences of the transcript.
type Summarizer struct {
	MaxSentences int
}

// NewSummarizer returns a summarizer keeping two sentences.
func NewSummarizer() *Summarizer {
	return &Summarizer{MaxSentences: 2}
}

// Summarize implements stages.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fields := strings.Fields(text)
	var (
		out       []string
		sentences int
	)
	for _, f := range fields {
		out = append(out, f)
		if strings.HasSuffix(f, ".") || strings.HasSuffix(f, "?") || strings.HasSuffix(f, "!") {
			sentences++
			if sentences >= s.MaxSentences {
				break
			}
		}
	}
	return strings.Join(out, " "), nil
}

// Message is a mail captured by LogMailer.
type Message struct {
	To      string
	Subject string
	Body    string
}

// LogMailer logs messages instead of sending them and keeps them for inspection.
type LogMailer struct {
	mu   sync.Mutex
	sent []Message
}

// NewLogMailer creates an empty LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send implements stages.Mailer.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, Message{To: to, Subject: subject, Body: body})
	m.mu.Unlock()

	log.Info().
		Str("to", to).
		Str("subject", subject).
		Int("bodyChars", len(body)).
		Msg("Mail logged (log mailer)")
	return nil
}

// Sent returns a copy of the captured messages.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
