// Package google provides Google Cloud Speech-to-Text adapters for the
// transcription and diarization stages.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages/media"
)

// ErrUnsupportedEncoding is returned for containers the batch API cannot read
// when no converter is configured.
var ErrUnsupportedEncoding = errors.New("google speech: unsupported audio container")

// Config holds recognition settings. FFmpegBin converts containers the API
// cannot decode (mp3, m4a, ogg) to WAV before upload.
type Config struct {
	LanguageCode string
	FFmpegBin    string
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{LanguageCode: "en-US"}
}

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
}

type clientRecognizer struct {
	client *speech.Client
}

func (c clientRecognizer) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := c.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

type converter interface {
	ToWAV(ctx context.Context, inputPath, outPath string) error
}

// Adapter implements stages.Transcriber and stages.Diarizer.
type Adapter struct {
	recognizer recognizer
	converter  converter
	client     *speech.Client
	cfg        Config
}

// New creates a Google adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultConfig().LanguageCode
	}
	return &Adapter{
		recognizer: clientRecognizer{client: c},
		converter:  media.NewConverter(cfg.FFmpegBin),
		client:     c,
		cfg:        cfg,
	}, nil
}

// Close releases the gRPC connection.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Transcribe implements stages.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	req, err := a.request(ctx, audioPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.recognizer.Recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google recognize: %w", err)
	}
	return segmentsFromResponse(resp), nil
}

// Diarize implements stages.Diarizer.
func (a *Adapter) Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error) {
	req, err := a.request(ctx, audioPath, &speechpb.SpeakerDiarizationConfig{
		EnableSpeakerDiarization: true,
		MinSpeakerCount:          int32(minSpeakers),
		MaxSpeakerCount:          int32(maxSpeakers),
	})
	if err != nil {
		return nil, err
	}
	resp, err := a.recognizer.Recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google diarize: %w", err)
	}
	return turnsFromResponse(resp), nil
}

func (a *Adapter) request(ctx context.Context, audioPath string, diarization *speechpb.SpeakerDiarizationConfig) (*speechpb.LongRunningRecognizeRequest, error) {
	content, err := a.readAudio(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			LanguageCode:               a.cfg.LanguageCode,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
			DiarizationConfig:          diarization,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	}, nil
}

// readAudio returns bytes whose header tells the API the encoding. WAV and
// FLAC go as they are; anything else is converted to 16 kHz mono WAV.
func (a *Adapter) readAudio(ctx context.Context, audioPath string) ([]byte, error) {
	if headerEncoded(audioPath) {
		content, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, fmt.Errorf("read audio file: %w", err)
		}
		return content, nil
	}
	if a.converter == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, filepath.Ext(audioPath))
	}

	tempDir, err := os.MkdirTemp("", "voxnotes-google-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "input-16k-mono.wav")
	if err := a.converter.ToWAV(ctx, audioPath, wavPath); err != nil {
		return nil, fmt.Errorf("normalize audio: %w", err)
	}
	content, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	return content, nil
}

func headerEncoded(audioPath string) bool {
	switch strings.ToLower(filepath.Ext(audioPath)) {
	case ".wav", ".flac":
		return true
	default:
		return false
	}
}

// segmentsFromResponse turns each result's top alternative into a segment.
// Results without word offsets start where the previous one ended.
func segmentsFromResponse(resp *speechpb.LongRunningRecognizeResponse) []models.Segment {
	segments := []models.Segment{}
	var cursor float64
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start := cursor
		if words := alt.GetWords(); len(words) > 0 {
			start = seconds(words[0].GetStartTime())
		}
		end := seconds(r.GetResultEndTime())
		if end < start {
			end = start
		}

		segments = append(segments, models.Segment{Start: start, End: end, Text: text})
		cursor = end
	}
	return segments
}

// turnsFromResponse merges consecutive words of the same speaker into turns.
// With diarization enabled the last result carries every word with its tag.
func turnsFromResponse(resp *speechpb.LongRunningRecognizeResponse) []models.SpeakerTurn {
	results := resp.GetResults()
	turns := []models.SpeakerTurn{}
	if len(results) == 0 {
		return turns
	}
	last := results[len(results)-1]
	if len(last.GetAlternatives()) == 0 {
		return turns
	}

	for _, w := range last.GetAlternatives()[0].GetWords() {
		if w.GetSpeakerTag() == 0 {
			continue
		}
		speaker := SpeakerLabel(w.GetSpeakerTag())
		start, end := seconds(w.GetStartTime()), seconds(w.GetEndTime())

		if n := len(turns); n > 0 && turns[n-1].Speaker == speaker {
			turns[n-1].End = end
			continue
		}
		turns = append(turns, models.SpeakerTurn{Speaker: speaker, Start: start, End: end})
	}
	return turns
}

// SpeakerLabel formats a 1-based speaker tag as SPEAKER_00, SPEAKER_01, ...
func SpeakerLabel(tag int32) string {
	return fmt.Sprintf("SPEAKER_%02d", tag-1)
}

func seconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}
