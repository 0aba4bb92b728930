// Package whispercpp transcribes audio with a local whisper.cpp binary.
// Input is normalized with ffmpeg to 16 kHz mono PCM first.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages/media"
	"github.com/jupark12/voxnotes/transcript"
)

// Config selects the binaries and model.
type Config struct {
	WhisperBin string
	FFmpegBin  string
	ModelPath  string
	Language   string
}

// Transcriber runs ffmpeg then whisper.cpp with SRT output and parses the cues.
type Transcriber struct {
	cfg    Config
	runner media.Runner
}

// New builds a transcriber. Binary names default to ffmpeg and whisper-cli.
func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("whispercpp: model path is required")
	}
	if cfg.WhisperBin == "" {
		cfg.WhisperBin = "whisper-cli"
	}
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = media.DefaultFFmpegBin
	}
	return &Transcriber{cfg: cfg, runner: media.ExecRunner{}}, nil
}

// Transcribe implements stages.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	tempDir, err := os.MkdirTemp("", "voxnotes-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "input-16k-mono.wav")
	converter := &media.Converter{Bin: t.cfg.FFmpegBin, Runner: t.runner}
	if err := converter.ToWAV(ctx, audioPath, wavPath); err != nil {
		return nil, fmt.Errorf("normalize audio: %w", err)
	}

	outBase := filepath.Join(tempDir, "transcript")
	if err := media.Exec(ctx, t.runner, t.cfg.WhisperBin, buildWhisperArgs(t.cfg.ModelPath, wavPath, outBase, t.cfg.Language)...); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	f, err := os.Open(outBase + ".srt")
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp completed but subtitles are missing: %w", err)
	}
	defer f.Close()

	segments, err := transcript.ParseSRT(f)
	if err != nil {
		return nil, fmt.Errorf("parse whisper.cpp output: %w", err)
	}
	return segments, nil
}

func buildWhisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-osrt",
	}
	if lang := strings.TrimSpace(strings.ToLower(language)); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	return args
}
