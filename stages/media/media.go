// Package media runs the external audio tools shared by the local and cloud
// adapters.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// DefaultFFmpegBin is used when no ffmpeg binary is configured.
const DefaultFFmpegBin = "ffmpeg"

// Result is the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandError reports a failed external command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with %d: %v", e.Command, e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Exec runs name through r and wraps a failure in a CommandError.
func Exec(ctx context.Context, r Runner, name string, args ...string) error {
	result, err := r.Run(ctx, name, args...)
	log.Debug().
		Str("command", name).
		Strs("args", args).
		Int("exitCode", result.ExitCode).
		Msg("Command finished")
	if err != nil {
		return &CommandError{Command: name, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}
	return nil
}

// FFmpegArgs converts any input ffmpeg can read to 16 kHz mono 16-bit PCM WAV.
func FFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// Converter normalizes audio files with ffmpeg.
type Converter struct {
	Bin    string
	Runner Runner
}

// NewConverter returns a converter for bin, defaulting to ffmpeg on PATH.
func NewConverter(bin string) *Converter {
	if bin == "" {
		bin = DefaultFFmpegBin
	}
	return &Converter{Bin: bin, Runner: ExecRunner{}}
}

// ToWAV writes a 16 kHz mono WAV copy of inputPath to outPath.
func (c *Converter) ToWAV(ctx context.Context, inputPath, outPath string) error {
	return Exec(ctx, c.Runner, c.Bin, FFmpegArgs(inputPath, outPath)...)
}
