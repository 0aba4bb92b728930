package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWav is returned when Inspect is given anything but a valid WAV file.
var ErrNotWav = errors.New("not a valid WAV file")

// SupportedExtensions lists the accepted upload containers, lower case.
var SupportedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac"}

// IsSupported reports whether filename has an accepted audio extension,
// ignoring case.
func IsSupported(filename string) bool {
	name := strings.ToLower(filename)
	for _, ext := range SupportedExtensions {
		if hasExtension(name, ext) {
			return true
		}
	}
	return false
}

// Info describes an inspected audio file.
type Info struct {
	Format   audio.Format
	BitDepth int
	Duration time.Duration
}

// Inspect reads the header of a WAV file and computes its duration.
func Inspect(filename string) (Info, error) {
	if !isWavFile(filename) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotWav, filepath.Base(filename))
	}

	f, err := os.Open(filename)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%w: %s", ErrNotWav, filepath.Base(filename))
	}

	if err := decoder.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	bytesPerSec := int64(decoder.SampleRate) * int64(decoder.NumChans) * int64(decoder.BitDepth) / 8
	if bytesPerSec == 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrNotWav, filepath.Base(filename))
	}
	duration := time.Duration(int64(decoder.PCMSize) * int64(time.Second) / bytesPerSec)

	return Info{
		Format: audio.Format{
			NumChannels: int(decoder.NumChans),
			SampleRate:  int(decoder.SampleRate),
		},
		BitDepth: int(decoder.BitDepth),
		Duration: duration,
	}, nil
}

// Simple file type detection
func isWavFile(filename string) bool {
	return hasExtension(strings.ToLower(filename), ".wav")
}

func hasExtension(filename, ext string) bool {
	l := len(filename)
	return l >= len(ext) && filename[l-len(ext):] == ext
}
