package transcript

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jupark12/voxnotes/models"
)

// FormatTimestamp renders seconds as HH:MM:SS,mmm, truncating every field.
func FormatTimestamp(seconds float64) string {
	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	secs := int(math.Mod(seconds, 60))
	millis := int(math.Mod(seconds, 1) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// FormatSRT serializes segments as numbered subtitle cues.
func FormatSRT(segments []models.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start),
			FormatTimestamp(seg.End),
			strings.TrimSpace(seg.Text),
		)
	}
	return b.String()
}

// WriteSRT writes the subtitle artifact for segments to path.
func WriteSRT(path string, segments []models.Segment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create subtitle directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(FormatSRT(segments)), 0o644); err != nil {
		return fmt.Errorf("write subtitle file: %w", err)
	}
	return nil
}

// SRTPath derives the subtitle path for an audio file inside dir.
func SRTPath(dir, audioPath string) string {
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "transcript"
	}
	return filepath.Join(dir, stem+".srt")
}

// ParseSRT reads numbered subtitle cues back into segments.
func ParseSRT(r io.Reader) ([]models.Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		segments []models.Segment
		block    []string
		lineNo   int
	)

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		seg, err := parseCue(block)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		segments = append(segments, seg)
		block = block[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subtitles: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segments, nil
}

func parseCue(block []string) (models.Segment, error) {
	// the cue number is optional in practice
	timing := block[0]
	text := block[1:]
	if !strings.Contains(timing, "-->") {
		if len(block) < 2 {
			return models.Segment{}, fmt.Errorf("cue without timing: %q", block[0])
		}
		timing = block[1]
		text = block[2:]
	}

	parts := strings.Split(timing, "-->")
	if len(parts) != 2 {
		return models.Segment{}, fmt.Errorf("bad timing line: %q", timing)
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return models.Segment{}, err
	}
	end, err := parseTimestamp(parts[1])
	if err != nil {
		return models.Segment{}, err
	}

	lines := make([]string, 0, len(text))
	for _, l := range text {
		lines = append(lines, strings.TrimSpace(l))
	}
	return models.Segment{Start: start, End: end, Text: strings.Join(lines, " ")}, nil
}

func parseTimestamp(raw string) (float64, error) {
	ts := strings.TrimSpace(raw)
	ts = strings.Replace(ts, ".", ",", 1)

	clock, millisPart, ok := strings.Cut(ts, ",")
	if !ok {
		return 0, fmt.Errorf("bad timestamp: %q", raw)
	}
	fields := strings.Split(clock, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("bad timestamp: %q", raw)
	}

	var total int64
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q: %w", raw, err)
		}
		total = total*60 + n
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q: %w", raw, err)
	}
	return float64(total*1000+millis) / 1000, nil
}
