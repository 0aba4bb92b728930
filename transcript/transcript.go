// Package transcript turns timed segments into the text artifacts of a job:
// the plain transcript, the subtitle file and speaker attribution.
package transcript

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jupark12/voxnotes/models"
)

// ErrMalformedSegment is returned for segments with negative or inverted time bounds.
var ErrMalformedSegment = errors.New("malformed segment")

// Validate checks the time bounds of every segment.
func Validate(segments []models.Segment) error {
	for i, seg := range segments {
		if math.IsNaN(seg.Start) || math.IsNaN(seg.End) || seg.Start < 0 || seg.End < seg.Start {
			return fmt.Errorf("%w: #%d [%v, %v]", ErrMalformedSegment, i+1, seg.Start, seg.End)
		}
	}
	return nil
}

// Render joins the trimmed segment texts with newlines, in order.
// An empty sequence renders to the empty string.
func Render(segments []models.Segment) (string, error) {
	if err := Validate(segments); err != nil {
		return "", err
	}

	lines := make([]string, len(segments))
	for i, seg := range segments {
		lines[i] = strings.TrimSpace(seg.Text)
	}
	return strings.Join(lines, "\n"), nil
}

// MergeSpeakers returns a copy of segments where each segment carries the
// speaker of the turn it overlaps most. Segments overlapping no turn stay
// unlabelled and segments that already have a label keep it.
func MergeSpeakers(segments []models.Segment, turns []models.SpeakerTurn) []models.Segment {
	merged := make([]models.Segment, len(segments))
	for i, seg := range segments {
		if speaker := bestSpeaker(seg, turns); speaker != "" {
			seg = seg.WithSpeaker(speaker)
		}
		merged[i] = seg
	}
	return merged
}

func bestSpeaker(seg models.Segment, turns []models.SpeakerTurn) string {
	best := ""
	bestOverlap := 0.0
	for _, turn := range turns {
		overlap := math.Min(seg.End, turn.End) - math.Max(seg.Start, turn.Start)
		if overlap > bestOverlap {
			best = turn.Speaker
			bestOverlap = overlap
		}
	}
	if best != "" {
		return best
	}

	// instantaneous segments take the turn containing them
	if seg.Start == seg.End {
		for _, turn := range turns {
			if seg.Start >= turn.Start && seg.Start <= turn.End {
				return turn.Speaker
			}
		}
	}
	return ""
}
