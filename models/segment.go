package models

// Segment is a time-bounded span of transcribed speech. Offsets are in seconds.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Before reports whether s starts earlier than other, breaking ties on end offset.
func (s Segment) Before(other Segment) bool {
	if s.Start != other.Start {
		return s.Start < other.Start
	}
	return s.End < other.End
}

// WithSpeaker returns a copy labelled with speaker. The first label wins.
func (s Segment) WithSpeaker(speaker string) Segment {
	if s.Speaker == "" {
		s.Speaker = speaker
	}
	return s
}

// SpeakerTurn is one diarization interval attributed to a speaker
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}
