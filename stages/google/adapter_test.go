package google

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

func dur(secs float64) *durationpb.Duration {
	return durationpb.New(time.Duration(secs * float64(time.Second)))
}

func word(text string, start, end float64, tag int32) *speechpb.WordInfo {
	return &speechpb.WordInfo{Word: text, StartTime: dur(start), EndTime: dur(end), SpeakerTag: tag}
}

type fakeRecognizer struct {
	req  *speechpb.LongRunningRecognizeRequest
	resp *speechpb.LongRunningRecognizeResponse
	err  error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	if cfg := DefaultConfig(); cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
}

type fakeConverter struct {
	inputs []string
	out    []byte
	err    error
}

func (f *fakeConverter) ToWAV(ctx context.Context, inputPath, outPath string) error {
	f.inputs = append(f.inputs, inputPath)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, f.out, 0o644)
}

func TestHeaderEncoded(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"talk.wav", true},
		{"talk.FLAC", true},
		{"talk.mp3", false},
		{"talk.m4a", false},
		{"talk.ogg", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := headerEncoded(tt.path); got != tt.want {
				t.Errorf("headerEncoded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestDiarize_ConvertsMP3(t *testing.T) {
	fake := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{}}
	conv := &fakeConverter{out: []byte("RIFF-16k-mono")}
	a := &Adapter{recognizer: fake, converter: conv, cfg: DefaultConfig()}

	input := writeFile(t, "interview.mp3")
	if _, err := a.Diarize(context.Background(), input, 1, 2); err != nil {
		t.Fatalf("Diarize: %v", err)
	}

	if len(conv.inputs) != 1 || conv.inputs[0] != input {
		t.Errorf("converter inputs = %v, want [%s]", conv.inputs, input)
	}
	if fake.req == nil {
		t.Fatal("recognizer was not called")
	}
	if got := string(fake.req.GetAudio().GetContent()); got != "RIFF-16k-mono" {
		t.Errorf("audio content = %q, want converted wav", got)
	}
}

func TestTranscribe_WAVSkipsConversion(t *testing.T) {
	fake := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{}}
	conv := &fakeConverter{}
	a := &Adapter{recognizer: fake, converter: conv, cfg: DefaultConfig()}

	if _, err := a.Transcribe(context.Background(), writeFile(t, "talk.wav")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(conv.inputs) != 0 {
		t.Errorf("wav input was converted: %v", conv.inputs)
	}
}

func TestTranscribe_ConversionFails(t *testing.T) {
	boom := errors.New("ffmpeg exited 1")
	fake := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{}}
	a := &Adapter{recognizer: fake, converter: &fakeConverter{err: boom}, cfg: DefaultConfig()}

	if _, err := a.Transcribe(context.Background(), writeFile(t, "talk.ogg")); !errors.Is(err, boom) {
		t.Errorf("Transcribe error = %v, want wrapped conversion error", err)
	}
	if fake.req != nil {
		t.Error("recognizer called after conversion failure")
	}
}

func TestSegmentsFromResponse(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{
					Transcript: " Hello there.",
					Words:      []*speechpb.WordInfo{word("Hello", 0.5, 0.9, 0), word("there.", 0.9, 1.4, 0)},
				}},
				ResultEndTime: dur(1.5),
			},
			{Alternatives: nil, ResultEndTime: dur(2)},
			{
				Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: "Hi."}},
				ResultEndTime: dur(3),
			},
		},
	}

	got := segmentsFromResponse(resp)
	if len(got) != 2 {
		t.Fatalf("segments = %+v", got)
	}
	if got[0].Start != 0.5 || got[0].End != 1.5 || got[0].Text != "Hello there." {
		t.Errorf("first segment = %+v", got[0])
	}
	// no word offsets: starts where the previous result ended
	if got[1].Start != 1.5 || got[1].End != 3 || got[1].Text != "Hi." {
		t.Errorf("second segment = %+v", got[1])
	}
}

func TestTurnsFromResponse(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "ignored"}}},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Words: []*speechpb.WordInfo{
					word("Welcome", 0, 0.5, 1),
					word("back", 0.5, 1, 1),
					word("Thanks", 1.25, 1.75, 2),
					word("uh", 1.75, 1.875, 0),
					word("Sure", 2, 2.5, 1),
				},
			}}},
		},
	}

	got := turnsFromResponse(resp)
	if len(got) != 3 {
		t.Fatalf("turns = %+v", got)
	}
	if got[0].Speaker != "SPEAKER_00" || got[0].Start != 0 || got[0].End != 1 {
		t.Errorf("turn 0 = %+v", got[0])
	}
	if got[1].Speaker != "SPEAKER_01" || got[1].Start != 1.25 || got[1].End != 1.75 {
		t.Errorf("turn 1 = %+v", got[1])
	}
	if got[2].Speaker != "SPEAKER_00" {
		t.Errorf("turn 2 = %+v", got[2])
	}
}

func TestTurnsFromResponse_Empty(t *testing.T) {
	if got := turnsFromResponse(&speechpb.LongRunningRecognizeResponse{}); len(got) != 0 {
		t.Errorf("turns = %+v", got)
	}
}

func TestDiarize_SendsSpeakerRange(t *testing.T) {
	fake := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{}}
	a := &Adapter{recognizer: fake, cfg: Config{LanguageCode: "de-DE"}}

	if _, err := a.Diarize(context.Background(), writeFile(t, "talk.wav"), 1, 8); err != nil {
		t.Fatalf("Diarize: %v", err)
	}

	cfg := fake.req.GetConfig()
	if cfg.GetLanguageCode() != "de-DE" || !cfg.GetEnableWordTimeOffsets() {
		t.Errorf("config = %v", cfg)
	}
	d := cfg.GetDiarizationConfig()
	if !d.GetEnableSpeakerDiarization() || d.GetMinSpeakerCount() != 1 || d.GetMaxSpeakerCount() != 8 {
		t.Errorf("diarization config = %v", d)
	}
	if string(fake.req.GetAudio().GetContent()) != "RIFF" {
		t.Errorf("audio content not sent inline")
	}
}

func TestTranscribe_Errors(t *testing.T) {
	boom := errors.New("quota exceeded")
	a := &Adapter{recognizer: &fakeRecognizer{err: boom}, cfg: DefaultConfig()}

	if _, err := a.Transcribe(context.Background(), writeFile(t, "talk.wav")); !errors.Is(err, boom) {
		t.Errorf("Transcribe error = %v, want wrapped quota error", err)
	}
	// no converter configured
	if _, err := a.Transcribe(context.Background(), "talk.mp3"); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("Transcribe(mp3) error = %v", err)
	}
}

func TestSpeakerLabel(t *testing.T) {
	if got := SpeakerLabel(1); got != "SPEAKER_00" {
		t.Errorf("SpeakerLabel(1) = %s", got)
	}
	if got := SpeakerLabel(12); got != "SPEAKER_11" {
		t.Errorf("SpeakerLabel(12) = %s", got)
	}
}
