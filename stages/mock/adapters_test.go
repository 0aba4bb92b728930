package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTranscriber_Defaults(t *testing.T) {
	tr := NewTranscriber()
	got, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "talk.mp3"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(got) != len(DefaultSegments) {
		t.Fatalf("segments = %d, want %d", len(got), len(DefaultSegments))
	}

	got[0].Text = "changed"
	if DefaultSegments[0].Text == "changed" {
		t.Error("Transcribe leaked its backing slice")
	}
}

func TestTranscriber_Sidecar(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "talk.mp3")
	sidecar := "1\n00:00:01,000 --> 00:00:02,000\nFrom the sidecar.\n"
	if err := os.WriteFile(audio+".srt", []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewTranscriber().Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(got) != 1 || got[0].Text != "From the sidecar." || got[0].Start != 1 {
		t.Errorf("segments = %+v", got)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewTranscriber().Transcribe(ctx, "a.wav"); err == nil {
		t.Error("transcriber ignored cancellation")
	}
	if _, err := NewDiarizer().Diarize(ctx, "a.wav", 1, 8); err == nil {
		t.Error("diarizer ignored cancellation")
	}
	if _, err := NewSummarizer().Summarize(ctx, "text"); err == nil {
		t.Error("summarizer ignored cancellation")
	}
	if err := NewLogMailer().Send(ctx, "a@b.c", "s", "b"); err == nil {
		t.Error("mailer ignored cancellation")
	}
}

func TestSummarizer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", ""},
		{"short", "Only one.", "Only one."},
		{"truncates", "First one.\nSecond one? Third one!", "First one. Second one?"},
		{"no punctuation", "just words here", "just words here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSummarizer().Summarize(context.Background(), tt.text)
			if err != nil || got != tt.want {
				t.Errorf("Summarize(%q) = %q, %v; want %q", tt.text, got, err, tt.want)
			}
		})
	}
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer()
	if err := m.Send(context.Background(), "ops@example.com", "subject", "body"); err != nil {
		t.Fatal(err)
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0].To != "ops@example.com" || sent[0].Subject != "subject" {
		t.Errorf("sent = %+v", sent)
	}
}
