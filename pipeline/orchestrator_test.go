package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jupark12/voxnotes/logging"
	"github.com/jupark12/voxnotes/metrics"
	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages"
	"github.com/jupark12/voxnotes/store"
)

type sentMail struct {
	to, subject, body string
}

// recordingMailer captures messages and optionally fails.
type recordingMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type fixture struct {
	deps   Dependencies
	store  *store.MemoryStore
	mailer *recordingMailer
	states []models.JobState

	diarizeMin, diarizeMax int
	summarizeInput         string
}

func newFixture() *fixture {
	f := &fixture{
		store:  store.NewMemoryStore(),
		mailer: &recordingMailer{},
	}
	f.deps = Dependencies{
		Transcriber: stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
			return []models.Segment{
				{Start: 0.0, End: 2.0, Text: "hello"},
				{Start: 2.0, End: 4.0, Text: "world"},
			}, nil
		}),
		Diarizer: stages.DiarizerFunc(func(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error) {
			f.diarizeMin, f.diarizeMax = minSpeakers, maxSpeakers
			return []models.SpeakerTurn{{Speaker: "SPEAKER_00", Start: 0, End: 4}}, nil
		}),
		Summarizer: stages.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
			f.summarizeInput = text
			return "Brief hello world exchange.", nil
		}),
		Store:  f.store,
		Mailer: f.mailer,
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	o, err := New(f.deps, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.SetObserver(func(jobID string, state models.JobState) {
		f.states = append(f.states, state)
	})
	return o
}

func testJob() *models.Job {
	return &models.Job{
		ID:               "job-123",
		OriginalFileName: "interview.mp3",
		SourceFileName:   "job-123_interview.mp3",
		AudioPath:        "/uploads/job-123_interview.mp3",
		RecipientEmail:   "a@example.com",
	}
}

func TestRun_InterviewScenario(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()
	o := f.orchestrator(t, Config{TranscriptDir: dir})

	outcome := o.Run(context.Background(), testJob())

	if !outcome.Succeeded() || !outcome.Notified() {
		t.Fatalf("outcome = %+v, want full success", outcome)
	}

	rec, err := f.store.Get(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if !strings.Contains(rec.SourceFileName, "interview.mp3") {
		t.Errorf("source file name = %q", rec.SourceFileName)
	}
	if rec.TranscriptText != "hello\nworld" {
		t.Errorf("transcript = %q, want %q", rec.TranscriptText, "hello\nworld")
	}
	if rec.SummaryText != "Brief hello world exchange." {
		t.Errorf("summary = %q", rec.SummaryText)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created at not set")
	}

	if f.diarizeMin != 1 || f.diarizeMax != 8 {
		t.Errorf("diarize range = [%d, %d], want [1, 8]", f.diarizeMin, f.diarizeMax)
	}
	if f.summarizeInput != "hello\nworld" {
		t.Errorf("summarizer input = %q", f.summarizeInput)
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(f.mailer.sent))
	}
	mail := f.mailer.sent[0]
	if mail.to != "a@example.com" {
		t.Errorf("mail to = %q", mail.to)
	}
	if !strings.Contains(mail.body, "Brief hello world exchange.") {
		t.Errorf("mail body missing summary: %q", mail.body)
	}

	srt, err := os.ReadFile(filepath.Join(dir, "job-123_interview.srt"))
	if err != nil {
		t.Fatalf("subtitle artifact missing: %v", err)
	}
	if !strings.HasPrefix(string(srt), "1\n00:00:00,000 --> 00:00:02,000\nhello\n\n") {
		t.Errorf("subtitle content = %q", srt)
	}

	want := []models.JobState{
		models.StateStarted,
		models.StateTranscribed,
		models.StateDiarized,
		models.StateSummarized,
		models.StatePersisted,
		models.StateNotified,
		models.StateDone,
	}
	if !reflect.DeepEqual(f.states, want) {
		t.Errorf("states = %v, want %v", f.states, want)
	}
}

func TestRun_StageFailuresBeforePersistence(t *testing.T) {
	boom := errors.New("engine unavailable")

	tests := []struct {
		name   string
		breaks func(f *fixture)
		stage  string
	}{
		{
			name: "transcribe",
			breaks: func(f *fixture) {
				f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
					return nil, boom
				})
			},
			stage: StageTranscribe,
		},
		{
			name: "diarize",
			breaks: func(f *fixture) {
				f.deps.Diarizer = stages.DiarizerFunc(func(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]models.SpeakerTurn, error) {
					return nil, boom
				})
			},
			stage: StageDiarize,
		},
		{
			name: "summarize",
			breaks: func(f *fixture) {
				f.deps.Summarizer = stages.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
					return "", boom
				})
			},
			stage: StageSummarize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.breaks(f)
			o := f.orchestrator(t, Config{})

			outcome := o.Run(context.Background(), testJob())

			if outcome.Succeeded() {
				t.Fatal("expected failure")
			}
			if outcome.Failure.Stage != tt.stage {
				t.Errorf("failed stage = %q, want %q", outcome.Failure.Stage, tt.stage)
			}
			if !errors.Is(outcome.Failure, boom) {
				t.Errorf("failure does not wrap cause: %v", outcome.Failure)
			}
			if f.store.Len() != 0 {
				t.Error("record persisted after pre-persistence failure")
			}
			if len(f.mailer.sent) != 0 {
				t.Error("mail sent after failure")
			}

			last := f.states[len(f.states)-2:]
			if last[0] != models.StateFailed || last[1] != models.StateDone {
				t.Errorf("terminal states = %v, want [failed done]", last)
			}
		})
	}
}

func TestRun_MalformedSegmentsFailRender(t *testing.T) {
	f := newFixture()
	f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
		return []models.Segment{{Start: 3, End: 1, Text: "backwards"}}, nil
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if outcome.Failure == nil || outcome.Failure.Stage != StageRender {
		t.Fatalf("failure = %v, want render stage", outcome.Failure)
	}
	if f.store.Len() != 0 {
		t.Error("record persisted")
	}
}

func TestRun_DuplicateRecordFailsPersist(t *testing.T) {
	f := newFixture()
	if err := f.store.Save(context.Background(), models.JobRecord{ID: "job-123", SummaryText: "original"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if outcome.Failure == nil || outcome.Failure.Stage != StagePersist {
		t.Fatalf("failure = %v, want persist stage", outcome.Failure)
	}
	if !errors.Is(outcome.Failure, stages.ErrDuplicateRecord) {
		t.Errorf("failure = %v, want ErrDuplicateRecord", outcome.Failure)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("mail sent after persist failure")
	}
	rec, _ := f.store.Get(context.Background(), "job-123")
	if rec.SummaryText != "original" {
		t.Errorf("existing record modified: %+v", rec)
	}
}

func TestRun_MailFailureKeepsRecord(t *testing.T) {
	f := newFixture()
	f.mailer.err = errors.New("smtp: 421 service not available")
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	o := f.orchestrator(t, Config{Metrics: m})

	outcome := o.Run(context.Background(), testJob())

	if !outcome.Succeeded() {
		t.Fatalf("outcome failed: %v", outcome.Failure)
	}
	if outcome.Notified() {
		t.Error("outcome reports notification despite mail failure")
	}
	var notifyErr *NotificationError
	if !errors.As(outcome.NotifyErr, &notifyErr) || notifyErr.To != "a@example.com" {
		t.Errorf("notify error = %v", outcome.NotifyErr)
	}
	if outcome.Label() != "partial" {
		t.Errorf("label = %q, want partial", outcome.Label())
	}

	rec, err := f.store.Get(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("record missing after mail failure: %v", err)
	}
	if *outcome.Record != rec {
		t.Errorf("stored record %+v differs from outcome %+v", rec, *outcome.Record)
	}

	for _, s := range f.states {
		if s == models.StateNotified || s == models.StateFailed {
			t.Errorf("unexpected state %s", s)
		}
	}
	if got := testutil.ToFloat64(m.NotificationsFailed); got != 1 {
		t.Errorf("notifications failed metric = %v, want 1", got)
	}
}

func TestRun_EmptyTranscriptPassesThrough(t *testing.T) {
	f := newFixture()
	f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
		return nil, nil
	})
	f.deps.Summarizer = stages.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
		if text != "" {
			t.Errorf("summarizer input = %q, want empty", text)
		}
		return "", nil
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if !outcome.Notified() {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if outcome.Record.TranscriptText != "" || outcome.Record.SummaryText != "" {
		t.Errorf("record = %+v, want empty texts", outcome.Record)
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("sent %d mails, want 1 for empty summary", len(f.mailer.sent))
	}
}

func TestRun_StageTimeout(t *testing.T) {
	f := newFixture()
	f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := f.orchestrator(t, Config{Timeouts: Timeouts{Transcribe: 20 * time.Millisecond}})

	outcome := o.Run(context.Background(), testJob())

	if outcome.Failure == nil || !errors.Is(outcome.Failure, context.DeadlineExceeded) {
		t.Fatalf("failure = %v, want deadline exceeded", outcome.Failure)
	}
}

func TestRun_PanickingAdapterBecomesStageError(t *testing.T) {
	f := newFixture()
	f.deps.Summarizer = stages.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
		panic("nil model")
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if outcome.Failure == nil || outcome.Failure.Stage != StageSummarize {
		t.Fatalf("failure = %v, want summarize stage", outcome.Failure)
	}
}

func TestRun_DoesNotReorderDiarizedSegments(t *testing.T) {
	f := newFixture()
	f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
		return []models.Segment{
			{Start: 5, End: 6, Text: "late"},
			{Start: 0, End: 1, Text: "early"},
		}, nil
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if !outcome.Succeeded() {
		t.Fatalf("failure: %v", outcome.Failure)
	}
	if outcome.Record.TranscriptText != "late\nearly" {
		t.Errorf("transcript = %q, want adapter order preserved", outcome.Record.TranscriptText)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	f := newFixture()
	f.deps.Mailer = nil

	if _, err := New(f.deps, Config{}); err == nil {
		t.Fatal("expected error for missing mailer")
	}
}

func TestComposeNotification(t *testing.T) {
	subject, body := ComposeNotification(testJob(), "Key points.")

	if subject != "VoxNotes Summary - job-123_interview.mp3" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "Key points.") {
		t.Errorf("body missing summary: %q", body)
	}
	if !strings.Contains(body, "full transcript is available") {
		t.Errorf("body missing transcript note: %q", body)
	}
}

// lateCommitStore saves the record and then reports the deadline, like a
// database commit that lands just as the context expires.
type lateCommitStore struct {
	*store.MemoryStore
	commit bool
}

func (s *lateCommitStore) Save(ctx context.Context, record models.JobRecord) error {
	if s.commit {
		if err := s.MemoryStore.Save(ctx, record); err != nil {
			return err
		}
	}
	return context.DeadlineExceeded
}

func TestRun_SaveErrorAfterCommitStillPersists(t *testing.T) {
	f := newFixture()
	records := &lateCommitStore{MemoryStore: f.store, commit: true}
	f.deps.Store = records
	var mailed []string
	f.deps.Mailer = stages.MailerFunc(func(ctx context.Context, to, subject, body string) error {
		mailed = append(mailed, to)
		return nil
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if outcome.Failed() {
		t.Fatalf("failure = %v, want success for a committed record", outcome.Failure)
	}
	if !outcome.Notified() || len(mailed) != 1 || mailed[0] != "a@example.com" {
		t.Errorf("mailed = %v, outcome = %+v", mailed, outcome)
	}
	want := []models.JobState{
		models.StateStarted, models.StateTranscribed, models.StateDiarized, models.StateSummarized,
		models.StatePersisted, models.StateNotified, models.StateDone,
	}
	if !reflect.DeepEqual(f.states, want) {
		t.Errorf("states = %v, want %v", f.states, want)
	}
}

func TestRun_SaveErrorWithoutCommitFailsPersist(t *testing.T) {
	f := newFixture()
	f.deps.Store = &lateCommitStore{MemoryStore: f.store}
	f.deps.Mailer = stages.MailerFunc(func(ctx context.Context, to, subject, body string) error {
		t.Error("mail sent after persist failure")
		return nil
	})
	o := f.orchestrator(t, Config{})

	outcome := o.Run(context.Background(), testJob())

	if !outcome.Failed() || outcome.Failure.Stage != StagePersist {
		t.Fatalf("failure = %v, want persist stage", outcome.Failure)
	}
	if !errors.Is(outcome.Failure, context.DeadlineExceeded) {
		t.Errorf("failure = %v, want deadline exceeded", outcome.Failure)
	}
	if f.store.Len() != 0 {
		t.Error("record stored")
	}
}

func TestRun_LogsStageContext(t *testing.T) {
	var buf bytes.Buffer
	logging.InitWithWriter(logging.Config{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { logging.Init(logging.DefaultConfig()) })

	f := newFixture()
	f.deps.Transcriber = stages.TranscriberFunc(func(ctx context.Context, audioPath string) ([]models.Segment, error) {
		return nil, errors.New("model not loaded")
	})
	o := f.orchestrator(t, Config{})

	o.Run(context.Background(), testJob())

	out := buf.String()
	for _, want := range []string{
		`"message":"Stage finished"`,
		`"message":"Pipeline failed"`,
		`"stage":"transcribe"`,
		`"jobId":"job-123"`,
		`model not loaded`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}
