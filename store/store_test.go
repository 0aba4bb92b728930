package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages"
)

func sampleRecord(id string) models.JobRecord {
	return models.JobRecord{
		ID:             id,
		SourceFileName: id + "_interview.mp3",
		TranscriptText: "hello\nworld",
		SummaryText:    "Brief hello world exchange.",
		CreatedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFileStore_SaveAndGet(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	rec := sampleRecord("job-1")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TranscriptText != rec.TranscriptText || got.SummaryText != rec.SummaryText {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestFileStore_DuplicateKeepsOriginal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, sampleRecord("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dup := sampleRecord("job-1")
	dup.SummaryText = "overwritten"
	if err := s.Save(ctx, dup); !errors.Is(err, stages.ErrDuplicateRecord) {
		t.Fatalf("second Save error = %v, want ErrDuplicateRecord", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.SummaryText != "Brief hello world exchange." {
		t.Errorf("record was modified: %q", got.SummaryText)
	}
}

func TestFileStore_NotFound(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, stages.ErrRecordNotFound) {
		t.Errorf("Get error = %v, want ErrRecordNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, sampleRecord("a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, sampleRecord("a")); !errors.Is(err, stages.ErrDuplicateRecord) {
		t.Errorf("duplicate Save error = %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, stages.ErrRecordNotFound) {
		t.Errorf("Get error = %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

// fakeDB implements dbtx for testing without a database.
type fakeDB struct {
	execErr error
	row     pgx.Row
	execs   []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.row
}

type fakeRow struct {
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.err
}

func TestPostgresStore_SaveUniqueViolation(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: "23505", Message: "duplicate key value"}}
	s := &PostgresStore{db: db}

	err := s.Save(context.Background(), sampleRecord("job-1"))
	if !errors.Is(err, stages.ErrDuplicateRecord) {
		t.Errorf("Save error = %v, want ErrDuplicateRecord", err)
	}
}

func TestPostgresStore_SaveOtherError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset")}
	s := &PostgresStore{db: db}

	err := s.Save(context.Background(), sampleRecord("job-1"))
	if err == nil || errors.Is(err, stages.ErrDuplicateRecord) {
		t.Errorf("Save error = %v, want plain failure", err)
	}
}

func TestPostgresStore_GetNoRows(t *testing.T) {
	s := &PostgresStore{db: &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}}

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, stages.ErrRecordNotFound) {
		t.Errorf("Get error = %v, want ErrRecordNotFound", err)
	}
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &fakeDB{}
	s := &PostgresStore{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0] != createNotesTable {
		t.Errorf("unexpected statements: %v", db.execs)
	}
}
