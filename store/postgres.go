// Package store provides the durable record stores for finished jobs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages"
)

const uniqueViolation = "23505"

const createNotesTable = `CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	transcript TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// dbtx is the subset of *pgxpool.Pool the store uses.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps job records in the notes table.
type PostgresStore struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and makes sure the notes table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the notes table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createNotesTable); err != nil {
		return fmt.Errorf("create notes table: %w", err)
	}
	return nil
}

// Save inserts record. A second insert for the same id fails with ErrDuplicateRecord.
func (s *PostgresStore) Save(ctx context.Context, record models.JobRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO notes (id, filename, transcript, summary, created_at) VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.SourceFileName, record.TranscriptText, record.SummaryText, record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", stages.ErrDuplicateRecord, record.ID)
		}
		return fmt.Errorf("insert note %s: %w", record.ID, err)
	}
	return nil
}

// Get loads the record for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	var record models.JobRecord
	err := s.db.QueryRow(ctx,
		`SELECT id, filename, transcript, summary, created_at FROM notes WHERE id = $1`, id,
	).Scan(&record.ID, &record.SourceFileName, &record.TranscriptText, &record.SummaryText, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.JobRecord{}, fmt.Errorf("%w: %s", stages.ErrRecordNotFound, id)
		}
		return models.JobRecord{}, fmt.Errorf("query note %s: %w", id, err)
	}
	return record, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
