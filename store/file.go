package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jupark12/voxnotes/models"
	"github.com/jupark12/voxnotes/stages"
)

// FileStore keeps one JSON file per record under a directory.
// Files are created exclusively so an id can only ever be written once.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes record to <dir>/<id>.json.
func (s *FileStore) Save(ctx context.Context, record models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	path := s.path(record.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", stages.ErrDuplicateRecord, record.ID)
		}
		return fmt.Errorf("create record file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write record file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close record file: %w", err)
	}
	return nil
}

// Get reads the record for id.
func (s *FileStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.JobRecord{}, fmt.Errorf("%w: %s", stages.ErrRecordNotFound, id)
		}
		return models.JobRecord{}, fmt.Errorf("read record file: %w", err)
	}

	var record models.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.JobRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

// MemoryStore keeps records in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.JobRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.JobRecord)}
}

// Save stores record unless its id is taken.
func (s *MemoryStore) Save(ctx context.Context, record models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("%w: %s", stages.ErrDuplicateRecord, record.ID)
	}
	s.records[record.ID] = record
	return nil
}

// Get returns the record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return models.JobRecord{}, fmt.Errorf("%w: %s", stages.ErrRecordNotFound, id)
	}
	return record, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
