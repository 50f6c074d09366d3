package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per record in a directory
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and stores records in it
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes rec to <id>.json
func (fs *FileStore) Save(_ context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Write to a temp file first so readers never see a partial record
	tmp := fs.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, fs.path(rec.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write record file: %w", err)
	}
	return nil
}

// Load reads the record with the given id
func (fs *FileStore) Load(_ context.Context, id string) (*Record, error) {
	if !validID(id) {
		return nil, ErrRecordNotFound
	}
	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// List returns record ids ordered by end time, newest first
func (fs *FileStore) List(ctx context.Context, limit int) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var recs []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := fs.Load(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip unreadable files
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].EndedAt.After(recs[j].EndedAt) })

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// Delete removes a record file
func (fs *FileStore) Delete(id string) error {
	if !validID(id) {
		return ErrRecordNotFound
	}
	if err := os.Remove(fs.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

// Close is a no-op
func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\.`)
}
