package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/saviobatista/uavlog/internal/storage"
)

// StampStore persists the stamp of the decode rules that produced the
// current outputs
type StampStore interface {
	// Load returns ErrNoStamp when nothing was saved yet
	Load(ctx context.Context) (*Stamp, error)
	Save(ctx context.Context, s Stamp) error
}

// FileStore keeps the stamp in a JSON file
type FileStore struct {
	Path string
}

// NewFileStore creates a file backed stamp store
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the stamp file
func (f *FileStore) Load(_ context.Context) (*Stamp, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoStamp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stamp: %w", err)
	}
	var s Stamp
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse stamp %s: %w", f.Path, err)
	}
	if s.Hash == "" {
		return nil, fmt.Errorf("stamp %s has no hash", f.Path)
	}
	return &s, nil
}

// Save replaces the stamp file atomically
func (f *FileStore) Save(_ context.Context, s Stamp) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stamp: %w", err)
	}
	return storage.WriteFileAtomic(f.Path, append(data, '\n'), 0o644)
}

// MemoryStore keeps the stamp in memory for the lifetime of the process
type MemoryStore struct {
	stamp   *Stamp
	LoadErr error
	SaveErr error
	Saves   int
}

func (m *MemoryStore) Load(_ context.Context) (*Stamp, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.stamp == nil {
		return nil, ErrNoStamp
	}
	s := *m.stamp
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Stamp) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.stamp = &s
	m.Saves++
	return nil
}
