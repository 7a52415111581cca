package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/saviobatista/uavlog/internal/types"
)

// RecordFile is the session index entry kept next to the published views
const RecordFile = "record.json"

// FileIndex keeps session records inside the output tree. It is used when
// no database is configured.
type FileIndex struct {
	storage *Storage
}

// NewFileIndex creates an index over s
func NewFileIndex(s *Storage) *FileIndex {
	return &FileIndex{storage: s}
}

// PutSession stores or replaces the record of a session
func (f *FileIndex) PutSession(_ context.Context, rec types.SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	return f.storage.WriteFile(rec.SessionID, RecordFile, append(data, '\n'))
}

// GetSession returns the record of one session, or nil when it was never indexed
func (f *FileIndex) GetSession(_ context.Context, sessionID string) (*types.SessionRecord, error) {
	data, err := f.storage.ReadFile(sessionID, RecordFile)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record of %s: %w", sessionID, err)
	}
	return &rec, nil
}

// ListSessions returns the records of every indexed session in session order.
// Unreadable records are skipped with a warning.
func (f *FileIndex) ListSessions(ctx context.Context) ([]types.SessionRecord, error) {
	ids, err := f.storage.ListSessions()
	if err != nil {
		return nil, err
	}
	records := make([]types.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := f.GetSession(ctx, id)
		if err != nil {
			log.Printf("Warning: skipping session %s: %v", id, err)
			continue
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}
