package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/uavlog/internal/types"
)

func TestNew(t *testing.T) {
	outputDir := "/test/output"
	storage := New(outputDir, "messages.json")

	if storage == nil {
		t.Fatal("New() returned nil")
	}
	if storage.OutputDir() != outputDir {
		t.Errorf("Expected outputDir to be %s, got %s", outputDir, storage.OutputDir())
	}
	if !storage.compress["messages.json"] || storage.compress["summary.json"] {
		t.Errorf("compress set = %v", storage.compress)
	}
	if got := storage.SessionDir("s1"); got != filepath.Join(outputDir, "sessions", "s1") {
		t.Errorf("SessionDir() = %s", got)
	}
}

func TestStorage_PublishAndRead(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir, "messages.json")

	files := map[string][]byte{
		"summary.json":  []byte(`{"message_count":1}`),
		"messages.json": []byte(`{"messages":[1,2,3]}`),
	}
	if err := storage.Publish("25_07_01__10_00_00", files); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	dir := storage.SessionDir("25_07_01__10_00_00")
	if _, err := os.Stat(filepath.Join(dir, "messages.json.gz")); err != nil {
		t.Errorf("Expected compressed messages file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "messages.json")); !os.IsNotExist(err) {
		t.Error("Uncompressed messages file should not exist")
	}

	for name, want := range files {
		got, err := storage.ReadFile("25_07_01__10_00_00", name)
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("ReadFile(%s) = %s, want %s", name, got, want)
		}
	}

	if _, err := storage.ReadFile("25_07_01__10_00_00", "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStorage_PublishReplacesWholeDirectory(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)

	if err := storage.Publish("s1", map[string][]byte{"a.json": []byte("old"), "stale.json": []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if err := storage.Publish("s1", map[string][]byte{"a.json": []byte("new")}); err != nil {
		t.Fatal(err)
	}

	got, err := storage.ReadFile("s1", "a.json")
	if err != nil || string(got) != "new" {
		t.Errorf("ReadFile(a.json) = %s, %v", got, err)
	}
	if _, err := storage.ReadFile("s1", "stale.json"); !errors.Is(err, ErrNotFound) {
		t.Error("file from the previous publish survived")
	}

	entries, err := os.ReadDir(filepath.Join(tempDir, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "s1" {
		names := []string{}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("sessions directory holds %v, want only s1", names)
	}
}

func TestStorage_PublishFailureKeepsPreviousOutput(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)

	if err := storage.Publish("s1", map[string][]byte{"a.json": []byte("old")}); err != nil {
		t.Fatal(err)
	}
	if err := storage.Publish("s1", map[string][]byte{"bad/name": []byte("x")}); err == nil {
		t.Fatal("Publish() accepted a file name with a separator")
	}

	got, err := storage.ReadFile("s1", "a.json")
	if err != nil || string(got) != "old" {
		t.Errorf("previous output = %s, %v", got, err)
	}
	if n, err := storage.CleanStaging(0); err != nil || n != 0 {
		t.Errorf("CleanStaging() = %d, %v, staging should already be gone", n, err)
	}
}

func TestStorage_ConcurrentPublish(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := bytes.Repeat([]byte{byte('a' + i)}, 64)
			if err := storage.Publish("s1", map[string][]byte{"a.json": body, "b.json": body}); err != nil {
				t.Errorf("Publish() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	a, _ := storage.ReadFile("s1", "a.json")
	b, _ := storage.ReadFile("s1", "b.json")
	if len(a) != 64 || !bytes.Equal(a, b) {
		t.Errorf("published files come from different runs: %q / %q", a, b)
	}
}

func TestStorage_ArchiveRaw(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)

	if _, _, err := storage.LoadRaw("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadRaw() before archive error = %v", err)
	}
	if err := storage.ArchiveRaw("s1", []byte("<protocol/>"), []byte{1, 2, 3}); err != nil {
		t.Fatalf("ArchiveRaw() failed: %v", err)
	}
	schemaDoc, data, err := storage.LoadRaw("s1")
	if err != nil {
		t.Fatalf("LoadRaw() failed: %v", err)
	}
	if string(schemaDoc) != "<protocol/>" || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("LoadRaw() = %q, %v", schemaDoc, data)
	}

	ids, err := storage.ListRaw()
	if err != nil || len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ListRaw() = %v, %v", ids, err)
	}
}

func TestStorage_ListSessions(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)

	ids, err := storage.ListSessions()
	if err != nil || len(ids) != 0 {
		t.Errorf("ListSessions() on empty dir = %v, %v", ids, err)
	}

	for _, id := range []string{"25_07_02__09_00_00", "25_07_01__10_00_00"} {
		if err := storage.Publish(id, map[string][]byte{"x": nil}); err != nil {
			t.Fatal(err)
		}
	}
	// leftovers of an abandoned run are not sessions
	if err := os.MkdirAll(filepath.Join(tempDir, "sessions", ".tmp-25_07_03__00_00_00-123"), 0o755); err != nil {
		t.Fatal(err)
	}

	ids, err = storage.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "25_07_01__10_00_00" || ids[1] != "25_07_02__09_00_00" {
		t.Errorf("ListSessions() = %v", ids)
	}

	n, err := storage.CleanStaging(0)
	if err != nil || n != 1 {
		t.Errorf("CleanStaging() = %d, %v", n, err)
	}
}

func TestStorage_CleanStagingGracePeriod(t *testing.T) {
	tempDir := t.TempDir()
	storage := New(tempDir)
	sessions := filepath.Join(tempDir, "sessions")
	past := time.Now().Add(-2 * time.Hour)

	mkdir := func(name string, old bool) string {
		t.Helper()
		dir := filepath.Join(sessions, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if old {
			if err := os.Chtimes(dir, past, past); err != nil {
				t.Fatal(err)
			}
		}
		return dir
	}

	// another process is between its two renames: the previous output is
	// aside and the new one is still staged
	mkdir(".tmp-s1-100", false)
	busyOld := mkdir(".old-s1-.tmp-s1-100", true)
	// an abandoned run staged output and never published it
	staleTmp := mkdir(".tmp-s2-200", true)
	// an abandoned run moved the previous output aside and lost its staging
	mkdir(".old-s3-.tmp-s3-300", true)
	if err := os.WriteFile(filepath.Join(sessions, ".old-s3-.tmp-s3-300", "a.json"), []byte("kept"), 0o644); err != nil {
		t.Fatal(err)
	}
	// a published session replaced the one an abandoned run moved aside
	if err := storage.Publish("s4", map[string][]byte{"a.json": []byte("new")}); err != nil {
		t.Fatal(err)
	}
	replaced := mkdir(".old-s4-.tmp-s4-400", true)

	n, err := storage.CleanStaging(time.Hour)
	if err != nil || n != 2 {
		t.Errorf("CleanStaging() = %d, %v, want 2 removed", n, err)
	}

	for _, dir := range []string{filepath.Join(sessions, ".tmp-s1-100"), busyOld} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s in use was removed: %v", filepath.Base(dir), err)
		}
	}
	for _, dir := range []string{staleTmp, replaced} {
		if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s was not removed", filepath.Base(dir))
		}
	}
	if got, err := storage.ReadFile("s3", "a.json"); err != nil || string(got) != "kept" {
		t.Errorf("previous output of s3 = %s, %v, want it restored", got, err)
	}
	if got, err := storage.ReadFile("s4", "a.json"); err != nil || string(got) != "new" {
		t.Errorf("published output of s4 = %s, %v", got, err)
	}
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"25_07_01__10_00_00", false},
		{"flight-1", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc", true},
		{"a/b", true},
		{`a\b`, true},
		{".hidden", true},
	}
	for _, tt := range tests {
		err := ValidSessionID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}

	storage := New(t.TempDir())
	if err := storage.Publish("../escape", map[string][]byte{"a": nil}); err == nil {
		t.Error("Publish() accepted an escaping session id")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stamp.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Errorf("content = %s, %v", got, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestFileIndex(t *testing.T) {
	ctx := context.Background()
	storage := New(t.TempDir())
	index := NewFileIndex(storage)

	rec, err := index.GetSession(ctx, "s1")
	if err != nil || rec != nil {
		t.Errorf("GetSession() on unknown session = %v, %v", rec, err)
	}

	start := 1.5
	in := types.SessionRecord{
		SessionID:   "s1",
		RunID:       "run-1",
		VersionHash: "abc",
		Status:      types.StatusProcessed,
		ProcessedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		StartTime:   &start,
	}
	if err := storage.Publish("s1", map[string][]byte{"summary.json": []byte("{}")}); err != nil {
		t.Fatal(err)
	}
	if err := index.PutSession(ctx, in); err != nil {
		t.Fatalf("PutSession() failed: %v", err)
	}
	// a failed session has no published views but is still indexed
	if err := index.PutSession(ctx, types.SessionRecord{SessionID: "s0", Status: types.StatusFailed, Error: "bad schema"}); err != nil {
		t.Fatalf("PutSession() failed: %v", err)
	}

	rec, err = index.GetSession(ctx, "s1")
	if err != nil || rec == nil {
		t.Fatalf("GetSession() = %v, %v", rec, err)
	}
	if rec.VersionHash != "abc" || *rec.StartTime != 1.5 || !rec.ProcessedAt.Equal(in.ProcessedAt) {
		t.Errorf("GetSession() = %+v", rec)
	}
	if _, err := storage.ReadFile("s1", "summary.json"); err != nil {
		t.Errorf("PutSession() disturbed the published views: %v", err)
	}

	if err := os.WriteFile(filepath.Join(storage.SessionDir("s2"), RecordFile), []byte("{"), 0o644); err == nil {
		t.Fatal("expected s2 to not exist yet")
	}
	if err := os.MkdirAll(storage.SessionDir("s2"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(storage.SessionDir("s2"), RecordFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := index.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "s0" || list[0].Status != types.StatusFailed || list[1].SessionID != "s1" {
		t.Errorf("ListSessions() = %+v", list)
	}
}
