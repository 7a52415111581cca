package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	sessionsDir = "sessions"
	rawDir      = "raw"
	tmpPrefix   = ".tmp-"
	oldPrefix   = ".old-"
	gzipSuffix  = ".gz"

	// RawSchemaFile and RawDataFile name the archived inputs of a session
	RawSchemaFile = "schema.log"
	RawDataFile   = "data.bin"
)

// ErrNotFound is returned when a session or one of its files does not exist
var ErrNotFound = errors.New("storage: not found")

// Storage lays out session outputs under one directory:
//
//	<dir>/raw/<session>/      archived inputs used for reprocessing
//	<dir>/sessions/<session>/ published views
//
// A session directory is always published whole: files are written to a
// temporary directory which is then renamed into place.
type Storage struct {
	outputDir string
	compress  map[string]bool
	mu        sync.Mutex
}

// New creates a Storage. Files named in compress are written gzip
// compressed with a .gz suffix.
func New(outputDir string, compress ...string) *Storage {
	s := &Storage{
		outputDir: outputDir,
		compress:  make(map[string]bool, len(compress)),
	}
	for _, name := range compress {
		s.compress[name] = true
	}
	return s
}

// OutputDir returns the root directory
func (s *Storage) OutputDir() string {
	return s.outputDir
}

// SessionDir returns the published directory of a session
func (s *Storage) SessionDir(sessionID string) string {
	return filepath.Join(s.outputDir, sessionsDir, sessionID)
}

func (s *Storage) rawSessionDir(sessionID string) string {
	return filepath.Join(s.outputDir, rawDir, sessionID)
}

// ValidSessionID rejects ids that would escape the output tree
func ValidSessionID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("invalid session id %q", id)
	case strings.ContainsAny(id, `/\`), strings.HasPrefix(id, "."):
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// ArchiveRaw keeps the original inputs of a session so it can be rebuilt
// after a decoder change
func (s *Storage) ArchiveRaw(sessionID string, schemaDoc, data []byte) error {
	if err := ValidSessionID(sessionID); err != nil {
		return err
	}
	return s.publishDir(s.rawSessionDir(sessionID), map[string][]byte{
		RawSchemaFile: schemaDoc,
		RawDataFile:   data,
	}, false)
}

// LoadRaw returns the archived inputs of a session
func (s *Storage) LoadRaw(sessionID string) (schemaDoc, data []byte, err error) {
	if err := ValidSessionID(sessionID); err != nil {
		return nil, nil, err
	}
	dir := s.rawSessionDir(sessionID)
	if schemaDoc, err = readFile(filepath.Join(dir, RawSchemaFile)); err != nil {
		return nil, nil, err
	}
	if data, err = readFile(filepath.Join(dir, RawDataFile)); err != nil {
		return nil, nil, err
	}
	return schemaDoc, data, nil
}

// Publish replaces the session directory with files in one rename
func (s *Storage) Publish(sessionID string, files map[string][]byte) error {
	if err := ValidSessionID(sessionID); err != nil {
		return err
	}
	return s.publishDir(s.SessionDir(sessionID), files, true)
}

func (s *Storage) publishDir(target string, files map[string][]byte, compress bool) error {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, tmpPrefix+filepath.Base(target)+"-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid file name %q", name)
		}
		if compress && s.compress[name] {
			err = writeGzip(filepath.Join(tmp, name+gzipSuffix), files[name])
		} else {
			err = writeSynced(filepath.Join(tmp, name), files[name])
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var old string
	if _, err := os.Stat(target); err == nil {
		old = filepath.Join(parent, oldPrefix+filepath.Base(target)+"-"+filepath.Base(tmp))
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("failed to move previous output aside: %w", err)
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		if old != "" {
			_ = os.Rename(old, target)
		}
		return fmt.Errorf("failed to publish %s: %w", target, err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("failed to remove previous output: %w", err)
		}
	}
	return nil
}

// ReadFile returns one published file of a session, decompressing it when
// it was stored gzip compressed
func (s *Storage) ReadFile(sessionID, name string) ([]byte, error) {
	if err := ValidSessionID(sessionID); err != nil {
		return nil, err
	}
	path := filepath.Join(s.SessionDir(sessionID), name)
	data, err := readFile(path)
	if errors.Is(err, ErrNotFound) {
		return readGzip(path + gzipSuffix)
	}
	return data, err
}

// WriteFile atomically replaces one file inside a session directory,
// creating the directory when needed
func (s *Storage) WriteFile(sessionID, name string, data []byte) error {
	if err := ValidSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFileAtomic(filepath.Join(s.SessionDir(sessionID), name), data, 0o644)
}

// ListSessions returns the published session ids in lexical order, which
// is chronological for the YY_MM_DD__HH_MM_SS naming convention
func (s *Storage) ListSessions() ([]string, error) {
	return listDirs(filepath.Join(s.outputDir, sessionsDir))
}

// ListRaw returns the ids of every session with archived inputs
func (s *Storage) ListRaw() ([]string, error) {
	return listDirs(filepath.Join(s.outputDir, rawDir))
}

// CleanStaging removes directories left behind by runs that were abandoned
// before publishing. Staging directories younger than grace may belong to
// another process that is still publishing and are kept. A previous output
// moved aside by an abandoned run is restored when nothing replaced it.
func (s *Storage) CleanStaging(grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)
	removed := 0
	for _, sub := range []string{sessionsDir, rawDir} {
		dir := filepath.Join(s.outputDir, sub)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			name := e.Name()
			switch {
			case strings.HasPrefix(name, tmpPrefix):
				if !abandoned(filepath.Join(dir, name), cutoff) {
					continue
				}
			case strings.HasPrefix(name, oldPrefix):
				// renaming keeps the mtime of the old output, so age is
				// judged by the staging directory it was swapped with
				target, tmp, ok := splitOldName(name)
				if !ok || !abandoned(filepath.Join(dir, tmp), cutoff) {
					continue
				}
				if _, err := os.Stat(filepath.Join(dir, target)); errors.Is(err, fs.ErrNotExist) {
					if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, target)); err != nil {
						return removed, err
					}
					continue
				}
			default:
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// abandoned reports whether a staging directory is gone or was last
// modified before cutoff
func abandoned(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return err == nil && !info.ModTime().After(cutoff)
}

// splitOldName recovers the target and staging directory names from the
// name publishDir gives a previous output it moves aside
func splitOldName(name string) (target, tmp string, ok bool) {
	rest := strings.TrimPrefix(name, oldPrefix)
	i := strings.LastIndex(rest, "-"+tmpPrefix)
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeGzip compresses data into path
func writeGzip(path string, data []byte) error {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := gzipWriter.Write(data); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	return writeSynced(path, buf.Bytes())
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(path, gzipSuffix))
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers see either the old or the new content
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(name, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
