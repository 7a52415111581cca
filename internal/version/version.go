// Package version decides whether previously decoded sessions are still
// valid by comparing a digest of the decode rules with a persisted stamp.
package version

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/saviobatista/uavlog/internal/decoder"
	"github.com/saviobatista/uavlog/internal/schema"
)

// ErrNoStamp is returned by a StampStore that has never been written
var ErrNoStamp = errors.New("version: no stamp stored")

// digestKey separates version digests from any other BLAKE3 use
var digestKey = [32]byte{
	'u', 'a', 'v', 'l', 'o', 'g', '.', 'd', 'e', 'c', 'o', 'd', 'e', 'r', '.',
	'v', 'e', 'r', 's', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Artifact is one named input of the digest
type Artifact struct {
	Name    string
	Content string
}

// DefaultArtifacts enumerates everything that can change decoded output
func DefaultArtifacts() []Artifact {
	return []Artifact{
		{Name: "schema.builder", Content: schema.BuilderVersion},
		{Name: "decoder.logic", Content: decoder.Version},
		{Name: "decoder.protocol", Content: decoder.ProtocolConstants()},
	}
}

// Stamp is a digest together with what it covers and when it was made
type Stamp struct {
	Hash        string    `json:"hash"`
	Artifacts   []string  `json:"artifacts"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Compute hashes the artifacts in name order. Names and contents are
// length-prefixed so no two different sets produce the same input stream.
func Compute(artifacts []Artifact, now time.Time) Stamp {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("version: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var lenBuf [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	names := make([]string, len(sorted))
	for i, a := range sorted {
		write(a.Name)
		write(a.Content)
		names[i] = a.Name
	}

	return Stamp{
		Hash:        hex.EncodeToString(h.Sum(nil)),
		Artifacts:   names,
		GeneratedAt: now.UTC(),
	}
}

// VersionTrackerError wraps a failure to read or write the stored stamp.
// It is advisory: callers treat it as "stale" and carry on.
type VersionTrackerError struct {
	Op  string
	Err error
}

func (e *VersionTrackerError) Error() string {
	return fmt.Sprintf("version tracker %s: %v", e.Op, e.Err)
}

func (e *VersionTrackerError) Unwrap() error {
	return e.Err
}
