package version

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Locker serialises writers of the stamp. The returned function releases
// the lock.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// MutexLocker is an in-process Locker that honours context cancellation
type MutexLocker struct {
	once sync.Once
	ch   chan struct{}
}

func (m *MutexLocker) Lock(ctx context.Context) (func(), error) {
	m.once.Do(func() { m.ch = make(chan struct{}, 1) })
	select {
	case m.ch <- struct{}{}:
		var released sync.Once
		return func() { released.Do(func() { <-m.ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status is the answer to "are existing outputs still valid"
type Status struct {
	Current string `json:"current"`
	Stored  string `json:"stored,omitempty"`
	Stale   bool   `json:"stale"`
	Err     error  `json:"-"`
}

// Tracker compares the digest of the running decode rules with the stored
// stamp
type Tracker struct {
	store     StampStore
	locker    Locker
	artifacts []Artifact
	now       func() time.Time
}

// NewTracker creates a tracker. A nil locker means an in-process mutex and
// nil artifacts mean DefaultArtifacts.
func NewTracker(store StampStore, locker Locker, artifacts []Artifact) *Tracker {
	if locker == nil {
		locker = &MutexLocker{}
	}
	if artifacts == nil {
		artifacts = DefaultArtifacts()
	}
	return &Tracker{
		store:     store,
		locker:    locker,
		artifacts: artifacts,
		now:       time.Now,
	}
}

// Current computes the stamp of the running decode rules
func (t *Tracker) Current() Stamp {
	return Compute(t.artifacts, t.now())
}

// Status reads the stored stamp without locking. Read failures are
// reported in Status.Err and count as stale.
func (t *Tracker) Status(ctx context.Context) Status {
	st := Status{Current: t.Current().Hash}
	stored, err := t.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoStamp):
		st.Stale = true
	case err != nil:
		st.Stale = true
		st.Err = &VersionTrackerError{Op: "load", Err: err}
		log.Printf("Warning: %v, assuming outputs are stale", st.Err)
	default:
		st.Stored = stored.Hash
		st.Stale = stored.Hash != st.Current
	}
	return st
}

// IsStale reports whether a session decoded under sessionHash must be
// rebuilt. An empty hash is always stale.
func (t *Tracker) IsStale(sessionHash string) bool {
	return sessionHash == "" || sessionHash != t.Current().Hash
}

// Commit records the current stamp unless the store already holds it. It
// returns whether the store was written.
func (t *Tracker) Commit(ctx context.Context) (bool, error) {
	unlock, err := t.locker.Lock(ctx)
	if err != nil {
		return false, &VersionTrackerError{Op: "lock", Err: err}
	}
	defer unlock()

	current := t.Current()
	stored, err := t.store.Load(ctx)
	switch {
	case err == nil && stored.Hash == current.Hash:
		return false, nil
	case err != nil && !errors.Is(err, ErrNoStamp):
		log.Printf("Warning: failed to read stored stamp before commit: %v", err)
	}

	if err := t.store.Save(ctx, current); err != nil {
		return false, &VersionTrackerError{Op: "save", Err: fmt.Errorf("stamp %s: %w", current.Hash, err)}
	}
	return true, nil
}
