package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/version"
)

// ReprocessResult summarises one reprocessing pass
type ReprocessResult struct {
	Status    version.Status
	All       bool // every session was selected, not only stale ones
	Rebuilt   []string
	Failed    map[string]error
	Committed bool
}

// StaleSessions lists the sessions that must be rebuilt under the running
// decoder: indexed sessions with another version hash and archived
// sessions that never reached the index. With all set every archived or
// indexed session is returned.
func (p *Processor) StaleSessions(ctx context.Context, all bool) ([]string, error) {
	hash := p.tracker.Current().Hash
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if lister, ok := p.index.(StaleLister); ok && !all {
		recs, err := lister.ListStaleSessions(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to list stale sessions: %w", err)
		}
		for _, rec := range recs {
			add(rec.SessionID)
		}
	} else {
		recs, err := p.index.ListSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, rec := range recs {
			if all || p.tracker.IsStale(rec.VersionHash) {
				add(rec.SessionID)
			}
		}
	}

	raw, err := p.storage.ListRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	for _, id := range raw {
		if seen[id] {
			continue
		}
		if all {
			add(id)
			continue
		}
		rec, err := p.index.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read index entry of %s: %w", id, err)
		}
		if rec == nil {
			add(id)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// ReprocessSession rebuilds one session from its archived inputs
func (p *Processor) ReprocessSession(ctx context.Context, sessionID string) (*Output, error) {
	schemaDoc, data, err := p.storage.LoadRaw(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	// a rebuild under the same decoder would otherwise keep serving the
	// summary it replaces, or one of a session that no longer decodes
	if p.cache != nil {
		if err := p.cache.InvalidateSummary(ctx, sessionID); err != nil {
			log.Printf("Warning: failed to invalidate cached summary of %s: %v", sessionID, err)
		}
	}
	return p.run(ctx, Session{ID: sessionID, Schema: schemaDoc, Data: data, Format: schema.FormatAuto}, true)
}

// Reprocess rebuilds every stale session with a bounded worker pool and
// then commits the running decoder's stamp. The stamp is only committed
// when every session was rebuilt; sessions whose schema no longer builds
// count as rebuilt since they are indexed as failed under the new stamp.
// Every session is rebuilt when forced, and when the stored stamp is
// missing, unreadable or differs from the running decoder.
func (p *Processor) Reprocess(ctx context.Context, force bool) (*ReprocessResult, error) {
	result := &ReprocessResult{
		Status: p.tracker.Status(ctx),
		Failed: make(map[string]error),
	}
	result.All = force || (result.Status.Stale && result.Status.Stored != result.Status.Current)

	ids, err := p.StaleSessions(ctx, result.All)
	if err != nil {
		return result, err
	}
	if len(ids) > 0 {
		log.Printf("Reprocessing %d sessions with decoder %s", len(ids), result.Status.Current)
	}

	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	workers := p.settings.Workers
	if workers > len(ids) {
		workers = len(ids)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_, err := p.ReprocessSession(ctx, id)
				mu.Lock()
				if err != nil && !errors.Is(err, schema.ErrSchema) {
					result.Failed[id] = err
					log.Printf("Error reprocessing session %s: %v", id, err)
				} else {
					result.Rebuilt = append(result.Rebuilt, id)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	sort.Strings(result.Rebuilt)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(result.Failed) > 0 {
		return result, fmt.Errorf("%d of %d sessions could not be rebuilt", len(result.Failed), len(ids))
	}

	wrote, err := p.tracker.Commit(ctx)
	if err != nil {
		return result, err
	}
	result.Committed = wrote
	return result, nil
}
