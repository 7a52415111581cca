// Package pipeline runs sessions through schema build, decode and
// projection and publishes the results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/uavlog/internal/codec"
	"github.com/saviobatista/uavlog/internal/decoder"
	"github.com/saviobatista/uavlog/internal/projection"
	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/stats"
	"github.com/saviobatista/uavlog/internal/storage"
	"github.com/saviobatista/uavlog/internal/types"
	"github.com/saviobatista/uavlog/internal/version"
)

// Files published in a session directory besides the views
const (
	ReportFile  = "report.json"
	DecodedFile = "decoded.cbor"
)

// ViewFile is the published file name of a projection view
func ViewFile(view string) string {
	return view + ".json"
}

// Index records the outcome of every session. *storage.FileIndex and
// *db.Client implement it.
type Index interface {
	PutSession(ctx context.Context, rec types.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error)
	ListSessions(ctx context.Context) ([]types.SessionRecord, error)
}

// StaleLister is implemented by indexes that can select stale sessions
// themselves
type StaleLister interface {
	ListStaleSessions(ctx context.Context, hash string) ([]types.SessionRecord, error)
}

// ErrorStore keeps the per frame decode errors of a run
type ErrorStore interface {
	StoreDecodeErrors(ctx context.Context, sessionID, runID string, errs []*decoder.DecodeError) error
}

// EventPublisher announces finished sessions
type EventPublisher interface {
	PublishSessionEvent(ev *types.SessionEvent) error
}

// SummaryCache holds session summaries for quick lookups
type SummaryCache interface {
	CacheSummary(ctx context.Context, sessionID, versionHash string, summary []byte) error
	GetSummary(ctx context.Context, sessionID, versionHash string) ([]byte, error)
	InvalidateSummary(ctx context.Context, sessionID string) error
}

// Settings are the decode parameters shared by every session of a processor
type Settings struct {
	Decode       decoder.Options
	MessageClass string
	Workers      int
}

// Output is everything one run produced. Projection and Decode are nil
// when the schema could not be built.
type Output struct {
	Report     *Report
	Projection *projection.Projection
	Decode     *decoder.Result
}

// Processor turns sessions into published views
type Processor struct {
	storage  *storage.Storage
	index    Index
	tracker  *version.Tracker
	settings Settings

	errors ErrorStore
	events EventPublisher
	cache  SummaryCache
	stats  *stats.Stats

	now func() time.Time
}

// NewProcessor creates a processor. A Workers setting below one means one.
func NewProcessor(store *storage.Storage, index Index, tracker *version.Tracker, settings Settings) *Processor {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	return &Processor{
		storage:  store,
		index:    index,
		tracker:  tracker,
		settings: settings,
		now:      time.Now,
	}
}

// SetErrorStore enables persistence of decode errors
func (p *Processor) SetErrorStore(s ErrorStore) { p.errors = s }

// SetPublisher enables session events
func (p *Processor) SetPublisher(e EventPublisher) { p.events = e }

// SetCache enables the summary cache
func (p *Processor) SetCache(c SummaryCache) { p.cache = c }

// SetStats enables decode statistics
func (p *Processor) SetStats(s *stats.Stats) { p.stats = s }

// Tracker returns the version tracker of the processor
func (p *Processor) Tracker() *version.Tracker { return p.tracker }

// Process archives the raw inputs of a session, decodes them and publishes
// the views. When the schema cannot be built the session is indexed as
// failed, the returned Output carries the report and err wraps the
// *schema.SchemaError.
func (p *Processor) Process(ctx context.Context, sess Session) (*Output, error) {
	if err := storage.ValidSessionID(sess.ID); err != nil {
		return nil, err
	}
	if err := p.storage.ArchiveRaw(sess.ID, sess.Schema, sess.Data); err != nil {
		return nil, fmt.Errorf("failed to archive session %s: %w", sess.ID, err)
	}
	return p.run(ctx, sess, false)
}

func (p *Processor) run(ctx context.Context, sess Session, reprocessed bool) (*Output, error) {
	start := p.now()
	report := &Report{
		SessionID:   sess.ID,
		RunID:       uuid.NewString(),
		ProcessedAt: start.UTC(),
		Reprocessed: reprocessed,
		SchemaSize:  len(sess.Schema),
		DataSize:    len(sess.Data),
		Version:     p.tracker.Current(),
		Policy:      p.settings.Decode.Policy.String(),
		ErrorCounts: map[string]int{},
		Errors:      []*decoder.DecodeError{},
	}
	if info := ParseSessionInfo(sess.ID); info.Parsed {
		t := info.Time
		report.SessionTime = &t
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cat, err := schema.Load(sess.Schema, sess.Format, schema.BuildOptions{MessageClass: p.settings.MessageClass})
	if err != nil {
		report.Status = types.StatusFailed
		report.Error = err.Error()
		if ferr := p.publishFailure(ctx, report); ferr != nil {
			return nil, ferr
		}
		p.finish(ctx, report, nil, nil, start)
		return &Output{Report: report}, fmt.Errorf("session %s: %w", sess.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := decoder.Decode(cat, sess.Data, p.settings.Decode)
	report.addDecode(res)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proj := projection.Build(cat, res.Messages)
	files, err := p.render(proj, res.Messages, report)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}

	// nothing has been published yet, so a cancelled run leaves the
	// previous output untouched
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.storage.Publish(sess.ID, files); err != nil {
		return nil, fmt.Errorf("failed to publish session %s: %w", sess.ID, err)
	}
	if err := p.index.PutSession(ctx, report.Record(&proj.Summary)); err != nil {
		return nil, fmt.Errorf("failed to index session %s: %w", sess.ID, err)
	}

	p.finish(ctx, report, res, files[ViewFile(projection.ViewSummary)], start)
	return &Output{Report: report, Projection: proj, Decode: res}, nil
}

// render encodes the views, the decoded sequence and the report
func (p *Processor) render(proj *projection.Projection, msgs []types.DecodedMessage, report *Report) (map[string][]byte, error) {
	views, err := projection.Encode(proj)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(views)+2)
	for name, data := range views {
		files[ViewFile(name)] = data
	}

	archive, err := codec.MarshalMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decoded messages: %w", err)
	}
	files[DecodedFile] = archive

	rep, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	files[ReportFile] = append(rep, '\n')
	return files, nil
}

// publishFailure replaces any earlier views with the report of a session
// that could not be decoded and indexes it as failed
func (p *Processor) publishFailure(ctx context.Context, report *Report) error {
	rep, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := p.storage.Publish(report.SessionID, map[string][]byte{ReportFile: append(rep, '\n')}); err != nil {
		return fmt.Errorf("failed to publish session %s: %w", report.SessionID, err)
	}
	if err := p.index.PutSession(ctx, report.Record(nil)); err != nil {
		return fmt.Errorf("failed to index session %s: %w", report.SessionID, err)
	}
	return nil
}

// finish runs the optional side effects of a published session. Their
// failures are logged and never undo the publication.
func (p *Processor) finish(ctx context.Context, report *Report, res *decoder.Result, summary []byte, start time.Time) {
	if p.errors != nil && res != nil {
		if err := p.errors.StoreDecodeErrors(ctx, report.SessionID, report.RunID, res.Errors); err != nil {
			log.Printf("Warning: failed to store decode errors of %s: %v", report.SessionID, err)
		}
	}

	if p.cache != nil && summary != nil {
		if err := p.cache.CacheSummary(ctx, report.SessionID, report.Version.Hash, summary); err != nil {
			log.Printf("Warning: failed to cache summary of %s: %v", report.SessionID, err)
		}
	}

	if p.events != nil {
		if err := p.events.PublishSessionEvent(report.Event()); err != nil {
			log.Printf("Warning: failed to publish event for %s: %v", report.SessionID, err)
		}
	}

	if p.stats != nil {
		p.stats.RecordDecode(res)
		p.stats.RecordSession(report.Status == types.StatusFailed, report.Reprocessed, p.now().Sub(start))
	}
}

// Summary returns the summary view of a session, from the cache when it
// holds one for the running decoder version
func (p *Processor) Summary(ctx context.Context, sessionID string) ([]byte, error) {
	hash := p.tracker.Current().Hash
	if p.cache != nil {
		cached, err := p.cache.GetSummary(ctx, sessionID, hash)
		if err != nil {
			log.Printf("Warning: summary cache lookup for %s failed: %v", sessionID, err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	summary, err := p.storage.ReadFile(sessionID, ViewFile(projection.ViewSummary))
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		rec, err := p.index.GetSession(ctx, sessionID)
		if err == nil && rec != nil && rec.VersionHash == hash {
			if err := p.cache.CacheSummary(ctx, sessionID, hash, summary); err != nil {
				log.Printf("Warning: failed to cache summary of %s: %v", sessionID, err)
			}
		}
	}
	return summary, nil
}

// Reproject rebuilds the views of a session from its archived decoded
// sequence without decoding the frames again
func (p *Processor) Reproject(ctx context.Context, sessionID string) (*projection.Projection, error) {
	schemaDoc, _, err := p.storage.LoadRaw(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	cat, err := schema.Load(schemaDoc, schema.FormatAuto, schema.BuildOptions{MessageClass: p.settings.MessageClass})
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	archive, err := p.storage.ReadFile(sessionID, DecodedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoded messages of %s: %w", sessionID, err)
	}
	msgs, err := codec.UnmarshalMessages(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to decode archived messages of %s: %w", sessionID, err)
	}
	report, err := p.storage.ReadFile(sessionID, ReportFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read report of %s: %w", sessionID, err)
	}
	rec, err := p.index.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read index entry of %s: %w", sessionID, err)
	}

	proj := projection.Build(cat, msgs)
	views, err := projection.Encode(proj)
	if err != nil {
		return nil, err
	}
	files := map[string][]byte{DecodedFile: archive, ReportFile: report}
	for name, data := range views {
		files[ViewFile(name)] = data
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.storage.Publish(sessionID, files); err != nil {
		return nil, fmt.Errorf("failed to publish session %s: %w", sessionID, err)
	}
	// a file index lives inside the replaced directory
	if rec != nil {
		if err := p.index.PutSession(ctx, *rec); err != nil {
			return nil, fmt.Errorf("failed to index session %s: %w", sessionID, err)
		}
	}
	return proj, nil
}
