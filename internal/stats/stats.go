package stats

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/uavlog/internal/db"
	"github.com/saviobatista/uavlog/internal/decoder"
)

// Persister stores statistics snapshots. *db.Client implements it.
type Persister interface {
	StoreDecoderStats(ctx context.Context, stats db.DecoderStats) error
}

// Stats tracks decoding statistics across sessions
type Stats struct {
	// Frame counts
	FramesTotal     uint64
	MessagesDecoded uint64
	FramesFiltered  uint64
	FramesFailed    uint64

	// Session counts
	SessionsProcessed   uint64
	SessionsFailed      uint64
	SessionsReprocessed uint64

	// Failed frames per decoder.ErrorKind, indexed by kind-1
	failedByKind []uint64

	// Decoded messages per message type name
	messageTypes map[string]uint64

	// Timing
	StartTime       time.Time
	LastSessionTime time.Time
	ProcessingTime  time.Duration

	db Persister

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{
		failedByKind: make([]uint64, len(decoder.Kinds())),
		messageTypes: make(map[string]uint64),
		StartTime:    time.Now(),
	}
}

// SetDB sets the persister used by Persist
func (s *Stats) SetDB(p Persister) {
	s.mu.Lock()
	s.db = p
	s.mu.Unlock()
}

// RecordDecode adds the counters of one decode run
func (s *Stats) RecordDecode(res *decoder.Result) {
	if res == nil {
		return
	}
	atomic.AddUint64(&s.FramesTotal, uint64(res.Frames))
	atomic.AddUint64(&s.MessagesDecoded, uint64(len(res.Messages)))
	atomic.AddUint64(&s.FramesFiltered, uint64(res.Filtered))
	atomic.AddUint64(&s.FramesFailed, uint64(len(res.Errors)))

	for _, e := range res.Errors {
		s.IncrementFailedKind(e.Kind)
	}

	s.mu.Lock()
	for _, m := range res.Messages {
		s.messageTypes[m.MessageType]++
	}
	s.mu.Unlock()
}

// IncrementFailedKind counts one failed frame of the given kind
func (s *Stats) IncrementFailedKind(kind decoder.ErrorKind) {
	i := int(kind) - 1
	if i >= 0 && i < len(s.failedByKind) {
		atomic.AddUint64(&s.failedByKind[i], 1)
	}
}

// RecordSession counts one finished session
func (s *Stats) RecordSession(failed, reprocessed bool, elapsed time.Duration) {
	if failed {
		atomic.AddUint64(&s.SessionsFailed, 1)
	} else {
		atomic.AddUint64(&s.SessionsProcessed, 1)
	}
	if reprocessed {
		atomic.AddUint64(&s.SessionsReprocessed, 1)
	}

	s.mu.Lock()
	s.LastSessionTime = time.Now()
	s.ProcessingTime += elapsed
	s.mu.Unlock()
}

// Snapshot is a consistent copy of the counters
type Snapshot struct {
	Time                time.Time
	FramesTotal         uint64
	MessagesDecoded     uint64
	FramesFiltered      uint64
	FramesFailed        uint64
	SessionsProcessed   uint64
	SessionsFailed      uint64
	SessionsReprocessed uint64
	FailedByKind        map[decoder.ErrorKind]uint64
	MessageTypes        map[string]uint64
	LastSessionTime     time.Time
	ProcessingTime      time.Duration
	Uptime              time.Duration
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	snap := Snapshot{
		Time:                now,
		FramesTotal:         atomic.LoadUint64(&s.FramesTotal),
		MessagesDecoded:     atomic.LoadUint64(&s.MessagesDecoded),
		FramesFiltered:      atomic.LoadUint64(&s.FramesFiltered),
		FramesFailed:        atomic.LoadUint64(&s.FramesFailed),
		SessionsProcessed:   atomic.LoadUint64(&s.SessionsProcessed),
		SessionsFailed:      atomic.LoadUint64(&s.SessionsFailed),
		SessionsReprocessed: atomic.LoadUint64(&s.SessionsReprocessed),
		FailedByKind:        make(map[decoder.ErrorKind]uint64, len(s.failedByKind)),
		MessageTypes:        make(map[string]uint64, len(s.messageTypes)),
		LastSessionTime:     s.LastSessionTime,
		ProcessingTime:      s.ProcessingTime,
		Uptime:              now.Sub(s.StartTime),
	}
	for i, kind := range decoder.Kinds() {
		snap.FailedByKind[kind] = atomic.LoadUint64(&s.failedByKind[i])
	}
	for name, n := range s.messageTypes {
		snap.MessageTypes[name] = n
	}
	return snap
}

// Row converts the snapshot to a decoder_stats row
func (snap Snapshot) Row() db.DecoderStats {
	row := db.DecoderStats{
		Time:                snap.Time,
		FramesTotal:         int64(snap.FramesTotal),
		MessagesDecoded:     int64(snap.MessagesDecoded),
		FramesFiltered:      int64(snap.FramesFiltered),
		FramesFailed:        int64(snap.FramesFailed),
		SessionsProcessed:   int64(snap.SessionsProcessed),
		SessionsFailed:      int64(snap.SessionsFailed),
		SessionsReprocessed: int64(snap.SessionsReprocessed),
		FailedByKind:        make([]int64, 0, len(decoder.Kinds())),
		MessageTypes:        make(map[string]int64, len(snap.MessageTypes)),
		ProcessingTime:      snap.ProcessingTime,
		Uptime:              snap.Uptime,
	}
	for _, kind := range decoder.Kinds() {
		row.FailedByKind = append(row.FailedByKind, int64(snap.FailedByKind[kind]))
	}
	for name, n := range snap.MessageTypes {
		row.MessageTypes[name] = int64(n)
	}
	return row
}

// Persist stores the current statistics in the database
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	p := s.db
	s.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("database client not set")
	}
	return p.StoreDecoderStats(ctx, s.GetStats().Row())
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.GetStats()

	var failed []string
	for _, kind := range decoder.Kinds() {
		if n := snap.FailedByKind[kind]; n > 0 {
			failed = append(failed, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	names := make([]string, 0, len(snap.MessageTypes))
	for name := range snap.MessageTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		names[i] = fmt.Sprintf("%s=%d", name, snap.MessageTypes[name])
	}

	return fmt.Sprintf(
		"Frames: %d\n"+
			"Messages Decoded: %d\n"+
			"Frames Filtered: %d\n"+
			"Frames Failed: %d [%s]\n"+
			"Sessions Processed: %d\n"+
			"Sessions Failed: %d\n"+
			"Sessions Reprocessed: %d\n"+
			"Message Types: [%s]\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		snap.FramesTotal,
		snap.MessagesDecoded,
		snap.FramesFiltered,
		snap.FramesFailed, strings.Join(failed, " "),
		snap.SessionsProcessed,
		snap.SessionsFailed,
		snap.SessionsReprocessed,
		strings.Join(names, " "),
		snap.ProcessingTime,
		snap.Uptime.Round(time.Second),
	)
}

// StartPersistence periodically persists statistics until ctx is done
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				log.Printf("Failed to persist final statistics: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				log.Printf("Failed to persist statistics: %v", err)
			}
		}
	}
}
