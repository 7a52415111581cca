package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/uavlog/internal/app"
	"github.com/saviobatista/uavlog/internal/config"
	"github.com/saviobatista/uavlog/internal/pipeline"
	"github.com/saviobatista/uavlog/internal/schema"
	"github.com/saviobatista/uavlog/internal/stats"
	"github.com/saviobatista/uavlog/internal/types"
)

// durableName is the JetStream consumer shared by every reprocessor
const durableName = "uavlog-reprocessor"

// SessionProcessor interface for testability
type SessionProcessor interface {
	Reprocess(ctx context.Context, force bool) (*pipeline.ReprocessResult, error)
	ReprocessSession(ctx context.Context, sessionID string) (*pipeline.Output, error)
}

// Reprocessor rebuilds sessions after decoder changes and on request
type Reprocessor struct {
	proc  SessionProcessor
	stats *stats.Stats

	// one pass at a time; passes share the index and the stamp
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewReprocessor creates a new reprocessor
func NewReprocessor(proc SessionProcessor, st *stats.Stats) *Reprocessor {
	if st == nil {
		st = stats.New()
	}
	return &Reprocessor{proc: proc, stats: st}
}

// Start starts the statistics loops and runs a catch-up pass. A zero
// statsInterval disables persistence of the statistics.
func (r *Reprocessor) Start(ctx context.Context, statsInterval time.Duration) error {
	go r.logStats(ctx, time.Minute)
	if statsInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.stats.StartPersistence(ctx, statsInterval)
		}()
	}

	if err := r.catchUp(ctx); err != nil {
		return fmt.Errorf("failed to rebuild stale sessions: %w", err)
	}
	return nil
}

// catchUp rebuilds whatever the running decoder considers stale
func (r *Reprocessor) catchUp(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.proc.Reprocess(ctx, false)
	if res != nil {
		log.Printf("Startup pass: %d sessions rebuilt, %d failed, stamp committed: %v",
			len(res.Rebuilt), len(res.Failed), res.Committed)
	}
	return err
}

// HandleRequest serves one reprocess request. A request without a session
// id rebuilds every stale session, or every session when forced.
func (r *Reprocessor) HandleRequest(ctx context.Context, req *types.ReprocessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.SessionID == "" {
		res, err := r.proc.Reprocess(ctx, req.Force)
		if err != nil {
			return err
		}
		log.Printf("Reprocessed %d sessions, stamp committed: %v", len(res.Rebuilt), res.Committed)
		return nil
	}

	out, err := r.proc.ReprocessSession(ctx, req.SessionID)
	if errors.Is(err, schema.ErrSchema) {
		// indexed as failed; a retry cannot change that
		log.Printf("Session %s is unprocessable: %v", req.SessionID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reprocess %s: %w", req.SessionID, err)
	}
	log.Printf("Reprocessed session %s: %s", req.SessionID, out.Report.Status)
	return nil
}

// Wait blocks until the statistics have been persisted for the last time
func (r *Reprocessor) Wait() {
	r.wg.Wait()
}

// logStats periodically logs statistics
func (r *Reprocessor) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", r.stats)
		}
	}
}

// parseEnvironment loads the configuration and the statistics interval
func parseEnvironment() (*config.Config, time.Duration, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, 0, err
	}

	interval := 5 * time.Minute
	if v := os.Getenv("STATS_INTERVAL"); v != "" {
		if interval, err = time.ParseDuration(v); err != nil || interval <= 0 {
			return nil, 0, fmt.Errorf("invalid STATS_INTERVAL %q", v)
		}
	}
	return cfg, interval, nil
}

// setupSubscription subscribes the reprocessor to reprocess requests
func setupSubscription(ctx context.Context, a *app.App, r *Reprocessor) error {
	if a.NATS == nil {
		return errors.New("NATS_URL is required to receive reprocess requests")
	}
	if _, err := a.NATS.SubscribeReprocess(durableName, func(req *types.ReprocessRequest) error {
		return r.HandleRequest(ctx, req)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to reprocess requests: %w", err)
	}
	return nil
}

// waitForShutdown waits for shutdown signals and handles cleanup
func waitForShutdown(cancel context.CancelFunc, r *Reprocessor, a *app.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	r.Wait()
	a.Close()
}

func main() {
	cfg, statsInterval, err := parseEnvironment()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	a, err := app.Open(cfg, app.Options{})
	if err != nil {
		log.Printf("Failed to create clients: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReprocessor(a.Processor, a.Stats)
	if a.DB == nil {
		statsInterval = 0
	}
	if err := r.Start(ctx, statsInterval); err != nil {
		// sessions left stale are picked up by the next request
		log.Printf("Warning: %v", err)
	}

	if err := setupSubscription(ctx, a, r); err != nil {
		log.Printf("Failed to setup NATS subscription: %v", err)
		cancel()
		a.Close()
		os.Exit(1)
	}

	waitForShutdown(cancel, r, a)
}
