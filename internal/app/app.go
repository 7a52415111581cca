// Package app wires the configured backends into a session processor.
// Every external service is optional: without a database the index lives
// in the output tree, without Redis there is no summary cache and the lock
// is in-process, without NATS no events are published.
package app

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/saviobatista/uavlog/internal/config"
	"github.com/saviobatista/uavlog/internal/db"
	"github.com/saviobatista/uavlog/internal/nats"
	"github.com/saviobatista/uavlog/internal/pipeline"
	"github.com/saviobatista/uavlog/internal/projection"
	"github.com/saviobatista/uavlog/internal/redis"
	"github.com/saviobatista/uavlog/internal/stats"
	"github.com/saviobatista/uavlog/internal/storage"
	"github.com/saviobatista/uavlog/internal/version"
)

// App holds the processor and the clients it was built from
type App struct {
	Config    *config.Config
	Storage   *storage.Storage
	Processor *pipeline.Processor
	Stats     *stats.Stats

	DB    *db.Client
	Redis *redis.Client
	NATS  *nats.Client
}

// Options adjust how Open wires the backends
type Options struct {
	// DryRun keeps the version stamp in memory so nothing persists it
	DryRun bool
	// Offline ignores every configured external service
	Offline bool
}

// StagingGracePeriod is how long a staging directory may belong to another
// process that is still publishing into the same output directory
const StagingGracePeriod = 15 * time.Minute

// Open connects the configured services and builds the processor. Clients
// opened before a failure are closed again.
func Open(cfg *config.Config, opts Options) (*App, error) {
	decodeOpts, err := cfg.Decoder.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid decoder settings: %w", err)
	}

	var compress []string
	if cfg.Compress {
		compress = []string{pipeline.ViewFile(projection.ViewMessages), pipeline.DecodedFile}
	}
	a := &App{
		Config:  cfg,
		Storage: storage.New(cfg.OutputDir, compress...),
		Stats:   stats.New(),
	}
	if n, err := a.Storage.CleanStaging(StagingGracePeriod); err != nil {
		log.Printf("Warning: failed to clean staging directories: %v", err)
	} else if n > 0 {
		log.Printf("Removed %d abandoned staging directories", n)
	}

	if !opts.Offline {
		if err := a.connect(); err != nil {
			a.Close()
			return nil, err
		}
	}

	var (
		index  pipeline.Index         = storage.NewFileIndex(a.Storage)
		stamps version.StampStore     = version.NewFileStore(cfg.StampFile())
		locker version.Locker
	)
	if a.DB != nil {
		index = a.DB
		stamps = a.DB.StampStore()
		a.Stats.SetDB(a.DB)
	} else if a.Redis != nil {
		stamps = a.Redis.StampStore()
	}
	if a.Redis != nil {
		locker = a.Redis.Locker()
	}
	if opts.DryRun {
		stamps = &version.MemoryStore{}
	}

	tracker := version.NewTracker(stamps, locker, nil)
	a.Processor = pipeline.NewProcessor(a.Storage, index, tracker, pipeline.Settings{
		Decode:       decodeOpts,
		MessageClass: cfg.Decoder.MessageClass,
		Workers:      cfg.Workers,
	})
	a.Processor.SetStats(a.Stats)
	if a.DB != nil {
		a.Processor.SetErrorStore(a.DB)
	}
	if a.Redis != nil {
		a.Processor.SetCache(a.Redis)
	}
	if a.NATS != nil {
		a.Processor.SetPublisher(a.NATS)
	}
	return a, nil
}

func (a *App) connect() error {
	cfg := a.Config
	var err error
	if cfg.DBConnStr != "" {
		if a.DB, err = db.New(cfg.DBConnStr); err != nil {
			return fmt.Errorf("failed to create database client: %w", err)
		}
	}
	if cfg.RedisAddr != "" {
		if a.Redis, err = redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL); err != nil {
			return fmt.Errorf("failed to create Redis client: %w", err)
		}
	}
	if cfg.NATSURL != "" {
		if a.NATS, err = nats.New(cfg.NATSURL); err != nil {
			return fmt.Errorf("failed to create NATS client: %w", err)
		}
	}
	return nil
}

// Close closes every open client
func (a *App) Close() {
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
}
