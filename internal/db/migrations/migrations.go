// Package migrations keeps the PostgreSQL schema of the session index in
// step with the code. Each migration runs in its own transaction under an
// advisory lock, so services started together apply it once.
package migrations

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zeebo/blake3"
)

// lockKey names the advisory lock held while the schema changes
const lockKey int64 = 0x7561766c6f67

var (
	// ErrModified reports a recorded migration whose script no longer
	// matches the one in this build
	ErrModified = errors.New("applied migration was modified")
	// ErrNothingApplied is returned by Rollback on an empty history
	ErrNothingApplied = errors.New("no migrations to rollback")
)

// Migration is one reversible schema change
type Migration struct {
	Name string
	Up   string
	Down string
}

// Checksum identifies the Up script
func (m *Migration) Checksum() string {
	sum := blake3.Sum256([]byte(m.Up))
	return hex.EncodeToString(sum[:8])
}

// All returns every migration in apply order
func All() []*Migration {
	return []*Migration{
		InitialSchema,
		ReportingViews,
	}
}

// Applied is one row of the migration history
type Applied struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Migrator applies and reverts migrations on one database
type Migrator struct {
	db *sql.DB
}

// New creates a new Migrator
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the history table if it doesn't exist
func (m *Migrator) Initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Applied returns the migration history, oldest first
func (m *Migrator) Applied() ([]Applied, error) {
	rows, err := m.db.Query(`SELECT name, checksum, applied_at FROM schema_migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		history = append(history, a)
	}
	return history, rows.Err()
}

// Pending returns the migrations of all that have no history row yet.
// A recorded migration whose script changed since it ran is an error.
func (m *Migrator) Pending(all []*Migration) ([]*Migration, error) {
	history, err := m.Applied()
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]string, len(history))
	for _, a := range history {
		recorded[a.Name] = a.Checksum
	}

	var pending []*Migration
	for _, mig := range all {
		sum, ok := recorded[mig.Name]
		switch {
		case !ok:
			pending = append(pending, mig)
		case sum != mig.Checksum():
			return nil, fmt.Errorf("%w: %s", ErrModified, mig.Name)
		}
	}
	return pending, nil
}

// Migrate applies the pending migrations in order and returns how many ran.
// A migration another process applied meanwhile is skipped.
func (m *Migrator) Migrate(all []*Migration) (int, error) {
	if err := m.Initialize(); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	pending, err := m.Pending(all)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration history: %w", err)
	}

	ran := 0
	for _, mig := range pending {
		applied, err := m.apply(mig)
		if err != nil {
			return ran, fmt.Errorf("failed to apply migration %s: %w", mig.Name, err)
		}
		if applied {
			ran++
			log.Printf("Applied migration: %s", mig.Name)
		}
	}
	return ran, nil
}

func (m *Migrator) apply(mig *Migration) (bool, error) {
	applied := false
	err := m.locked(func(tx *sql.Tx) error {
		var done bool
		if err := tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, mig.Name).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(mig.Up); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`, mig.Name, mig.Checksum()); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// Rollback reverts the most recently applied migration and returns its name
func (m *Migrator) Rollback(all []*Migration) (string, error) {
	history, err := m.Applied()
	if err != nil {
		return "", fmt.Errorf("failed to read migration history: %w", err)
	}
	if len(history) == 0 {
		return "", ErrNothingApplied
	}
	last := history[len(history)-1].Name

	var mig *Migration
	for _, candidate := range all {
		if candidate.Name == last {
			mig = candidate
		}
	}
	if mig == nil {
		return "", fmt.Errorf("migration %s is not known to this build", last)
	}

	err = m.locked(func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.Down); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM schema_migrations WHERE name = $1`, mig.Name)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to rollback migration %s: %w", mig.Name, err)
	}
	log.Printf("Rolled back migration: %s", mig.Name)
	return mig.Name, nil
}

// locked runs fn in a transaction that holds the migration lock
func (m *Migrator) locked(fn func(*sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`SELECT pg_advisory_xact_lock($1)`, lockKey)
	if err == nil {
		err = fn(tx)
	}
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("Warning: failed to rollback transaction: %v", rerr)
		}
		return err
	}
	return tx.Commit()
}
