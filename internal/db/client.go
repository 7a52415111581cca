package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/uavlog/internal/decoder"
	"github.com/saviobatista/uavlog/internal/types"
	"github.com/saviobatista/uavlog/internal/version"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// DB exposes the connection for the migrator
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

const sessionColumns = `session_id, run_id, version_hash, status, processed_at,
			frames_total, message_count, aircraft_count, error_count,
			start_time, end_time, duration, error, session_time`

// PutSession inserts or replaces the index entry of a session
func (c *Client) PutSession(ctx context.Context, rec types.SessionRecord) error {
	query := `
		INSERT INTO sessions (
			` + sessionColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			version_hash = EXCLUDED.version_hash,
			status = EXCLUDED.status,
			processed_at = EXCLUDED.processed_at,
			frames_total = EXCLUDED.frames_total,
			message_count = EXCLUDED.message_count,
			aircraft_count = EXCLUDED.aircraft_count,
			error_count = EXCLUDED.error_count,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			duration = EXCLUDED.duration,
			error = EXCLUDED.error,
			session_time = EXCLUDED.session_time
	`
	_, err := c.db.ExecContext(ctx, query,
		rec.SessionID, rec.RunID, rec.VersionHash, rec.Status, rec.ProcessedAt,
		rec.FramesTotal, rec.MessageCount, rec.AircraftCount, rec.ErrorCount,
		rec.StartTime, rec.EndTime, rec.Duration, rec.Error, rec.SessionTime,
	)
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", rec.SessionID, err)
	}
	return nil
}

// GetSession returns the index entry of a session, or nil when unknown
func (c *Client) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE session_id = $1
	`
	rec, err := scanSession(c.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSessions returns every indexed session ordered by id
func (c *Client) ListSessions(ctx context.Context) ([]types.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		ORDER BY session_id
	`
	return c.querySessions(ctx, query)
}

// ListStaleSessions returns sessions built by a decoder other than hash
func (c *Client) ListStaleSessions(ctx context.Context, hash string) ([]types.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE version_hash <> $1
		ORDER BY session_id
	`
	return c.querySessions(ctx, query, hash)
}

func (c *Client) querySessions(ctx context.Context, query string, args ...interface{}) ([]types.SessionRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []types.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*types.SessionRecord, error) {
	var (
		rec         types.SessionRecord
		start, end  sql.NullFloat64
		sessionTime sql.NullTime
		errText     sql.NullString
	)
	if err := row.Scan(
		&rec.SessionID, &rec.RunID, &rec.VersionHash, &rec.Status, &rec.ProcessedAt,
		&rec.FramesTotal, &rec.MessageCount, &rec.AircraftCount, &rec.ErrorCount,
		&start, &end, &rec.Duration, &errText, &sessionTime,
	); err != nil {
		return nil, err
	}
	if start.Valid {
		rec.StartTime = &start.Float64
	}
	if end.Valid {
		rec.EndTime = &end.Float64
	}
	if sessionTime.Valid {
		rec.SessionTime = &sessionTime.Time
	}
	rec.Error = errText.String
	return &rec, nil
}

// StoreDecodeErrors replaces the recorded decode errors of a session
func (c *Client) StoreDecodeErrors(ctx context.Context, sessionID, runID string, errs []*decoder.DecodeError) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM decode_errors WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear decode errors: %w", err)
	}

	if len(errs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO decode_errors (
				session_id, run_id, kind, byte_offset, aircraft_id, message_id, message_type, detail
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range errs {
			if _, err := stmt.ExecContext(ctx,
				sessionID, runID, e.Kind.String(), e.Offset,
				int64(e.AircraftID), int(e.MessageID), e.Message, e.Detail,
			); err != nil {
				return fmt.Errorf("failed to store decode error: %w", err)
			}
		}
	}

	return tx.Commit()
}

// CountDecodeErrors returns the recorded errors of a session per kind
func (c *Client) CountDecodeErrors(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM decode_errors
		WHERE session_id = $1
		GROUP BY kind
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// StampStore keeps the decoder version stamp in the version_stamps table.
// Every commit appends a row; the newest row is current.
type StampStore struct {
	db *sql.DB
}

// StampStore returns a version stamp store on this connection
func (c *Client) StampStore() *StampStore {
	return &StampStore{db: c.db}
}

// Load returns the newest stamp
func (s *StampStore) Load(ctx context.Context) (*version.Stamp, error) {
	query := `
		SELECT hash, artifacts, generated_at
		FROM version_stamps
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`
	var st version.Stamp
	err := s.db.QueryRowContext(ctx, query).Scan(&st.Hash, pq.Array(&st.Artifacts), &st.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, version.ErrNoStamp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version stamp: %w", err)
	}
	return &st, nil
}

// Save appends a stamp
func (s *StampStore) Save(ctx context.Context, st version.Stamp) error {
	query := `
		INSERT INTO version_stamps (hash, artifacts, generated_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, st.Hash, pq.Array(st.Artifacts), st.GeneratedAt); err != nil {
		return fmt.Errorf("failed to save version stamp: %w", err)
	}
	return nil
}

// DecoderStats is one row of the decoder_stats table. FailedByKind is
// indexed by decoder.ErrorKind in decoder.Kinds() order.
type DecoderStats struct {
	Time                time.Time
	FramesTotal         int64
	MessagesDecoded     int64
	FramesFiltered      int64
	FramesFailed        int64
	SessionsProcessed   int64
	SessionsFailed      int64
	SessionsReprocessed int64
	FailedByKind        []int64
	MessageTypes        map[string]int64
	ProcessingTime      time.Duration
	Uptime              time.Duration
}

// StoreDecoderStats stores a statistics snapshot
func (c *Client) StoreDecoderStats(ctx context.Context, stats DecoderStats) error {
	query := `
		INSERT INTO decoder_stats (
			time, frames_total, messages_decoded, frames_filtered, frames_failed,
			sessions_processed, sessions_failed, sessions_reprocessed,
			failed_by_kind, message_types, processing_time_ms, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	messageTypes := stats.MessageTypes
	if messageTypes == nil {
		messageTypes = map[string]int64{}
	}
	typesJSON, err := json.Marshal(messageTypes)
	if err != nil {
		return fmt.Errorf("failed to encode message types: %w", err)
	}
	failed := stats.FailedByKind
	if failed == nil {
		failed = []int64{}
	}

	_, err = c.db.ExecContext(ctx, query,
		stats.Time,
		stats.FramesTotal,
		stats.MessagesDecoded,
		stats.FramesFiltered,
		stats.FramesFailed,
		stats.SessionsProcessed,
		stats.SessionsFailed,
		stats.SessionsReprocessed,
		pq.Array(failed),
		string(typesJSON),
		stats.ProcessingTime.Milliseconds(),
		int64(stats.Uptime.Seconds()),
	)
	return err
}

// GetDecoderStats retrieves statistics snapshots for a time range, newest first
func (c *Client) GetDecoderStats(ctx context.Context, start, end time.Time) ([]DecoderStats, error) {
	query := `
		SELECT
			time, frames_total, messages_decoded, frames_filtered, frames_failed,
			sessions_processed, sessions_failed, sessions_reprocessed,
			failed_by_kind, message_types, processing_time_ms, uptime_seconds
		FROM decoder_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DecoderStats
	for rows.Next() {
		var (
			s                DecoderStats
			typesJSON        []byte
			processingTimeMs int64
			uptimeSeconds    int64
		)
		if err := rows.Scan(
			&s.Time,
			&s.FramesTotal,
			&s.MessagesDecoded,
			&s.FramesFiltered,
			&s.FramesFailed,
			&s.SessionsProcessed,
			&s.SessionsFailed,
			&s.SessionsReprocessed,
			pq.Array(&s.FailedByKind),
			&typesJSON,
			&processingTimeMs,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(typesJSON, &s.MessageTypes); err != nil {
			return nil, fmt.Errorf("failed to decode message types: %w", err)
		}
		s.ProcessingTime = time.Duration(processingTimeMs) * time.Millisecond
		s.Uptime = time.Duration(uptimeSeconds) * time.Second
		result = append(result, s)
	}

	return result, rows.Err()
}
