package migrations

// InitialSchema creates the session index, version stamp and statistics tables
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	Up: `
		-- Create sessions table
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			version_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			frames_total BIGINT NOT NULL DEFAULT 0,
			message_count BIGINT NOT NULL DEFAULT 0,
			aircraft_count INTEGER NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			start_time DOUBLE PRECISION,
			end_time DOUBLE PRECISION,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			error TEXT,
			session_time TIMESTAMPTZ
		);

		-- Create indexes for sessions
		CREATE INDEX IF NOT EXISTS idx_sessions_version_hash ON sessions (version_hash);
		CREATE INDEX IF NOT EXISTS idx_sessions_session_time ON sessions (session_time);

		-- Create version stamps table
		CREATE TABLE IF NOT EXISTS version_stamps (
			id BIGSERIAL PRIMARY KEY,
			hash TEXT NOT NULL,
			artifacts TEXT[] NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		);

		-- Create decode errors table
		CREATE TABLE IF NOT EXISTS decode_errors (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			byte_offset BIGINT NOT NULL,
			aircraft_id BIGINT NOT NULL,
			message_id INTEGER NOT NULL,
			message_type TEXT,
			detail TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_decode_errors_session_id ON decode_errors (session_id);

		-- Create statistics table
		CREATE TABLE IF NOT EXISTS decoder_stats (
			time TIMESTAMPTZ NOT NULL,
			frames_total BIGINT NOT NULL,
			messages_decoded BIGINT NOT NULL,
			frames_filtered BIGINT NOT NULL,
			frames_failed BIGINT NOT NULL,
			sessions_processed BIGINT NOT NULL,
			sessions_failed BIGINT NOT NULL,
			sessions_reprocessed BIGINT NOT NULL,
			failed_by_kind BIGINT[] NOT NULL,
			message_types JSONB NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		-- Create index for statistics
		CREATE INDEX IF NOT EXISTS idx_decoder_stats_time ON decoder_stats (time DESC);
	`,
	Down: `
		DROP TABLE IF EXISTS decoder_stats;
		DROP TABLE IF EXISTS decode_errors;
		DROP TABLE IF EXISTS version_stamps;
		DROP TABLE IF EXISTS sessions;
	`,
}
