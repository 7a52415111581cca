package migrations

// ReportingViews adds daily roll ups of the decoder statistics and the
// per session error breakdown
var ReportingViews = &Migration{
	Name: "002_reporting_views",
	Up: `
	-- Daily decoder statistics
	CREATE OR REPLACE VIEW decoder_stats_daily AS
	SELECT
		date_trunc('day', time) AS day,
		MAX(frames_total) AS frames_total,
		MAX(messages_decoded) AS messages_decoded,
		MAX(frames_filtered) AS frames_filtered,
		MAX(frames_failed) AS frames_failed,
		MAX(sessions_processed) AS sessions_processed,
		MAX(sessions_failed) AS sessions_failed,
		MAX(sessions_reprocessed) AS sessions_reprocessed
	FROM decoder_stats
	GROUP BY day;

	-- Decode errors per session and kind
	CREATE OR REPLACE VIEW session_error_summary AS
	SELECT
		s.session_id,
		s.version_hash,
		e.kind,
		COUNT(e.id) AS error_count
	FROM sessions s
	JOIN decode_errors e ON e.session_id = s.session_id
	GROUP BY s.session_id, s.version_hash, e.kind;
	`,
	Down: `
	DROP VIEW IF EXISTS session_error_summary;
	DROP VIEW IF EXISTS decoder_stats_daily;
	`,
}
