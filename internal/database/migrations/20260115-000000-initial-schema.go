package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260115-000000",
		Description: "Initial schema",
		Up: []string{
			// API keys - owner + credit ledger. Authenticated by key_hash only;
			// the plaintext key is never persisted.
			`CREATE TABLE IF NOT EXISTS api_keys (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				key_hash TEXT UNIQUE NOT NULL,
				key_prefix TEXT NOT NULL,
				remaining_credits INTEGER NOT NULL DEFAULT 0,
				is_active INTEGER NOT NULL DEFAULT 1,
				tier TEXT NOT NULL DEFAULT 'default',
				last_used_at TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_key_hash ON api_keys(key_hash)`,

			// Jobs - extraction requests, one row per URL (including each URL of a batch).
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				owner_key_id TEXT REFERENCES api_keys(id) ON DELETE SET NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				url TEXT NOT NULL,
				fields_json TEXT,
				schema_json TEXT,
				instructions TEXT,
				options_json TEXT,
				webhook_url TEXT,
				webhook_secret TEXT,
				result_path TEXT,
				token_usage INTEGER NOT NULL DEFAULT 0,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				blocked INTEGER NOT NULL DEFAULT 0,
				error_msg TEXT,
				idempotency_key TEXT,
				batch_id TEXT,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_owner_key_id ON jobs(owner_key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id)`,
			// compare-and-set claim ordering: oldest queued job first
			`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,

			// Schedules - recurring extractions dispatched by the cron scheduler.
			`CREATE TABLE IF NOT EXISTS schedules (
				id TEXT PRIMARY KEY,
				owner_key_id TEXT REFERENCES api_keys(id) ON DELETE SET NULL,
				cron_expr TEXT NOT NULL,
				url TEXT NOT NULL,
				fields_json TEXT,
				schema_json TEXT,
				instructions TEXT,
				options_json TEXT,
				webhook_url TEXT,
				webhook_secret TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				next_run_at TEXT NOT NULL,
				last_run_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(is_active, next_run_at)`,

			// Cache entries - deduplicated extraction results keyed by request fingerprint.
			`CREATE TABLE IF NOT EXISTS cache_entries (
				fingerprint TEXT PRIMARY KEY,
				result_path TEXT NOT NULL,
				token_usage INTEGER NOT NULL DEFAULT 0,
				content_chars INTEGER NOT NULL DEFAULT 0,
				hit_count INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				expires_at TEXT NOT NULL,
				last_hit_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,

			// Idempotency entries - one row per client-supplied idempotency key.
			`CREATE TABLE IF NOT EXISTS idempotency_entries (
				key TEXT PRIMARY KEY,
				request_body_hash TEXT NOT NULL,
				response_body TEXT NOT NULL,
				status_code INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				expires_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_entries(expires_at)`,

			// Scrape logs - append-only record of each extraction attempt.
			`CREATE TABLE IF NOT EXISTS scrape_logs (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				url TEXT NOT NULL,
				status TEXT NOT NULL,
				token_usage INTEGER NOT NULL DEFAULT 0,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				log_blob_key TEXT,
				result_blob_key TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_logs_job_id ON scrape_logs(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_logs_created_at ON scrape_logs(created_at)`,

			// Event logs - append-only semantic events (cache hit/miss, fallback, etc).
			`CREATE TABLE IF NOT EXISTS event_logs (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				job_id TEXT,
				data_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_event_logs_type_created ON event_logs(event_type, created_at)`,

			// Webhook dead letters - terminal failure records for exhausted retries.
			`CREATE TABLE IF NOT EXISTS webhook_dead_letters (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				url TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				last_status INTEGER,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_dead_letters_job_id ON webhook_dead_letters(job_id)`,

			// Rate limits - fixed-window counters for the distributed limiter.
			`CREATE TABLE IF NOT EXISTS rate_limits (
				client_key TEXT PRIMARY KEY,
				request_count INTEGER NOT NULL DEFAULT 0,
				window_end TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rate_limits_window_end ON rate_limits(window_end)`,
		},
	})
}
