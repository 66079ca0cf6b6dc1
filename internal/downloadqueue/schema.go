package downloadqueue

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS download_queue (
	story_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	total_spreads INTEGER NOT NULL DEFAULT 0,
	completed_spreads INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'queued',
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at DATETIME,
	error_message TEXT NOT NULL DEFAULT '',
	queued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_download_queue_status ON download_queue(status, queued_at);

CREATE TABLE IF NOT EXISTS spread_downloads (
	story_id TEXT NOT NULL,
	spread_number INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	image_url TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT '',
	bytes_downloaded INTEGER NOT NULL DEFAULT 0,
	bytes_total INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (story_id, spread_number),
	FOREIGN KEY (story_id) REFERENCES download_queue(story_id) ON DELETE CASCADE
);
`
