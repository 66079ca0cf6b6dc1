// Package downloadqueue is the durable checkpoint for background story
// downloads. Queue and per-spread progress live in sqlite, so a sync worker
// can resume exactly where it left off after a restart or crash.
package downloadqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Story download statuses.
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Spread download statuses.
const (
	SpreadPending     = "pending"
	SpreadDownloading = "downloading"
	SpreadCompleted   = "completed"
	SpreadFailed      = "failed"
)

// Queue errors
var (
	// ErrNotQueued is returned when an operation targets a story that is
	// not in the queue.
	ErrNotQueued = errors.New("downloadqueue: story not queued")
)

// StoryEntry is one queued story download.
type StoryEntry struct {
	StoryID          string     `db:"story_id"`
	Title            string     `db:"title"`
	TotalSpreads     int        `db:"total_spreads"`
	CompletedSpreads int        `db:"completed_spreads"`
	Status           string     `db:"status"`
	RetryCount       int        `db:"retry_count"`
	NextRetryAt      *time.Time `db:"next_retry_at"`
	ErrorMessage     string     `db:"error_message"`
	QueuedAt         time.Time  `db:"queued_at"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// SpreadEntry is the download record for one spread of a queued story.
type SpreadEntry struct {
	StoryID         string    `db:"story_id"`
	SpreadNumber    int       `db:"spread_number"`
	Status          string    `db:"status"`
	ImageURL        string    `db:"image_url"`
	LocalPath       string    `db:"local_path"`
	BytesDownloaded int64     `db:"bytes_downloaded"`
	BytesTotal      int64     `db:"bytes_total"`
	ErrorMessage    string    `db:"error_message"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// StoryUpdates carries the optional fields of a partial status update. Nil
// fields are left untouched in the row.
type StoryUpdates struct {
	CompletedSpreads *int
	RetryCount       *int
	NextRetryAt      *time.Time
	// ClearNextRetry nulls next_retry_at; it wins over NextRetryAt.
	ClearNextRetry bool
	ErrorMessage   *string
}

// SpreadUpdates carries the optional fields of a spread status update. Nil
// fields are left untouched in the row.
type SpreadUpdates struct {
	LocalPath       *string
	BytesDownloaded *int64
	BytesTotal      *int64
	ErrorMessage    *string
}

// Queue is the durable download queue.
type Queue struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the queue database at dsn and applies the
// schema.
func Open(dsn string) (*Queue, error) {
	// Pragmas ride on the DSN so the driver applies them to every pooled
	// connection, not just whichever one ran an Exec at open time.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping queue db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// QueueStory enqueues a story for download. Re-queuing an existing story
// resets it to queued without losing its original enqueue position.
func (q *Queue) QueueStory(ctx context.Context, storyID, title string, totalSpreads int) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO download_queue (story_id, title, total_spreads, status, queued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(story_id) DO UPDATE SET
			title = excluded.title,
			total_spreads = excluded.total_spreads,
			status = ?,
			started_at = NULL,
			completed_at = NULL,
			updated_at = excluded.updated_at`,
		storyID, title, totalSpreads, StatusQueued, now, now, StatusQueued)
	if err != nil {
		return fmt.Errorf("queue story %s: %w", storyID, err)
	}
	return nil
}

// UpdateStoryStatus sets the story's status and applies any supplied
// partial updates. Fields left nil in updates are not written.
func (q *Queue) UpdateStoryStatus(ctx context.Context, storyID, status string, updates *StoryUpdates) error {
	now := time.Now().UTC()
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{status, now}

	// Lifecycle timestamps follow the status transition. started_at keeps
	// its first value across retries of the same queue entry.
	switch status {
	case StatusDownloading:
		set = append(set, "started_at = COALESCE(started_at, ?)")
		args = append(args, now)
	case StatusCompleted:
		set = append(set, "completed_at = ?")
		args = append(args, now)
	}

	if updates != nil {
		if updates.CompletedSpreads != nil {
			set = append(set, "completed_spreads = ?")
			args = append(args, *updates.CompletedSpreads)
		}
		if updates.RetryCount != nil {
			set = append(set, "retry_count = ?")
			args = append(args, *updates.RetryCount)
		}
		switch {
		case updates.ClearNextRetry:
			set = append(set, "next_retry_at = NULL")
		case updates.NextRetryAt != nil:
			set = append(set, "next_retry_at = ?")
			args = append(args, updates.NextRetryAt.UTC())
		}
		if updates.ErrorMessage != nil {
			set = append(set, "error_message = ?")
			args = append(args, *updates.ErrorMessage)
		}
	}

	args = append(args, storyID)
	res, err := q.db.ExecContext(ctx,
		"UPDATE download_queue SET "+strings.Join(set, ", ")+" WHERE story_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update story %s: %w", storyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotQueued
	}
	return nil
}

// IncrementCompletedSpreads bumps the completed counter with a single
// in-database increment, so concurrent spread completions never clobber
// each other the way a read-then-write-full-value would.
func (q *Queue) IncrementCompletedSpreads(ctx context.Context, storyID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE download_queue
		SET completed_spreads = completed_spreads + 1, updated_at = ?
		WHERE story_id = ?`,
		time.Now().UTC(), storyID)
	if err != nil {
		return fmt.Errorf("increment completed spreads for %s: %w", storyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotQueued
	}
	return nil
}

// Story returns one queue entry.
func (q *Queue) Story(ctx context.Context, storyID string) (*StoryEntry, error) {
	var entry StoryEntry
	err := q.db.GetContext(ctx, &entry,
		"SELECT * FROM download_queue WHERE story_id = ?", storyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotQueued
	}
	if err != nil {
		return nil, fmt.Errorf("load story %s: %w", storyID, err)
	}
	return &entry, nil
}

// AllStories returns every queue entry in enqueue order.
func (q *Queue) AllStories(ctx context.Context) ([]StoryEntry, error) {
	return q.selectStories(ctx, "SELECT * FROM download_queue ORDER BY queued_at")
}

// QueuedStories returns stories still waiting to start, oldest first.
func (q *Queue) QueuedStories(ctx context.Context) ([]StoryEntry, error) {
	return q.selectStories(ctx,
		"SELECT * FROM download_queue WHERE status = ? ORDER BY queued_at", StatusQueued)
}

// IncompleteStories returns queued and in-flight stories in enqueue order,
// the resume set for a restarted sync worker.
func (q *Queue) IncompleteStories(ctx context.Context) ([]StoryEntry, error) {
	return q.selectStories(ctx,
		"SELECT * FROM download_queue WHERE status IN (?, ?) ORDER BY queued_at",
		StatusQueued, StatusDownloading)
}

func (q *Queue) selectStories(ctx context.Context, query string, args ...any) ([]StoryEntry, error) {
	var entries []StoryEntry
	if err := q.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

// RemoveFromQueue deletes the story's entry; spread rows cascade.
func (q *Queue) RemoveFromQueue(ctx context.Context, storyID string) error {
	if _, err := q.db.ExecContext(ctx,
		"DELETE FROM download_queue WHERE story_id = ?", storyID); err != nil {
		return fmt.Errorf("remove story %s: %w", storyID, err)
	}
	return nil
}

// QueueSpread records one spread to download for a queued story.
func (q *Queue) QueueSpread(ctx context.Context, storyID string, spreadNumber int, imageURL string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO spread_downloads (story_id, spread_number, status, image_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(story_id, spread_number) DO UPDATE SET
			image_url = excluded.image_url,
			updated_at = excluded.updated_at`,
		storyID, spreadNumber, SpreadPending, imageURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("queue spread %d of %s: %w", spreadNumber, storyID, err)
	}
	return nil
}

// UpdateSpreadStatus sets one spread's status and applies any supplied
// partial updates. Fields left nil in updates are not written.
func (q *Queue) UpdateSpreadStatus(ctx context.Context, storyID string, spreadNumber int, status string, updates *SpreadUpdates) error {
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{status, time.Now().UTC()}

	if updates != nil {
		if updates.LocalPath != nil {
			set = append(set, "local_path = ?")
			args = append(args, *updates.LocalPath)
		}
		if updates.BytesDownloaded != nil {
			set = append(set, "bytes_downloaded = ?")
			args = append(args, *updates.BytesDownloaded)
		}
		if updates.BytesTotal != nil {
			set = append(set, "bytes_total = ?")
			args = append(args, *updates.BytesTotal)
		}
		if updates.ErrorMessage != nil {
			set = append(set, "error_message = ?")
			args = append(args, *updates.ErrorMessage)
		}
	}

	args = append(args, storyID, spreadNumber)

	res, err := q.db.ExecContext(ctx,
		"UPDATE spread_downloads SET "+strings.Join(set, ", ")+" WHERE story_id = ? AND spread_number = ?",
		args...)
	if err != nil {
		return fmt.Errorf("update spread %d of %s: %w", spreadNumber, storyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotQueued
	}
	return nil
}

// SpreadDownloads returns every spread row for a story in page order.
func (q *Queue) SpreadDownloads(ctx context.Context, storyID string) ([]SpreadEntry, error) {
	var entries []SpreadEntry
	err := q.db.SelectContext(ctx, &entries,
		"SELECT * FROM spread_downloads WHERE story_id = ? ORDER BY spread_number", storyID)
	if err != nil {
		return nil, fmt.Errorf("list spreads of %s: %w", storyID, err)
	}
	return entries, nil
}

// PendingSpreads returns the spreads of a story not yet completed, the
// per-story resume set.
func (q *Queue) PendingSpreads(ctx context.Context, storyID string) ([]SpreadEntry, error) {
	var entries []SpreadEntry
	err := q.db.SelectContext(ctx, &entries, `
		SELECT * FROM spread_downloads
		WHERE story_id = ? AND status != ?
		ORDER BY spread_number`,
		storyID, SpreadCompleted)
	if err != nil {
		return nil, fmt.Errorf("list pending spreads of %s: %w", storyID, err)
	}
	return entries, nil
}
