// Package syncworker downloads queued stories in the background. It is
// gated by the network policy and checkpoints every step in the download
// queue, so a restart resumes exactly the spreads not yet completed.
package syncworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/storyweave/offline/internal/downloadqueue"
	"github.com/storyweave/offline/internal/invalidation"
	"github.com/storyweave/offline/internal/netpolicy"
	"github.com/storyweave/offline/internal/story"
	"github.com/storyweave/offline/internal/storycache"
)

// Worker errors
var (
	// ErrSyncBlocked is returned when the network policy forbids syncing.
	ErrSyncBlocked = errors.New("syncworker: sync blocked by network policy")
)

// Defaults for worker tuning.
const (
	DefaultConcurrency  = 3
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 30 * time.Second
	DefaultInterval     = 5 * time.Minute
)

// Config tunes the worker.
type Config struct {
	// Concurrency bounds simultaneous spread downloads per story.
	Concurrency int
	// MaxRetries is the retry budget per story before it is parked as
	// failed without a next attempt.
	MaxRetries int
	// RetryBackoff is the base delay; each retry doubles it.
	RetryBackoff time.Duration
	// Interval is the periodic sync cadence for Run.
	Interval time.Duration
}

// DefaultConfig returns the standard worker tuning.
func DefaultConfig() Config {
	return Config{
		Concurrency:  DefaultConcurrency,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
		Interval:     DefaultInterval,
	}
}

// Worker drains the download queue into the story cache.
type Worker struct {
	queue   *downloadqueue.Queue
	stories *story.Client
	cache   *storycache.Cache
	policy  *netpolicy.Policy
	config  Config
	logger  *log.Logger
	now     func() time.Time
}

// New wires a worker. A nil logger discards output.
func New(queue *downloadqueue.Queue, stories *story.Client, cache *storycache.Cache, policy *netpolicy.Policy, config Config, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	return &Worker{
		queue:   queue,
		stories: stories,
		cache:   cache,
		policy:  policy,
		config:  config,
		logger:  logger.With("component", "syncworker"),
		now:     time.Now,
	}
}

// SubscribeInvalidation drops a story from the queue when its cache copy is
// invalidated. Returns the unsubscribe function.
func (w *Worker) SubscribeInvalidation(bus *invalidation.Bus, storyID string) func() {
	return bus.Subscribe(storyID, func(id string) {
		if err := w.queue.RemoveFromQueue(context.Background(), id); err != nil {
			w.logger.Warn("drop invalidated story from queue", "story", id, "err", err)
		}
	})
}

// EnqueueStory records a story and its illustrated spreads for download.
// Ineligible stories are rejected.
func (w *Worker) EnqueueStory(ctx context.Context, s *story.Story) error {
	if !storycache.Eligible(s) {
		return storycache.ErrNotEligible
	}

	if err := w.queue.QueueStory(ctx, s.ID, s.Title, s.SpreadCount()); err != nil {
		return err
	}
	for _, sp := range s.Spreads {
		if sp.IllustrationURL == "" {
			continue
		}
		if err := w.queue.QueueSpread(ctx, s.ID, sp.SpreadNumber, sp.IllustrationURL); err != nil {
			return err
		}
	}
	w.logger.Info("story queued", "story", s.ID, "spreads", s.SpreadCount())
	return nil
}

// SyncOnce runs one resume pass: every incomplete story gets its pending
// spreads re-attempted. Returns ErrSyncBlocked when the policy forbids it.
func (w *Worker) SyncOnce(ctx context.Context) error {
	ok, err := w.policy.ShouldSync(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSyncBlocked
	}

	incomplete, err := w.queue.IncompleteStories(ctx)
	if err != nil {
		return err
	}

	for _, entry := range incomplete {
		if entry.NextRetryAt != nil && entry.NextRetryAt.After(w.now()) {
			w.logger.Debug("retry not due", "story", entry.StoryID, "next_retry_at", entry.NextRetryAt)
			continue
		}
		if err := w.syncStory(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("story sync failed", "story", entry.StoryID, "err", err)
		}
	}
	return nil
}

// syncStory downloads one story's remaining spreads and finalizes its
// queue status.
func (w *Worker) syncStory(ctx context.Context, entry downloadqueue.StoryEntry) error {
	if err := w.queue.UpdateStoryStatus(ctx, entry.StoryID, downloadqueue.StatusDownloading, nil); err != nil {
		return err
	}

	cached, err := w.cache.IsStoryCached(entry.StoryID)
	if err != nil {
		return w.parkFailed(ctx, entry, err)
	}
	if !cached {
		s, err := w.stories.GetStory(ctx, entry.StoryID)
		if err != nil {
			return w.parkFailed(ctx, entry, err)
		}
		if _, err := w.cache.CacheStory(s); err != nil {
			return w.parkFailed(ctx, entry, err)
		}
	}

	pending, err := w.queue.PendingSpreads(ctx, entry.StoryID)
	if err != nil {
		return w.parkFailed(ctx, entry, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, sp := range pending {
		g.Go(func() error {
			return w.downloadSpread(gctx, entry.StoryID, sp.SpreadNumber)
		})
	}
	downloadErr := g.Wait()

	remaining, err := w.queue.PendingSpreads(ctx, entry.StoryID)
	if err != nil {
		return w.parkFailed(ctx, entry, err)
	}
	if len(remaining) == 0 && downloadErr == nil {
		noError := ""
		done := &downloadqueue.StoryUpdates{ClearNextRetry: true, ErrorMessage: &noError}
		if err := w.queue.UpdateStoryStatus(ctx, entry.StoryID, downloadqueue.StatusCompleted, done); err != nil {
			return err
		}
		w.logger.Info("story download complete", "story", entry.StoryID)
		return nil
	}

	if downloadErr == nil {
		downloadErr = fmt.Errorf("%d spreads still pending", len(remaining))
	}
	return w.parkFailed(ctx, entry, downloadErr)
}

// downloadSpread fetches one spread image, stores it and checkpoints the
// completion.
func (w *Worker) downloadSpread(ctx context.Context, storyID string, spreadNumber int) error {
	if err := w.queue.UpdateSpreadStatus(ctx, storyID, spreadNumber, downloadqueue.SpreadDownloading, nil); err != nil {
		return err
	}

	data, err := w.stories.FetchSpreadImage(ctx, storyID, spreadNumber)
	if err != nil {
		w.markSpreadFailed(ctx, storyID, spreadNumber, err)
		return fmt.Errorf("spread %d: %w", spreadNumber, err)
	}

	path, err := w.cache.SaveSpreadImage(storyID, spreadNumber, data)
	if err != nil {
		w.markSpreadFailed(ctx, storyID, spreadNumber, err)
		return fmt.Errorf("spread %d: %w", spreadNumber, err)
	}

	size := int64(len(data))
	noError := ""
	done := &downloadqueue.SpreadUpdates{
		LocalPath:       &path,
		BytesDownloaded: &size,
		BytesTotal:      &size,
		ErrorMessage:    &noError,
	}
	if err := w.queue.UpdateSpreadStatus(ctx, storyID, spreadNumber, downloadqueue.SpreadCompleted, done); err != nil {
		return err
	}
	return w.queue.IncrementCompletedSpreads(ctx, storyID)
}

func (w *Worker) markSpreadFailed(ctx context.Context, storyID string, spreadNumber int, cause error) {
	msg := cause.Error()
	updates := &downloadqueue.SpreadUpdates{ErrorMessage: &msg}
	if err := w.queue.UpdateSpreadStatus(ctx, storyID, spreadNumber, downloadqueue.SpreadFailed, updates); err != nil {
		w.logger.Warn("mark spread failed", "story", storyID, "spread", spreadNumber, "err", err)
	}
}

// parkFailed records a failure. While the retry budget lasts the story goes
// back to queued with a doubling backoff; past the budget it is parked as
// failed with no next attempt.
func (w *Worker) parkFailed(ctx context.Context, entry downloadqueue.StoryEntry, cause error) error {
	retries := entry.RetryCount + 1
	msg := cause.Error()
	updates := &downloadqueue.StoryUpdates{
		RetryCount:   &retries,
		ErrorMessage: &msg,
	}
	status := downloadqueue.StatusFailed
	if retries <= w.config.MaxRetries {
		next := w.now().Add(w.config.RetryBackoff << (retries - 1))
		updates.NextRetryAt = &next
		status = downloadqueue.StatusQueued
	} else {
		updates.ClearNextRetry = true
	}

	if err := w.queue.UpdateStoryStatus(ctx, entry.StoryID, status, updates); err != nil {
		w.logger.Warn("record story failure", "story", entry.StoryID, "err", err)
	}
	return cause
}

// Run syncs periodically and on every connectivity regain until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	kick := make(chan struct{}, 1)
	unsubscribe := w.policy.Subscribe(func(state netpolicy.State) {
		if state.IsConnected {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil && !errors.Is(err, ErrSyncBlocked) {
			w.logger.Warn("sync pass failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-kick:
		}
	}
}
