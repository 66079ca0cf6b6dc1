package downloadqueue_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/storyweave/offline/internal/downloadqueue"
)

func openTestQueue(t *testing.T) *downloadqueue.Queue {
	t.Helper()
	q, err := downloadqueue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueueAndFetchStory(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "The Moon Garden", 12))

	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "The Moon Garden", entry.Title)
	assert.Equal(t, 12, entry.TotalSpreads)
	assert.Equal(t, 0, entry.CompletedSpreads)
	assert.Equal(t, downloadqueue.StatusQueued, entry.Status)
}

func TestStoryNotQueued(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, err := q.Story(ctx, "ghost")
	assert.ErrorIs(t, err, downloadqueue.ErrNotQueued)
	assert.ErrorIs(t, q.IncrementCompletedSpreads(ctx, "ghost"), downloadqueue.ErrNotQueued)
	assert.ErrorIs(t, q.UpdateStoryStatus(ctx, "ghost", downloadqueue.StatusFailed, nil), downloadqueue.ErrNotQueued)
}

func TestResumabilityAfterPartialDownload(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Partial", 12))
	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusDownloading, nil))

	for i := 0; i < 5; i++ {
		require.NoError(t, q.IncrementCompletedSpreads(ctx, "s1"))
	}

	incomplete, err := q.IncompleteStories(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "s1", incomplete[0].StoryID)
	assert.Equal(t, 5, incomplete[0].CompletedSpreads)
	assert.Equal(t, downloadqueue.StatusDownloading, incomplete[0].Status)
}

func TestIncompleteStoriesFIFO(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "first", "A", 2))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.QueueStory(ctx, "second", "B", 2))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.QueueStory(ctx, "third", "C", 2))

	require.NoError(t, q.UpdateStoryStatus(ctx, "second", downloadqueue.StatusDownloading, nil))
	require.NoError(t, q.UpdateStoryStatus(ctx, "third", downloadqueue.StatusCompleted, nil))

	incomplete, err := q.IncompleteStories(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, "first", incomplete[0].StoryID)
	assert.Equal(t, "second", incomplete[1].StoryID)

	queued, err := q.QueuedStories(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "first", queued[0].StoryID)
}

func TestPartialUpdateLeavesOtherFieldsAlone(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Partial Update", 8))
	require.NoError(t, q.IncrementCompletedSpreads(ctx, "s1"))

	retry := 2
	nextRetry := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
	msg := "image fetch timed out"
	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusFailed, &downloadqueue.StoryUpdates{
		RetryCount:   &retry,
		NextRetryAt:  &nextRetry,
		ErrorMessage: &msg,
	}))

	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, downloadqueue.StatusFailed, entry.Status)
	assert.Equal(t, 2, entry.RetryCount)
	assert.Equal(t, msg, entry.ErrorMessage)
	require.NotNil(t, entry.NextRetryAt)
	assert.WithinDuration(t, nextRetry, *entry.NextRetryAt, time.Second)
	// Fields absent from the update survive.
	assert.Equal(t, 1, entry.CompletedSpreads)
	assert.Equal(t, "Partial Update", entry.Title)
	assert.Equal(t, 8, entry.TotalSpreads)
}

func TestClearNextRetryNullsColumn(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Clear Retry", 4))
	nextRetry := time.Now().Add(time.Minute)
	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusQueued, &downloadqueue.StoryUpdates{
		NextRetryAt: &nextRetry,
	}))

	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusFailed, &downloadqueue.StoryUpdates{
		ClearNextRetry: true,
	}))

	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, entry.NextRetryAt)
}

func TestRequeueResetsStatusKeepsPosition(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "A", 4))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.QueueStory(ctx, "s2", "B", 4))
	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusFailed, nil))

	require.NoError(t, q.QueueStory(ctx, "s1", "A", 4))

	incomplete, err := q.IncompleteStories(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, "s1", incomplete[0].StoryID, "re-queue keeps the original position")
	assert.Equal(t, downloadqueue.StatusQueued, incomplete[0].Status)
}

func TestSpreadLifecycle(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Spreads", 3))
	for n := 1; n <= 3; n++ {
		require.NoError(t, q.QueueSpread(ctx, "s1", n, "https://api.example.com/stories/s1/spreads/1/image"))
	}

	path := "/cache/s1/spread_1.png"
	size := int64(2048)
	require.NoError(t, q.UpdateSpreadStatus(ctx, "s1", 1, downloadqueue.SpreadCompleted, &downloadqueue.SpreadUpdates{
		LocalPath:       &path,
		BytesDownloaded: &size,
		BytesTotal:      &size,
	}))
	timeout := "fetch timed out"
	require.NoError(t, q.UpdateSpreadStatus(ctx, "s1", 2, downloadqueue.SpreadFailed, &downloadqueue.SpreadUpdates{
		ErrorMessage: &timeout,
	}))

	all, err := q.SpreadDownloads(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, downloadqueue.SpreadCompleted, all[0].Status)
	assert.Equal(t, "/cache/s1/spread_1.png", all[0].LocalPath)
	assert.Equal(t, int64(2048), all[0].BytesDownloaded)
	assert.Equal(t, int64(2048), all[0].BytesTotal)
	assert.Equal(t, "fetch timed out", all[1].ErrorMessage)

	pending, err := q.PendingSpreads(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].SpreadNumber)
	assert.Equal(t, 3, pending[1].SpreadNumber)
}

func TestConcurrentSpreadCheckpoints(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	const spreads = 16
	require.NoError(t, q.QueueStory(ctx, "s1", "Busy", spreads))
	for n := 1; n <= spreads; n++ {
		require.NoError(t, q.QueueSpread(ctx, "s1", n, fmt.Sprintf("https://api.example.com/stories/s1/spreads/%d/image", n)))
	}

	// Each spread checkpoints on its own pooled connection; none of the
	// writes may surface SQLITE_BUSY.
	var g errgroup.Group
	for n := 1; n <= spreads; n++ {
		g.Go(func() error {
			if err := q.UpdateSpreadStatus(ctx, "s1", n, downloadqueue.SpreadDownloading, nil); err != nil {
				return err
			}
			path := fmt.Sprintf("/cache/s1/spread_%d.png", n)
			if err := q.UpdateSpreadStatus(ctx, "s1", n, downloadqueue.SpreadCompleted, &downloadqueue.SpreadUpdates{
				LocalPath: &path,
			}); err != nil {
				return err
			}
			return q.IncrementCompletedSpreads(ctx, "s1")
		})
	}
	require.NoError(t, g.Wait())

	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, spreads, entry.CompletedSpreads)

	pending, err := q.PendingSpreads(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLifecycleTimestamps(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Times", 2))
	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, entry.StartedAt)
	assert.Nil(t, entry.CompletedAt)

	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusDownloading, nil))
	entry, err = q.Story(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, entry.StartedAt)
	started := *entry.StartedAt

	// A retry pass keeps the original start time.
	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusDownloading, nil))
	entry, err = q.Story(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, entry.StartedAt)
	assert.True(t, entry.StartedAt.Equal(started))

	require.NoError(t, q.UpdateStoryStatus(ctx, "s1", downloadqueue.StatusCompleted, nil))
	entry, err = q.Story(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, entry.CompletedAt)
	assert.False(t, entry.CompletedAt.Before(*entry.StartedAt))

	// Re-queuing starts a fresh lifecycle.
	require.NoError(t, q.QueueStory(ctx, "s1", "Times", 2))
	entry, err = q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, entry.StartedAt)
	assert.Nil(t, entry.CompletedAt)
}

func TestRemoveFromQueueCascades(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.QueueStory(ctx, "s1", "Cascade", 2))
	require.NoError(t, q.QueueSpread(ctx, "s1", 1, "u1"))
	require.NoError(t, q.QueueSpread(ctx, "s1", 2, "u2"))

	require.NoError(t, q.RemoveFromQueue(ctx, "s1"))

	_, err := q.Story(ctx, "s1")
	assert.ErrorIs(t, err, downloadqueue.ErrNotQueued)

	spreads, err := q.SpreadDownloads(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, spreads, "spread rows should cascade on delete")
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	ctx := context.Background()

	q, err := downloadqueue.Open(path)
	require.NoError(t, err)
	require.NoError(t, q.QueueStory(ctx, "s1", "Durable", 6))
	require.NoError(t, q.IncrementCompletedSpreads(ctx, "s1"))
	require.NoError(t, q.Close())

	q, err = downloadqueue.Open(path)
	require.NoError(t, err)
	defer q.Close()

	entry, err := q.Story(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.CompletedSpreads)
}
