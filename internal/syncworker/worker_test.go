package syncworker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storyweave/offline/internal/downloadqueue"
	"github.com/storyweave/offline/internal/invalidation"
	"github.com/storyweave/offline/internal/netpolicy"
	"github.com/storyweave/offline/internal/storage"
	"github.com/storyweave/offline/internal/story"
	"github.com/storyweave/offline/internal/storycache"
)

type fakeMonitor struct {
	state netpolicy.State
}

func (m *fakeMonitor) State(context.Context) (netpolicy.State, error) { return m.state, nil }

func (m *fakeMonitor) Subscribe(func(netpolicy.State)) func() { return func() {} }

var online = netpolicy.State{Type: netpolicy.TypeWifi, IsConnected: true, IsInternetReachable: true}

// storyServer serves story JSON and spread images, counting hits per path
// and failing the paths listed in fail.
type storyServer struct {
	*httptest.Server

	mu    sync.Mutex
	hits  map[string]int
	fail  map[string]bool
	story *story.Story
}

func newStoryServer(t *testing.T) *storyServer {
	t.Helper()
	s := &storyServer{
		hits: make(map[string]int),
		fail: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		failing := s.fail[r.URL.Path]
		s.mu.Unlock()

		if failing {
			http.Error(w, "upstream unavailable", http.StatusInternalServerError)
			return
		}
		switch {
		case s.story != nil && r.URL.Path == "/stories/"+s.story.ID:
			json.NewEncoder(w).Encode(s.story)
		case strings.HasSuffix(r.URL.Path, "/image"):
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png:" + r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *storyServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *storyServer) setFail(path string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = v
}

func spreadImagePath(storyID string, n int) string {
	return fmt.Sprintf("/stories/%s/spreads/%d/image", storyID, n)
}

func testStory(srv *storyServer, id string, spreads int) *story.Story {
	s := &story.Story{
		ID:            id,
		Status:        story.StatusCompleted,
		Title:         "The Brave Snail",
		IsIllustrated: true,
	}
	for i := 1; i <= spreads; i++ {
		s.Spreads = append(s.Spreads, story.Spread{
			SpreadNumber:    i,
			Text:            fmt.Sprintf("Page %d of the snail's journey.", i),
			WordCount:       6,
			IllustrationURL: srv.URL + spreadImagePath(id, i),
		})
	}
	s.WordCount = 6 * spreads
	srv.mu.Lock()
	srv.story = s
	srv.mu.Unlock()
	return s
}

type testEnv struct {
	worker  *Worker
	queue   *downloadqueue.Queue
	cache   *storycache.Cache
	bus     *invalidation.Bus
	monitor *fakeMonitor
	server  *storyServer
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()

	queue, err := downloadqueue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	bus := invalidation.NewBus()
	cache, err := storycache.New(storage.NewMemoryStore(), t.TempDir(), bus)
	require.NoError(t, err)

	server := newStoryServer(t)
	client := story.NewClient(server.URL, story.StaticToken("test-token"), server.Client())

	monitor := &fakeMonitor{state: online}
	policy := netpolicy.New(storage.NewMemoryStore(), monitor)

	return &testEnv{
		worker:  New(queue, client, cache, policy, config, nil),
		queue:   queue,
		cache:   cache,
		bus:     bus,
		monitor: monitor,
		server:  server,
	}
}

func TestEnqueueStoryRejectsIneligible(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	s := testStory(env.server, "story-1", 2)
	s.Status = story.StatusProcessing

	err := env.worker.EnqueueStory(context.Background(), s)
	require.ErrorIs(t, err, storycache.ErrNotEligible)

	_, err = env.queue.Story(context.Background(), s.ID)
	require.ErrorIs(t, err, downloadqueue.ErrNotQueued)
}

func TestSyncOnceBlockedWhileOffline(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	s := testStory(env.server, "story-1", 2)
	require.NoError(t, env.worker.EnqueueStory(context.Background(), s))

	env.monitor.state = netpolicy.Disconnected
	err := env.worker.SyncOnce(context.Background())
	require.ErrorIs(t, err, ErrSyncBlocked)

	entry, err := env.queue.Story(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusQueued, entry.Status)
	require.Zero(t, env.server.hitCount("/stories/"+s.ID))
}

func TestSyncOnceDownloadsQueuedStory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	s := testStory(env.server, "story-1", 3)
	require.NoError(t, env.worker.EnqueueStory(ctx, s))

	require.NoError(t, env.worker.SyncOnce(ctx))

	entry, err := env.queue.Story(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusCompleted, entry.Status)
	require.Equal(t, 3, entry.CompletedSpreads)
	require.NotNil(t, entry.StartedAt)
	require.NotNil(t, entry.CompletedAt)

	pending, err := env.queue.PendingSpreads(ctx, s.ID)
	require.NoError(t, err)
	require.Empty(t, pending)

	spreads, err := env.queue.SpreadDownloads(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, spreads, 3)
	for _, sp := range spreads {
		require.Equal(t, downloadqueue.SpreadCompleted, sp.Status)
		require.Positive(t, sp.BytesDownloaded)
		require.Equal(t, sp.BytesTotal, sp.BytesDownloaded)
		require.Empty(t, sp.ErrorMessage)
	}

	cached, err := env.cache.IsStoryCached(s.ID)
	require.NoError(t, err)
	require.True(t, cached)

	loaded, err := env.cache.LoadCachedStory(s.ID)
	require.NoError(t, err)
	for _, sp := range loaded.Spreads {
		require.True(t, strings.HasPrefix(sp.IllustrationURL, "file://"), "spread %d should point at the local copy", sp.SpreadNumber)
	}
}

func TestSyncOnceResumesPartialDownload(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	s := testStory(env.server, "story-1", 4)
	require.NoError(t, env.worker.EnqueueStory(ctx, s))

	// Spreads 1 and 2 finished in a previous run.
	for n := 1; n <= 2; n++ {
		data, err := env.worker.stories.FetchSpreadImage(ctx, s.ID, n)
		require.NoError(t, err)
		path, err := env.cache.SaveSpreadImage(s.ID, n, data)
		require.NoError(t, err)
		require.NoError(t, env.queue.UpdateSpreadStatus(ctx, s.ID, n, downloadqueue.SpreadCompleted, &downloadqueue.SpreadUpdates{
			LocalPath: &path,
		}))
		require.NoError(t, env.queue.IncrementCompletedSpreads(ctx, s.ID))
	}
	preResume1 := env.server.hitCount(spreadImagePath(s.ID, 1))
	preResume2 := env.server.hitCount(spreadImagePath(s.ID, 2))

	require.NoError(t, env.worker.SyncOnce(ctx))

	entry, err := env.queue.Story(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusCompleted, entry.Status)
	require.Equal(t, 4, entry.CompletedSpreads)

	require.Equal(t, preResume1, env.server.hitCount(spreadImagePath(s.ID, 1)))
	require.Equal(t, preResume2, env.server.hitCount(spreadImagePath(s.ID, 2)))
	require.Equal(t, 1, env.server.hitCount(spreadImagePath(s.ID, 3)))
	require.Equal(t, 1, env.server.hitCount(spreadImagePath(s.ID, 4)))
}

func TestSyncOnceSchedulesRetryOnFailure(t *testing.T) {
	config := DefaultConfig()
	config.RetryBackoff = time.Minute
	env := newTestEnv(t, config)
	ctx := context.Background()
	s := testStory(env.server, "story-1", 2)
	require.NoError(t, env.worker.EnqueueStory(ctx, s))

	brokenPath := spreadImagePath(s.ID, 2)
	env.server.setFail(brokenPath, true)

	base := time.Now()
	env.worker.now = func() time.Time { return base }
	require.NoError(t, env.worker.SyncOnce(ctx))

	entry, err := env.queue.Story(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusQueued, entry.Status)
	require.Equal(t, 1, entry.RetryCount)
	require.NotEmpty(t, entry.ErrorMessage)
	require.NotNil(t, entry.NextRetryAt)
	require.WithinDuration(t, base.Add(time.Minute), *entry.NextRetryAt, time.Second)

	// Not due yet: nothing is re-fetched.
	before := env.server.hitCount(brokenPath)
	require.NoError(t, env.worker.SyncOnce(ctx))
	require.Equal(t, before, env.server.hitCount(brokenPath))

	// Past the backoff with the upstream healthy again, the story finishes.
	env.server.setFail(brokenPath, false)
	env.worker.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, env.worker.SyncOnce(ctx))

	entry, err = env.queue.Story(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusCompleted, entry.Status)
	require.Equal(t, 2, entry.CompletedSpreads)
}

func TestSyncOnceExhaustsRetryBudget(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 1
	config.RetryBackoff = time.Minute
	env := newTestEnv(t, config)
	ctx := context.Background()
	s := testStory(env.server, "story-1", 1)
	require.NoError(t, env.worker.EnqueueStory(ctx, s))

	brokenPath := spreadImagePath(s.ID, 1)
	env.server.setFail(brokenPath, true)

	base := time.Now()
	env.worker.now = func() time.Time { return base }
	require.NoError(t, env.worker.SyncOnce(ctx))

	env.worker.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, env.worker.SyncOnce(ctx))

	entry, err := env.queue.Story(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, downloadqueue.StatusFailed, entry.Status)
	require.Equal(t, 2, entry.RetryCount)
	require.Nil(t, entry.NextRetryAt)

	// Parked stories are never picked up again.
	before := env.server.hitCount(brokenPath)
	env.worker.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, env.worker.SyncOnce(ctx))
	require.Equal(t, before, env.server.hitCount(brokenPath))
}

func TestInvalidatedStoryLeavesQueue(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	s := testStory(env.server, "story-1", 2)
	require.NoError(t, env.worker.EnqueueStory(ctx, s))
	require.NoError(t, env.worker.SyncOnce(ctx))

	unsubscribe := env.worker.SubscribeInvalidation(env.bus, s.ID)
	defer unsubscribe()

	require.NoError(t, env.cache.InvalidateStory(s.ID))

	_, err := env.queue.Story(ctx, s.ID)
	require.ErrorIs(t, err, downloadqueue.ErrNotQueued)
}
