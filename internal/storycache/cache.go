// Package storycache stores complete stories for offline reading: the story
// JSON zstd-compressed on disk, spread illustrations as local image files,
// and a metadata index persisted through the key-value store.
package storycache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/storyweave/offline/internal/invalidation"
	"github.com/storyweave/offline/internal/storage"
	"github.com/storyweave/offline/internal/story"
)

// IndexKey is the storage key for the story cache index.
const IndexKey = "story_cache_index"

// Cache errors
var (
	// ErrNotCached is returned when a story has no offline copy.
	ErrNotCached = errors.New("storycache: story not cached")
	// ErrNotEligible is returned when a story does not meet the automatic
	// caching policy.
	ErrNotEligible = errors.New("storycache: story not eligible for caching")
)

// IndexEntry is the per-story metadata kept in the index.
type IndexEntry struct {
	CachedAt    time.Time `json:"cached_at"`
	LastRead    time.Time `json:"last_read"`
	SizeBytes   int64     `json:"size_bytes"`
	SpreadCount int       `json:"spread_count"`
	Title       string    `json:"title"`
}

type index struct {
	Entries map[string]*IndexEntry `json:"entries"`
}

// Cache is the story offline cache. The index lives in the key-value store;
// per-story payloads live under dir/<storyID>/.
type Cache struct {
	mu      sync.Mutex
	store   storage.BlobStore
	dir     string
	bus     *invalidation.Bus
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	now     func() time.Time
}

// New creates a story cache rooted at dir. bus may be nil when no
// invalidation fan-out is wanted.
func New(store storage.BlobStore, dir string, bus *invalidation.Bus) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create story cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Cache{
		store:   store,
		dir:     dir,
		bus:     bus,
		encoder: encoder,
		decoder: decoder,
		now:     time.Now,
	}, nil
}

// Eligible reports whether a story meets the automatic caching policy: only
// completed, illustrated stories are cached; everything else is served from
// the network on every read.
func Eligible(s *story.Story) bool {
	return s != nil && s.Status == story.StatusCompleted && s.IsIllustrated
}

func (c *Cache) storyDir(id string) string {
	return filepath.Join(c.dir, id)
}

func (c *Cache) storyFile(id string) string {
	return filepath.Join(c.storyDir(id), "story.json.zst")
}

func (c *Cache) spreadFile(id string, spreadNumber int) string {
	return filepath.Join(c.storyDir(id), fmt.Sprintf("spread_%d.png", spreadNumber))
}

func (c *Cache) loadIndex() (*index, error) {
	raw, err := c.store.Get(IndexKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return &index{Entries: make(map[string]*IndexEntry)}, nil
		}
		return nil, fmt.Errorf("load story cache index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode story cache index: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]*IndexEntry)
	}
	return &idx, nil
}

func (c *Cache) saveIndex(idx *index) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode story cache index: %w", err)
	}
	if err := c.store.Set(IndexKey, raw); err != nil {
		return fmt.Errorf("save story cache index: %w", err)
	}
	return nil
}

// IsStoryCached reports whether an offline copy of the story exists.
func (c *Cache) IsStoryCached(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return false, err
	}
	_, ok := idx.Entries[id]
	return ok, nil
}

// CacheStory writes an offline copy of the story. Ineligible stories return
// ErrNotEligible. The story JSON is compressed; illustration URLs are kept
// as-is and rewritten at load time once the spread images are present.
func (c *Cache) CacheStory(s *story.Story) (*IndexEntry, error) {
	if !Eligible(s) {
		return nil, ErrNotEligible
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.storyDir(s.ID), 0700); err != nil {
		return nil, fmt.Errorf("create story directory: %w", err)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode story %s: %w", s.ID, err)
	}
	compressed := c.encoder.EncodeAll(raw, nil)
	if err := os.WriteFile(c.storyFile(s.ID), compressed, 0600); err != nil {
		return nil, fmt.Errorf("write story %s: %w", s.ID, err)
	}

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}

	now := c.now()
	entry := &IndexEntry{
		CachedAt:    now,
		LastRead:    now,
		SizeBytes:   int64(len(compressed)),
		SpreadCount: s.SpreadCount(),
		Title:       s.Title,
	}
	idx.Entries[s.ID] = entry

	if err := c.saveIndex(idx); err != nil {
		return nil, err
	}
	return entry, nil
}

// SaveSpreadImage stores a downloaded illustration for one spread. The
// story's index size is bumped by the image size.
func (c *Cache) SaveSpreadImage(id string, spreadNumber int, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.storyDir(id), 0700); err != nil {
		return "", fmt.Errorf("create story directory: %w", err)
	}
	path := c.spreadFile(id, spreadNumber)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write spread image: %w", err)
	}

	idx, err := c.loadIndex()
	if err != nil {
		return "", err
	}
	if entry, ok := idx.Entries[id]; ok {
		entry.SizeBytes += int64(len(data))
		if err := c.saveIndex(idx); err != nil {
			return "", err
		}
	}
	return path, nil
}

// LoadCachedStory reads the offline copy of a story. Illustration URLs are
// rewritten to file:// paths for every spread whose image is on disk, and
// the entry's lastRead timestamp is bumped.
func (c *Cache) LoadCachedStory(id string) (*story.Story, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Entries[id]
	if !ok {
		return nil, ErrNotCached
	}

	compressed, err := os.ReadFile(c.storyFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("read story %s: %w", id, err)
	}
	raw, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress story %s: %w", id, err)
	}

	var s story.Story
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode story %s: %w", id, err)
	}

	for i := range s.Spreads {
		path := c.spreadFile(id, s.Spreads[i].SpreadNumber)
		if _, err := os.Stat(path); err == nil {
			s.Spreads[i].IllustrationURL = "file://" + filepath.ToSlash(path)
		}
	}

	entry.LastRead = c.now()
	if err := c.saveIndex(idx); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateLastRead bumps the lastRead timestamp for id. An absent key is a
// silent no-op; sibling fields are never touched.
func (c *Cache) UpdateLastRead(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := idx.Entries[id]
	if !ok {
		return nil
	}
	entry.LastRead = c.now()
	return c.saveIndex(idx)
}

// InvalidateStory removes the offline copy and notifies bus subscribers for
// the story id. Invalidating an uncached story still emits, so listeners
// holding stale in-memory copies refresh either way.
func (c *Cache) InvalidateStory(id string) error {
	c.mu.Lock()
	idx, err := c.loadIndex()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if _, ok := idx.Entries[id]; ok {
		delete(idx.Entries, id)
		if err := c.saveIndex(idx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	removeErr := os.RemoveAll(c.storyDir(id))
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Emit(id)
	}
	if removeErr != nil {
		return fmt.Errorf("remove story directory: %w", removeErr)
	}
	return nil
}

// CacheSize reports the total recorded size of all cached stories in bytes.
func (c *Cache) CacheSize() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range idx.Entries {
		total += entry.SizeBytes
	}
	return total, nil
}

// CachedStoryIDs returns the ids of every cached story.
func (c *Cache) CachedStoryIDs() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(idx.Entries))
	for id := range idx.Entries {
		ids = append(ids, id)
	}
	return ids, nil
}

// Entry returns the index metadata for a cached story.
func (c *Cache) Entry(id string) (*IndexEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Entries[id]
	if !ok {
		return nil, ErrNotCached
	}
	copied := *entry
	return &copied, nil
}

// ClearAll removes the index key and every cached story directory.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Remove(IndexKey); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("remove story cache index: %w", err)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list story cache directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove story directory %s: %w", e.Name(), err)
		}
	}
	return nil
}
