package audiocache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/storyweave/offline/internal/karaoke"
	"github.com/storyweave/offline/internal/storage"
)

const (
	// TTL is the time-to-live for cache entries (7 days).
	TTL = 7 * 24 * time.Hour
	// UtteranceIndexKey is the storage key for the utterance cache index.
	UtteranceIndexKey = "tts_cache_index"
	// WordIndexKey is the storage key for the word cache index.
	WordIndexKey = "word_tts_cache_index"
)

// Cache errors
var (
	// ErrMiss is returned when a key is absent, expired, or its audio file
	// has drifted away from the index.
	ErrMiss = errors.New("audiocache: entry not found")
)

// Entry is one cached audio payload. Audio bytes live in the file at
// AudioPath; the entry itself carries only metadata.
type Entry struct {
	CacheKey   string                  `json:"cache_key"`
	AudioPath  string                  `json:"audio_path"`
	Timestamps []karaoke.WordTimestamp `json:"timestamps,omitempty"`
	CachedAt   time.Time               `json:"cached_at"`
	DurationMs int64                   `json:"duration_ms"`
}

// Stats summarizes a cache instance. SizeBytes is summed from the files
// actually present, so it tolerates index/filesystem drift.
type Stats struct {
	Count     int   `json:"count"`
	SizeBytes int64 `json:"size_bytes"`
}

// index is the serialized form of a cache index blob.
type index struct {
	Entries map[string]*Entry `json:"entries"`
}

// cache is the shared core behind UtteranceCache and WordCache. The JSON
// index is persisted through a BlobStore under indexKey; PCM payloads are
// individual files under dir.
type cache struct {
	mu       sync.Mutex
	store    storage.BlobStore
	indexKey string
	dir      string
	ttl      time.Duration
	now      func() time.Time
}

func newCache(store storage.BlobStore, indexKey, dir string) (*cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &cache{
		store:    store,
		indexKey: indexKey,
		dir:      dir,
		ttl:      TTL,
		now:      time.Now,
	}, nil
}

// audioFileName derives a deterministic filename from a cache key, so
// re-writes overwrite the same file rather than leaking new ones.
func audioFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".pcm"
}

// loadIndex reads the index blob. An absent key is an empty index.
func (c *cache) loadIndex() (*index, error) {
	raw, err := c.store.Get(c.indexKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return &index{Entries: make(map[string]*Entry)}, nil
		}
		return nil, fmt.Errorf("load cache index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode cache index: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]*Entry)
	}
	return &idx, nil
}

func (c *cache) saveIndex(idx *index) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := c.store.Set(c.indexKey, raw); err != nil {
		return fmt.Errorf("save cache index: %w", err)
	}
	return nil
}

// get looks up key and applies lazy expiry: an expired entry is evicted and
// reported as a miss.
func (c *cache) get(key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}

	entry, ok := idx.Entries[key]
	if !ok {
		return nil, ErrMiss
	}

	if c.now().Sub(entry.CachedAt) > c.ttl {
		_ = os.Remove(entry.AudioPath)
		delete(idx.Entries, key)
		if err := c.saveIndex(idx); err != nil {
			return nil, err
		}
		return nil, ErrMiss
	}

	return entry, nil
}

// set writes the audio payload to its per-entry file, then updates and
// persists the index. Chunked audio is joined as raw bytes before the write.
func (c *cache) set(key string, chunks [][]byte, timestamps []karaoke.WordTimestamp, durationMs int64) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	audioPath := filepath.Join(c.dir, audioFileName(key))
	pcm := bytes.Join(chunks, nil)
	if err := os.WriteFile(audioPath, pcm, 0600); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		CacheKey:   key,
		AudioPath:  audioPath,
		Timestamps: timestamps,
		CachedAt:   c.now(),
		DurationMs: durationMs,
	}
	idx.Entries[key] = entry

	if err := c.saveIndex(idx); err != nil {
		return nil, err
	}
	return entry, nil
}

// readAudio reads an entry's payload back. A missing file despite a live
// index entry is drift, not a crash: the stale entry is evicted and the read
// reports a miss.
func (c *cache) readAudio(entry *Entry) ([]byte, error) {
	pcm, err := os.ReadFile(entry.AudioPath)
	if err == nil {
		return pcm, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx, loadErr := c.loadIndex()
	if loadErr == nil {
		if _, ok := idx.Entries[entry.CacheKey]; ok {
			delete(idx.Entries, entry.CacheKey)
			_ = c.saveIndex(idx)
		}
	}
	return nil, ErrMiss
}

// pruneExpired sweeps the whole index and evicts every expired entry.
// Reports how many entries were removed.
func (c *cache) pruneExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for key, entry := range idx.Entries {
		if now.Sub(entry.CachedAt) > c.ttl {
			_ = os.Remove(entry.AudioPath)
			delete(idx.Entries, key)
			removed++
		}
	}

	if removed > 0 {
		if err := c.saveIndex(idx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// clearAll removes the index key and the whole cache directory.
func (c *cache) clearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Remove(c.indexKey); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("remove cache index: %w", err)
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("remove cache directory: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("recreate cache directory: %w", err)
	}
	return nil
}

// stats reports the entry count and the on-disk byte total. Files missing
// from disk are skipped rather than failing the whole report.
func (c *cache) stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return Stats{}, err
	}

	s := Stats{Count: len(idx.Entries)}
	for _, entry := range idx.Entries {
		info, err := os.Stat(entry.AudioPath)
		if err != nil {
			continue
		}
		s.SizeBytes += info.Size()
	}
	return s, nil
}
