package audiocache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/storyweave/offline/internal/karaoke"
	"github.com/storyweave/offline/internal/storage"
)

// cacheKeyVersion prefixes every text hash so the key scheme can migrate
// without colliding with older entries.
const cacheKeyVersion = "v1"

// UtteranceCache caches sentence-level synthesis output addressed by a hash
// of the normalized synthesis input.
type UtteranceCache struct {
	core *cache
}

// NewUtteranceCache creates an utterance cache persisting its index through
// store and its PCM payloads under dir.
func NewUtteranceCache(store storage.BlobStore, dir string) (*UtteranceCache, error) {
	core, err := newCache(store, UtteranceIndexKey, dir)
	if err != nil {
		return nil, err
	}
	return &UtteranceCache{core: core}, nil
}

// TextHash derives the content address for an utterance from its normalized
// text, voice and speed. Equal inputs always hash to the same address.
func TextHash(text, voice string, speed float64) string {
	input := fmt.Sprintf("%s|%s|%.2f", strings.TrimSpace(text), strings.ToLower(strings.TrimSpace(voice)), speed)
	sum := sha256.Sum256([]byte(input))
	return cacheKeyVersion + "_" + hex.EncodeToString(sum[:])
}

// Get returns the entry for textHash, or ErrMiss when it is absent or
// expired. Expired entries are evicted on the way out.
func (c *UtteranceCache) Get(textHash string) (*Entry, error) {
	return c.core.get(textHash)
}

// Set stores one or more raw PCM chunks under textHash along with the word
// timestamps for the utterance. Chunks are joined as decoded bytes.
func (c *UtteranceCache) Set(textHash string, chunks [][]byte, timestamps []karaoke.WordTimestamp, durationMs int64) (*Entry, error) {
	return c.core.set(textHash, chunks, timestamps, durationMs)
}

// ReadAudio reads an entry's PCM payload. A file missing despite the index
// entry returns ErrMiss and heals the index.
func (c *UtteranceCache) ReadAudio(entry *Entry) ([]byte, error) {
	return c.core.readAudio(entry)
}

// PruneExpired evicts every expired entry and reports how many were removed.
func (c *UtteranceCache) PruneExpired() (int, error) {
	return c.core.pruneExpired()
}

// ClearAll removes the index key and the whole cache directory.
func (c *UtteranceCache) ClearAll() error {
	return c.core.clearAll()
}

// Stats reports the entry count and approximate on-disk size.
func (c *UtteranceCache) Stats() (Stats, error) {
	return c.core.stats()
}
