package audiocache

import (
	"fmt"
	"strings"

	"github.com/storyweave/offline/internal/storage"
)

// Word positions within a sentence.
const (
	PositionStart = "start"
	PositionMid   = "mid"
	PositionEnd   = "end"
)

// Sentence types, derived from terminal punctuation.
const (
	SentenceStatement   = "statement"
	SentenceQuestion    = "question"
	SentenceExclamation = "exclamation"
)

// CacheKey identifies one word in one prosodic context. The same surface
// word with different position, punctuation, sentence type or pronunciation
// is a different cache entry, because prosody and homograph meaning change
// the correct audio.
type CacheKey struct {
	Word               string
	Position           string
	Punctuation        string
	SentenceType       string
	PronunciationIndex int
}

// String renders the composite key. The rendering is injective across the
// context fields: every field lands in a fixed slot with a separator none of
// the normalized values contain.
func (k CacheKey) String() string {
	word := strings.ToLower(strings.TrimSpace(k.Word))
	punct := k.Punctuation
	if punct == "" {
		punct = "none"
	}
	return fmt.Sprintf("%s|%s|%s|%s|p%d", word, k.Position, punct, k.SentenceType, k.PronunciationIndex)
}

// BuildCacheKey classifies a word's prosodic context within its sentence.
// wordIndex and wordCount position the word; trailing punctuation on the
// word itself and the sentence terminator drive the remaining fields.
func BuildCacheKey(word string, wordIndex, wordCount int, pronunciationIndex int) CacheKey {
	position := PositionMid
	switch {
	case wordIndex <= 0:
		position = PositionStart
	case wordIndex >= wordCount-1:
		position = PositionEnd
	}

	trimmed := strings.TrimSpace(word)
	punct := ""
	sentenceType := SentenceStatement
	if trimmed != "" {
		switch last := trimmed[len(trimmed)-1]; last {
		case '?':
			punct, sentenceType = "?", SentenceQuestion
		case '!':
			punct, sentenceType = "!", SentenceExclamation
		case '.', ',', ';', ':':
			punct = string(last)
		}
	}

	return CacheKey{
		Word:               strings.TrimRight(trimmed, ".,;:!?"),
		Position:           position,
		Punctuation:        punct,
		SentenceType:       sentenceType,
		PronunciationIndex: pronunciationIndex,
	}
}

// WordCache caches isolated word synthesis output addressed by the composite
// prosodic context key.
type WordCache struct {
	core *cache
}

// NewWordCache creates a word cache persisting its index through store and
// its PCM payloads under dir.
func NewWordCache(store storage.BlobStore, dir string) (*WordCache, error) {
	core, err := newCache(store, WordIndexKey, dir)
	if err != nil {
		return nil, err
	}
	return &WordCache{core: core}, nil
}

// Get returns the entry for key, or ErrMiss when absent or expired.
func (c *WordCache) Get(key CacheKey) (*Entry, error) {
	return c.core.get(key.String())
}

// Set stores raw PCM chunks under key.
func (c *WordCache) Set(key CacheKey, chunks [][]byte, durationMs int64) (*Entry, error) {
	return c.core.set(key.String(), chunks, nil, durationMs)
}

// ReadAudio reads an entry's PCM payload, healing the index when the file
// has drifted away.
func (c *WordCache) ReadAudio(entry *Entry) ([]byte, error) {
	return c.core.readAudio(entry)
}

// PruneExpired evicts every expired entry and reports how many were removed.
func (c *WordCache) PruneExpired() (int, error) {
	return c.core.pruneExpired()
}

// ClearAll removes the index key and the whole cache directory.
func (c *WordCache) ClearAll() error {
	return c.core.clearAll()
}

// Stats reports the entry count and approximate on-disk size.
func (c *WordCache) Stats() (Stats, error) {
	return c.core.stats()
}
