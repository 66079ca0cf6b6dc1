// Package audiocache provides content-addressable on-disk caches for
// synthesized audio. Two instances share one design: an utterance cache
// addressed by a hash of the normalized synthesis input, and a word cache
// addressed by a composite prosodic context key. Binary PCM payloads live in
// per-entry files; the JSON index holds only paths and metadata.
package audiocache
