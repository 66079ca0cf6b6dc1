package storage

import "sync"

// MemoryStore is an in-memory BlobStore for tests. It copies values on both
// Set and Get so callers cannot mutate stored state through shared slices.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get returns the blob stored under key, or ErrKeyNotFound.
func (ms *MemoryStore) Get(key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	blob, ok := ms.blobs[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Set stores the blob under key, replacing any previous value.
func (ms *MemoryStore) Set(key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	blob := make([]byte, len(value))
	copy(blob, value)
	ms.blobs[key] = blob
	return nil
}

// Remove deletes the blob under key.
func (ms *MemoryStore) Remove(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.blobs, key)
	return nil
}

// Keys returns the stored keys. Test helper.
func (ms *MemoryStore) Keys() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	keys := make([]string, 0, len(ms.blobs))
	for k := range ms.blobs {
		keys = append(keys, k)
	}
	return keys
}
