package storage

import "errors"

// Common errors for blob store operations.
var (
	// ErrKeyNotFound is returned by Get when no blob exists under the key.
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrStoreClosed is returned when operations are attempted after Close.
	ErrStoreClosed = errors.New("storage: store is closed")
)

// BlobStore is the storage port for persisted JSON indices and settings.
//
// Implementations provide durability for small blobs (cache indices, sync
// settings) under named keys. There is no compare-and-swap: callers perform
// read-modify-write cycles and rely on single-process writer discipline.
// Concurrent writers to the same key can clobber each other; this mirrors the
// intended deployment (one app instance, UI-driven writes).
type BlobStore interface {
	// Get returns the blob stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores the blob under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes the blob under key. Removing an absent key is not an
	// error.
	Remove(key string) error
}
