package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is the production BlobStore: one file per key under a base
// directory. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated index behind.
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates a file-backed blob store rooted at basePath, creating
// the directory if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Get returns the blob stored under key, or ErrKeyNotFound.
func (fs *FileStore) Get(key string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, nil
}

// Set stores the blob under key, replacing any previous value.
func (fs *FileStore) Set(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.pathFor(key)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %q: %w", key, err)
	}

	_, err = file.Write(value)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close %q: %w", key, closeErr)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to commit %q: %w", key, err)
	}
	return nil
}

// Remove deletes the blob under key. Absent keys are not an error.
func (fs *FileStore) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// pathFor maps a logical key to a filename. Keys are hashed so callers may use
// arbitrary strings without worrying about path separators or length limits.
func (fs *FileStore) pathFor(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(fs.basePath, hex.EncodeToString(hash[:16])+".json")
}
