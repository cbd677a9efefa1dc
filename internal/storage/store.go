// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get and Delete when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// BlobStore is the key/value persistence medium behind the session store.
// Keys are slash-separated, e.g. "saves/save_abc.json".
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ValidKey rejects empty keys and keys that would escape the store root.
func ValidKey(key string) bool {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
