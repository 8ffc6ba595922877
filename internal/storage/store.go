// Package storage persists blobs and hands out URLs for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"stickerpack/internal/domain"
)

// Store is the blob storage contract used by generation and bundling.
type Store interface {
	// Put writes data under key and returns a durable URL for it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// SignedURL returns a time-limited URL for a stored key.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Unconfigured fails every call with domain.ErrNotConfigured so missing
// credentials surface at the point of use.
type Unconfigured struct {
	Reason string
}

func (u Unconfigured) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", u.err()
}

func (u Unconfigured) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", u.err()
}

func (u Unconfigured) Delete(ctx context.Context, key string) error {
	return u.err()
}

func (u Unconfigured) err() error {
	if u.Reason == "" {
		return fmt.Errorf("storage: %w", domain.ErrNotConfigured)
	}
	return fmt.Errorf("storage: %s: %w", u.Reason, domain.ErrNotConfigured)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var (
	_ Store = (*MinioStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = Unconfigured{}
)
