// Package storage keeps uploaded and extracted PDFs in a local directory or
// an S3 bucket, optionally encrypted at rest.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Blobs is the storage contract used by the session manager.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// sessionsDir holds per-session blobs under the store root.
const sessionsDir = "sessions/"

// SourceKey is where a session's uploaded document lives.
func SourceKey(sessionID string) string { return sessionsDir + sessionID + "/source.pdf" }

// ArtifactKey is where a session's extracted document lives.
func ArtifactKey(sessionID string) string {
	return sessionsDir + sessionID + "/extracted_pages.pdf"
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
