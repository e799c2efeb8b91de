// Package blob stores image bytes by opaque ID. The edit pipeline only ever
// holds IDs; bytes move through a Store.
package blob

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Load for an unknown ID.
var ErrNotFound = errors.New("blob: not found")

// Store saves and loads immutable blobs.
type Store interface {
	// Save stores data and returns its new ID.
	Save(ctx context.Context, data []byte, contentType string) (string, error)
	Load(ctx context.Context, id string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
}

// Presigner is implemented by stores that can hand out time-limited direct
// download URLs.
type Presigner interface {
	PresignURL(ctx context.Context, id string, expiry time.Duration) (string, error)
}

// NewID returns a fresh blob ID.
func NewID() string {
	return "img-" + uuid.NewString()
}

// ValidID reports whether id has the shape NewID produces. It keeps
// caller-supplied IDs from escaping the blob namespace.
func ValidID(id string) bool {
	rest, ok := strings.CutPrefix(id, "img-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// extFor maps an image content type to a file extension.
func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ""
}
