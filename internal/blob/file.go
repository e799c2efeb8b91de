package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FileStore keeps blobs as files in one directory. Used by the CLI and for
// local API runs.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory, for startup logging.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

// Save writes to a temp file and renames it, so readers never observe a
// partial blob.
func (s *FileStore) Save(ctx context.Context, data []byte, contentType string) (string, error) {
	id := NewID()
	dst, _ := s.path(id)

	tmp, err := os.CreateTemp(s.dir, ".tmp-*"+extFor(contentType))
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	log.Debug().Str("id", id).Int("bytes", len(data)).Msg("Blob written")
	return id, nil
}

func (s *FileStore) Load(ctx context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
