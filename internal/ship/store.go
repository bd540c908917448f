// Package ship moves static dataset files between nodes through a blob
// store. Files are compressed on the way out and verified on the way in.
package ship

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"go.uber.org/zap"
)

// BlobStore holds named immutable blobs
type BlobStore interface {
	// Put stores the content of r under name. size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get opens name for reading; a missing blob fails with KeyNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

func blobNotFound(name string, cause error) *errors.StorageError {
	return errors.NewStorageError(errors.ErrCodeKeyNotFound, fmt.Sprintf("blob not found: %s", name), cause).
		WithDetail("blob", name)
}

// NewStore builds the backend named by cfg.Backend
func NewStore(ctx context.Context, cfg config.ShipConfig, logger *zap.Logger) (BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalDir)
	case "minio":
		return NewMinioStore(cfg, logger)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	default:
		return nil, errors.Unsupported(fmt.Sprintf("unknown ship backend %q", cfg.Backend))
	}
}

// LocalStore keeps blobs as files under a root directory
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.InvalidArgument("local blob store needs a directory", nil)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.BackendFailure("failed to create blob directory", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.InvalidArgument(fmt.Sprintf("invalid blob name %q", name), nil)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes to a temporary file and renames it into place
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.BackendFailure("failed to create blob directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return errors.BackendFailure("failed to create blob", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.BackendFailure("failed to write blob "+name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.BackendFailure("failed to publish blob "+name, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, blobNotFound(name, err)
	}
	if err != nil {
		return nil, errors.BackendFailure("failed to open blob "+name, err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.BackendFailure("failed to delete blob "+name, err)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure("failed to list blobs", err)
	}
	sort.Strings(names)
	return names, nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
