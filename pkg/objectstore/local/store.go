// Package local stores objects as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

// Store implements objectstore.Storage on the local filesystem. Writes go
// through a temp file and rename so readers never see partial objects.
type Store struct {
	baseDir string
}

var _ objectstore.Storage = (*Store)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	// #nosec G301 -- storage directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{baseDir: base}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Write(ctx context.Context, p string, body io.Reader, _ int64) error {
	full, err := s.fullPath(p)
	if err != nil {
		return s.wrapError("Write", p, err)
	}
	// #nosec G301 -- storage directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Write", p, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return s.wrapError("Write", p, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		return s.wrapError("Write", p, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Write", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return s.wrapError("Write", p, err)
	}
	return nil
}

func (s *Store) Read(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := s.fullPath(p)
	if err != nil {
		return nil, s.wrapError("Read", p, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, s.wrapError("Read", p, err)
	}
	return f, nil
}

func (s *Store) Remove(_ context.Context, p string) error {
	full, err := s.fullPath(p)
	if err != nil {
		return s.wrapError("Remove", p, err)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return s.wrapError("Remove", p, err)
	}
	return nil
}

func (s *Store) RemoveFolder(_ context.Context, prefix string) error {
	full, err := s.fullPath(prefix)
	if err != nil {
		return s.wrapError("RemoveFolder", prefix, err)
	}
	if full == s.baseDir {
		return s.wrapError("RemoveFolder", prefix, objectstore.ErrInvalidPath)
	}
	if err := os.RemoveAll(full); err != nil {
		return s.wrapError("RemoveFolder", prefix, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	root, err := s.fullPath(prefix)
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.wrapError("List", prefix, err)
	}

	var out []objectstore.ObjectInfo
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		out = append(out, objectstore.ObjectInfo{
			Path:         filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// fullPath maps p under baseDir and rejects traversal outside it.
func (s *Store) fullPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	clean := filepath.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", objectstore.ErrInvalidPath
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Store) wrapError(op, p string, err error) error {
	wrapped := &objectstore.StorageError{Op: op, Backend: objectstore.BackendLocal, Path: p, Err: err}
	switch {
	case errors.Is(err, objectstore.ErrInvalidPath):
	case os.IsNotExist(err):
		wrapped.Err = objectstore.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = objectstore.ErrAccessDenied
	}
	return wrapped
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
