package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var _ ports.ObjectStore = (*FS)(nil)

// FS stores objects as files below a root directory served by the CDN.
// Keys are slash separated paths relative to the root.
type FS struct {
	root string
}

// NewFS creates the root directory when missing.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

func (s *FS) file(op, key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) || strings.HasSuffix(key, "/") {
		return "", &domain.StoreError{Op: op, Target: key, Status: http.StatusBadRequest, Err: errors.New("invalid object key")}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FS) keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".sfdoc-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "list objects", Target: s.root, Err: err}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FS) ListKeys(ctx context.Context, excludePrefix string) ([]string, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if excludePrefix == "" {
		return keys, nil
	}
	out := keys[:0]
	for _, key := range keys {
		if !strings.HasPrefix(key, excludePrefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *FS) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *FS) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.file("stat object", key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &domain.StoreError{Op: "stat object", Target: key, Err: err}
	}
}

func (s *FS) Put(_ context.Context, key string, data []byte) error {
	p, err := s.file("put object", key)
	if err != nil {
		return err
	}
	if err = writeFile(p, data); err != nil {
		return &domain.StoreError{Op: "put object", Target: key, Err: err}
	}
	return nil
}

func (s *FS) Copy(_ context.Context, srcKey, dstKey string) error {
	src, err := s.file("copy object", srcKey)
	if err != nil {
		return err
	}
	dst, err := s.file("copy object", dstKey)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.StoreError{Op: "copy object", Target: srcKey, Status: http.StatusNotFound, Err: domain.ErrNotFound}
	}
	if err != nil {
		return &domain.StoreError{Op: "copy object", Target: srcKey, Err: err}
	}
	if err = writeFile(dst, data); err != nil {
		return &domain.StoreError{Op: "copy object", Target: dstKey, Err: err}
	}
	return nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	p, err := s.file("delete object", key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.StoreError{Op: "delete object", Target: key, Err: err}
	}
	s.pruneDirs(path.Dir(key))
	return nil
}

// pruneDirs removes directories left empty by a delete, stopping at the root.
func (s *FS) pruneDirs(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(dir))); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

// writeFile replaces p atomically so readers never see a partial object.
func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".sfdoc-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
