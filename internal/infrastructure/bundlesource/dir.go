package bundlesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// Dir serves bundles stored as <root>/<source id>.zip.
type Dir struct {
	root     string
	maxBytes int64
}

// NewDir checks that root is a directory.
func NewDir(root string, maxBytes int64) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("bundle directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle directory %s is not a directory", root)
	}
	return &Dir{root: root, maxBytes: maxBytes}, nil
}

func (d *Dir) Fetch(_ context.Context, sourceID string) ([]byte, error) {
	name := sourceID + ".zip"
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Status: http.StatusBadRequest, Err: errors.New("invalid source id")}
	}

	f, err := os.Open(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Status: http.StatusNotFound, Err: domain.ErrNotFound}
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Err: err}
	}
	defer f.Close()

	data, err := readLimited(f, d.maxBytes)
	if err != nil {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Err: err}
	}
	return data, nil
}
