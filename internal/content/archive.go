package content

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrArchiveTooLarge is returned when unpacking would write more than the
// configured number of bytes.
var ErrArchiveTooLarge = errors.New("archive expands beyond the unpack limit")

// Unpack extracts a bundle archive into dir. Nested zip members are unpacked
// next to where they were found and then removed. Everything written,
// nested archives included, counts against limit; a non-positive limit
// disables the check.
func Unpack(archive []byte, dir string, limit int64) error {
	u := &unpacker{limit: limit, remaining: limit}
	return u.unpack(archive, dir)
}

type unpacker struct {
	limit     int64
	remaining int64
}

func (u *unpacker) unpack(archive []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	nested, err := u.extractAll(reader, dir)
	if err != nil {
		return err
	}

	for _, path := range nested {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read nested archive %s: %w", path, err)
		}
		if err := u.unpack(raw, filepath.Dir(path)); err != nil {
			return fmt.Errorf("nested archive %s: %w", filepath.Base(path), err)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove nested archive %s: %w", path, err)
		}
	}

	return nil
}

func (u *unpacker) extractAll(reader *zip.Reader, dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	var nested []string
	for _, file := range reader.File {
		target := filepath.Join(root, filepath.FromSlash(file.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("archive entry %q escapes working directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", file.Name, err)
			}
			continue
		}

		if err := u.extractFile(file, target); err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(target), ".zip") {
			nested = append(nested, target)
		}
	}

	return nested, nil
}

func (u *unpacker) extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", file.Name, err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", file.Name, err)
	}

	var r io.Reader = src
	if u.limit > 0 {
		// one byte past the budget is enough to tell it was exceeded
		r = io.LimitReader(src, u.remaining+1)
	}
	written, err := io.Copy(dst, r)
	if err != nil {
		_ = dst.Close()
		return fmt.Errorf("write %s: %w", file.Name, err)
	}
	if u.limit > 0 {
		if written > u.remaining {
			_ = dst.Close()
			return fmt.Errorf("%s: %w (%s)", file.Name, ErrArchiveTooLarge, humanize.IBytes(uint64(u.limit)))
		}
		u.remaining -= written
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", file.Name, err)
	}
	return nil
}
