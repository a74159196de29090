package content

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// Extractor enumerates the publishable HTML documents of an unpacked bundle.
type Extractor struct {
	skip   []string
	logger *slog.Logger
}

// NewExtractor validates the skip patterns (doublestar globs matched against
// bundle-relative paths).
func NewExtractor(skipPatterns []string, logger *slog.Logger) (*Extractor, error) {
	for _, pattern := range skipPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid skip pattern %q", pattern)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{skip: skipPatterns, logger: logger}, nil
}

// Skipped reports whether the bundle-relative path must never be published.
func (e *Extractor) Skipped(relPath string) bool {
	for _, pattern := range e.skip {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// Result is everything the detector and diff engine need from one bundle.
type Result struct {
	Root      string
	Documents []Document
	// Slugs maps folded slugs to the relative paths of the documents declaring them.
	Slugs map[string][]string
	// Images maps folded image basenames to the distinct relative paths sharing them.
	Images map[string][]string

	slugByPath map[string]string
}

// SlugFor resolves the slug of the document at a bundle-relative path.
func (r *Result) SlugFor(relPath string) (string, bool) {
	slug, ok := r.slugByPath[relPath]
	return slug, ok
}

// ImagePath returns the absolute path of the image identified by key.
// It is only meaningful once the detector reported no image conflicts.
func (r *Result) ImagePath(key string) (string, bool) {
	paths := r.Images[key]
	if len(paths) == 0 {
		return "", false
	}
	return filepath.Join(r.Root, filepath.FromSlash(paths[0])), true
}

// ImageName returns the original-case basename of the image identified by key.
func (r *Result) ImageName(key string) string {
	paths := r.Images[key]
	if len(paths) == 0 {
		return ""
	}
	return path.Base(paths[0])
}

// Extract walks root and parses every eligible HTML document. Documents are
// returned ordered by relative path.
func (e *Extractor) Extract(ctx context.Context, root string) (*Result, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isHTML(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if e.Skipped(rel) {
			e.logger.Info("skipping file", slog.String("path", rel))
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bundle: %w", err)
	}
	sort.Strings(files)

	result := &Result{
		Root:       root,
		Documents:  make([]Document, 0, len(files)),
		Slugs:      map[string][]string{},
		Images:     map[string][]string{},
		slugByPath: map[string]string{},
	}
	images := map[string]struct{}{}

	for n, rel := range files {
		e.logger.Debug("scrubbing html file", slog.Int("n", n+1), slog.Int("total", len(files)), slog.String("path", rel))

		abs := filepath.Join(root, filepath.FromSlash(rel))
		doc, err := readDocument(abs, rel)
		if err != nil {
			return nil, err
		}

		result.Documents = append(result.Documents, doc)
		result.slugByPath[rel] = doc.Slug
		result.Slugs[doc.Key()] = append(result.Slugs[doc.Key()], rel)

		for _, img := range doc.Images {
			if _, ok := images[img]; ok {
				continue
			}
			images[img] = struct{}{}
			key := domain.Key(path.Base(img))
			result.Images[key] = append(result.Images[key], img)
		}
	}

	for key := range result.Images {
		sort.Strings(result.Images[key])
	}

	return result, nil
}

func readDocument(abs, rel string) (Document, error) {
	f, err := os.Open(abs)
	if err != nil {
		return Document{}, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	doc, err := parseDocument(f, rel)
	if err != nil {
		return Document{}, err
	}
	doc.Path = abs
	return doc, nil
}
