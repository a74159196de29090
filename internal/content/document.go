package content

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

const (
	metaURLName        = "UrlName"
	metaSummary        = "description"
	metaVisibleInCSP   = "IsVisibleInCsp"
	metaVisibleInPKB   = "IsVisibleInPkb"
	metaVisibleInPRM   = "IsVisibleInPrm"
	metaAuthor         = "author"
	metaAuthorOverride = "AuthorOverride"
)

// Document is one eligible HTML file of a bundle.
type Document struct {
	// Path is absolute; RelPath is slash-separated and relative to the bundle root.
	Path    string
	RelPath string
	Slug    string
	Fields  domain.ArticleFields
	// Images holds bundle-relative, slash-separated paths of referenced image files.
	Images []string
}

// Key is the case-insensitive identity of the document.
func (d Document) Key() string {
	return domain.Key(d.Slug)
}

func parseDocument(r io.Reader, relPath string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", relPath, err)
	}

	body, err := doc.Find("body").First().Html()
	if err != nil {
		return Document{}, fmt.Errorf("render body of %s: %w", relPath, err)
	}

	title := strings.TrimSpace(doc.Find("head > title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	slug := meta(doc, metaURLName)
	if slug == "" {
		base := path.Base(relPath)
		slug = strings.TrimSuffix(base, path.Ext(base))
	}

	fields := domain.ArticleFields{
		Title:          title,
		Slug:           slug,
		Summary:        meta(doc, metaSummary),
		Body:           strings.TrimSpace(body),
		VisibleInCSP:   metaBool(doc, metaVisibleInCSP),
		VisibleInPKB:   metaBool(doc, metaVisibleInPKB),
		VisibleInPRM:   metaBool(doc, metaVisibleInPRM),
		Author:         meta(doc, metaAuthor),
		AuthorOverride: meta(doc, metaAuthorOverride),
	}

	dir := path.Dir(relPath)
	seen := map[string]struct{}{}
	var images []string
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		ref, ok := localReference(src)
		if !ok {
			return
		}
		rel := path.Clean(path.Join(dir, ref))
		if _, dup := seen[rel]; dup {
			return
		}
		seen[rel] = struct{}{}
		images = append(images, rel)
	})

	return Document{
		RelPath: relPath,
		Slug:    slug,
		Fields:  fields,
		Images:  images,
	}, nil
}

func meta(doc *goquery.Document, name string) string {
	content, _ := doc.Find(fmt.Sprintf("meta[name=%q]", name)).First().Attr("content")
	return strings.TrimSpace(content)
}

func metaBool(doc *goquery.Document, name string) bool {
	v, err := strconv.ParseBool(meta(doc, name))
	return err == nil && v
}

// localReference returns the path portion of a reference into the bundle
// itself, or false for absolute URLs, anchors and non-file schemes.
func localReference(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") {
		return "", false
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	if strings.HasPrefix(u.Path, "/") {
		return "", false
	}

	return filepath.ToSlash(u.Path), true
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	default:
		return false
	}
}
