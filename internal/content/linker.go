package content

import (
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// Environment selects which host in-document links point at.
type Environment int

const (
	Draft Environment = iota
	Production
)

func (e Environment) String() string {
	switch e {
	case Draft:
		return "draft"
	case Production:
		return "production"
	default:
		return fmt.Sprintf("environment(%d)", int(e))
	}
}

// SlugResolver maps a bundle-relative document path to its slug.
type SlugResolver interface {
	SlugFor(relPath string) (string, bool)
}

// Linker rewrites cross-document links and image sources.
type Linker struct {
	DraftBaseURL      string
	ProductionBaseURL string
	ArticlePath       string
	ImageBaseURL      string
	DraftPrefix       string
}

// ArticleURL is the address of the article with the given slug.
func (l Linker) ArticleURL(env Environment, slug string) string {
	return l.articlePrefix(env) + slug
}

// ImageURL is the CDN address of an image file.
func (l Linker) ImageURL(env Environment, filename string) string {
	return l.imagePrefix(env) + filename
}

func (l Linker) articlePrefix(env Environment) string {
	base := l.ProductionBaseURL
	if env == Draft {
		base = l.DraftBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Trim(l.ArticlePath, "/") + "/"
}

func (l Linker) imagePrefix(env Environment) string {
	prefix := strings.TrimSuffix(l.ImageBaseURL, "/") + "/"
	if env == Draft {
		prefix += l.DraftPrefix
	}
	return prefix
}

// Render returns the document fields with the body's links pointing at env.
func (l Linker) Render(doc Document, env Environment, slugs SlugResolver) (domain.ArticleFields, error) {
	fields := doc.Fields
	dir := path.Dir(doc.RelPath)

	body, err := rewriteBody(fields.Body, func(sel *goquery.Selection) {
		sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			ref, ok := localReference(href)
			if !ok || !isHTML(ref) {
				return
			}
			target := path.Clean(path.Join(dir, ref))
			slug, ok := slugs.SlugFor(target)
			if !ok {
				base := path.Base(target)
				slug = strings.TrimSuffix(base, path.Ext(base))
			}
			a.SetAttr("href", l.ArticleURL(env, slug)+fragment(href))
		})
		sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			ref, ok := localReference(src)
			if !ok {
				return
			}
			img.SetAttr("src", l.ImageURL(env, path.Base(ref)))
		})
	})
	if err != nil {
		return domain.ArticleFields{}, fmt.Errorf("render %s for %s: %w", doc.RelPath, env, err)
	}

	fields.Body = body
	return fields, nil
}

// Promote rewrites a stored draft body so its links point at production.
func (l Linker) Promote(body string) (string, error) {
	draftArticles, prodArticles := l.articlePrefix(Draft), l.articlePrefix(Production)
	draftImages, prodImages := l.imagePrefix(Draft), l.imagePrefix(Production)

	return rewriteBody(body, func(sel *goquery.Selection) {
		sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if strings.HasPrefix(href, draftArticles) {
				a.SetAttr("href", prodArticles+strings.TrimPrefix(href, draftArticles))
			}
		})
		sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			if draftImages != prodImages && strings.HasPrefix(src, draftImages) {
				img.SetAttr("src", prodImages+strings.TrimPrefix(src, draftImages))
			}
		})
	})
}

func rewriteBody(body string, rewrite func(*goquery.Selection)) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}

	root := doc.Find("body").First()
	rewrite(root)

	out, err := root.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func fragment(href string) string {
	if i := strings.Index(href, "#"); i >= 0 {
		return href[i:]
	}
	return ""
}
