package knowledge

import (
	"strings"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders a SOQL string literal.
func quote(s string) string {
	return "'" + soqlEscaper.Replace(s) + "'"
}

func (c *Client) columns() []string {
	cols := []string{
		"Id", "KnowledgeArticleId", "PublishStatus", "Title", "UrlName", "Summary",
		"IsVisibleInCsp", "IsVisibleInPkb", "IsVisibleInPrm", c.cfg.BodyField,
	}
	if c.cfg.AuthorField != "" {
		cols = append(cols, c.cfg.AuthorField)
	}
	if c.cfg.AuthorOverrideField != "" {
		cols = append(cols, c.cfg.AuthorOverrideField)
	}
	return cols
}

func (c *Client) selectVersions(where string) string {
	return "SELECT " + strings.Join(c.columns(), ",") +
		" FROM " + c.cfg.ArticleType +
		" WHERE " + where + " AND Language = " + quote(c.cfg.Language)
}

type record map[string]any

func (r record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r record) flag(key string) bool {
	b, _ := r[key].(bool)
	return b
}

func (c *Client) toArticle(r record) domain.ArticleRecord {
	rec := domain.ArticleRecord{
		ArticleID:     r.str("KnowledgeArticleId"),
		VersionID:     r.str("Id"),
		PublishStatus: domain.PublishStatus(strings.ToLower(r.str("PublishStatus"))),
		ArticleFields: domain.ArticleFields{
			Title:        r.str("Title"),
			Slug:         r.str("UrlName"),
			Summary:      r.str("Summary"),
			Body:         r.str(c.cfg.BodyField),
			VisibleInCSP: r.flag("IsVisibleInCsp"),
			VisibleInPKB: r.flag("IsVisibleInPkb"),
			VisibleInPRM: r.flag("IsVisibleInPrm"),
		},
	}
	if c.cfg.AuthorField != "" {
		rec.Author = r.str(c.cfg.AuthorField)
	}
	if c.cfg.AuthorOverrideField != "" {
		rec.AuthorOverride = r.str(c.cfg.AuthorOverrideField)
	}
	return rec
}

// fieldData is the write payload of a version. The text index field, when
// configured, mirrors the body.
func (c *Client) fieldData(f domain.ArticleFields) map[string]any {
	data := map[string]any{
		"Title":          f.Title,
		"UrlName":        f.Slug,
		"Summary":        f.Summary,
		"IsVisibleInCsp": f.VisibleInCSP,
		"IsVisibleInPkb": f.VisibleInPKB,
		"IsVisibleInPrm": f.VisibleInPRM,
		c.cfg.BodyField:  f.Body,
	}
	if c.cfg.AuthorField != "" {
		data[c.cfg.AuthorField] = f.Author
	}
	if c.cfg.AuthorOverrideField != "" {
		data[c.cfg.AuthorOverrideField] = f.AuthorOverride
	}
	if c.cfg.TextIndexField != "" {
		data[c.cfg.TextIndexField] = f.Body
	}
	return data
}
