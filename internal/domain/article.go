package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Key folds an identity (slug or image basename) for case-insensitive matching.
func Key(identity string) string {
	return folder.String(strings.TrimSpace(identity))
}

// PublishStatus is the lifecycle status of an article version inside the article store.
type PublishStatus string

const (
	PublishDraft    PublishStatus = "draft"
	PublishOnline   PublishStatus = "online"
	PublishArchived PublishStatus = "archived"
)

// ArticleFields are the mapped fields sent to and compared against the article store.
type ArticleFields struct {
	Title          string `json:"title"`
	Slug           string `json:"url_name"`
	Summary        string `json:"summary"`
	Body           string `json:"body"`
	VisibleInCSP   bool   `json:"is_visible_in_csp"`
	VisibleInPKB   bool   `json:"is_visible_in_pkb"`
	VisibleInPRM   bool   `json:"is_visible_in_prm"`
	Author         string `json:"author"`
	AuthorOverride string `json:"author_override"`
}

// SameContent reports whether every compared field matches. The slug is the
// lookup key and is matched case-insensitively elsewhere, so it is not compared here.
func (f ArticleFields) SameContent(other ArticleFields) bool {
	return f.Title == other.Title &&
		f.Summary == other.Summary &&
		f.Body == other.Body &&
		f.VisibleInCSP == other.VisibleInCSP &&
		f.VisibleInPKB == other.VisibleInPKB &&
		f.VisibleInPRM == other.VisibleInPRM &&
		f.Author == other.Author &&
		f.AuthorOverride == other.AuthorOverride
}

// ArticleRecord is one article version as the article store reports it.
type ArticleRecord struct {
	ArticleID     string        `json:"article_id"`
	VersionID     string        `json:"version_id"`
	PublishStatus PublishStatus `json:"publish_status"`
	ArticleFields
}
