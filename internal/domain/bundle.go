package domain

import (
	"fmt"
	"time"
)

// BundleStatus enumerates the bundle lifecycle.
type BundleStatus string

const (
	BundleQueued     BundleStatus = "queued"
	BundleProcessing BundleStatus = "processing"
	BundleDraft      BundleStatus = "draft"
	BundlePublishing BundleStatus = "publishing"
	BundlePublished  BundleStatus = "published"
	BundleError      BundleStatus = "error"
)

// ActiveStatuses hold the single-flight slot.
var ActiveStatuses = []BundleStatus{BundleProcessing, BundleDraft, BundlePublishing}

// Active reports whether the status occupies the single-flight slot.
func (s BundleStatus) Active() bool {
	switch s {
	case BundleProcessing, BundleDraft, BundlePublishing:
		return true
	case BundleQueued, BundlePublished, BundleError:
		return false
	default:
		panic(fmt.Sprintf("unknown bundle status %q", string(s)))
	}
}

// Terminal reports whether the bundle finished, successfully or not.
func (s BundleStatus) Terminal() bool {
	switch s {
	case BundlePublished, BundleError:
		return true
	case BundleQueued, BundleProcessing, BundleDraft, BundlePublishing:
		return false
	default:
		panic(fmt.Sprintf("unknown bundle status %q", string(s)))
	}
}

// CanTransition encodes the allowed edges of the lifecycle.
func CanTransition(from, to BundleStatus) bool {
	switch from {
	case BundleQueued:
		return to == BundleProcessing
	case BundleProcessing:
		return to == BundleDraft || to == BundleError
	case BundleDraft:
		return to == BundlePublishing
	case BundlePublishing:
		return to == BundlePublished || to == BundleError
	case BundlePublished, BundleError:
		return to == BundleQueued
	default:
		return false
	}
}

// Bundle is one synchronization unit derived from one source archive.
type Bundle struct {
	ID          int64           `db:"id" json:"id"`
	SourceID    string          `db:"source_id" json:"source_id"`
	Status      BundleStatus    `db:"status" json:"status"`
	Error       string          `db:"error" json:"error,omitempty"`
	QueuedAt    *time.Time      `db:"queued_at" json:"queued_at,omitempty"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	PublishedAt *time.Time      `db:"published_at" json:"published_at,omitempty"`
	Articles    []ArticleChange `db:"-" json:"articles,omitempty"`
	Images      []ImageChange   `db:"-" json:"images,omitempty"`
}

func (b Bundle) String() string {
	return fmt.Sprintf("bundle %d (%s)", b.ID, b.SourceID)
}

// ChangeStatus is the decision assigned by the diff engine to one entity.
type ChangeStatus string

const (
	ChangeNew     ChangeStatus = "new"
	ChangeChanged ChangeStatus = "changed"
	ChangeDeleted ChangeStatus = "deleted"
)

// Validate rejects anything outside the closed set of decisions.
func (s ChangeStatus) Validate() error {
	switch s {
	case ChangeNew, ChangeChanged, ChangeDeleted:
		return nil
	default:
		return fmt.Errorf("unknown change status %q", string(s))
	}
}

// ArticleChange records the decision about one document in one bundle.
type ArticleChange struct {
	ID         int64        `db:"id" json:"id"`
	BundleID   int64        `db:"bundle_id" json:"bundle_id"`
	Slug       string       `db:"slug" json:"slug"`
	ArticleID  string       `db:"article_id" json:"article_id"`
	VersionID  string       `db:"version_id" json:"version_id"`
	Status     ChangeStatus `db:"status" json:"status"`
	Title      string       `db:"title" json:"title"`
	PreviewURL string       `db:"preview_url" json:"preview_url"`
}

// ImageChange records the decision about one image file in one bundle.
type ImageChange struct {
	ID       int64        `db:"id" json:"id"`
	BundleID int64        `db:"bundle_id" json:"bundle_id"`
	Filename string       `db:"filename" json:"filename"`
	Status   ChangeStatus `db:"status" json:"status"`
}
