package ports

import (
	"context"
	"time"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// BundleSource downloads bundle archives from the authoring tool.
type BundleSource interface {
	Fetch(ctx context.Context, sourceID string) ([]byte, error)
}

// ArticleStore is the hosted knowledge base holding draft and online article versions.
type ArticleStore interface {
	QueryBySlug(ctx context.Context, slug string, status domain.PublishStatus) (*domain.ArticleRecord, error)
	GetVersion(ctx context.Context, versionID string) (domain.ArticleRecord, error)
	FindDraft(ctx context.Context, articleID string) (*domain.ArticleRecord, error)
	ListPublished(ctx context.Context) ([]domain.ArticleRecord, error)
	CreateDraft(ctx context.Context, fields domain.ArticleFields) (string, error)
	UpdateDraft(ctx context.Context, versionID string, fields domain.ArticleFields) error
	CreateDraftCopy(ctx context.Context, articleID string) (string, error)
	SetPublishStatus(ctx context.Context, versionID string, status domain.PublishStatus) error
	DeleteDraft(ctx context.Context, versionID string) error
}

// ObjectStore is the blob storage backing the CDN.
type ObjectStore interface {
	ListKeys(ctx context.Context, excludePrefix string) ([]string, error)
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
}

// BundleRepository persists bundles, their change records and webhooks.
type BundleRepository interface {
	GetBundle(ctx context.Context, id int64) (domain.Bundle, error)
	GetBundleBySource(ctx context.Context, sourceID string) (domain.Bundle, error)
	ListBundles(ctx context.Context, limit int) ([]domain.Bundle, error)
	// ActiveBundle returns the bundle holding the single-flight slot, or domain.ErrNotFound.
	ActiveBundle(ctx context.Context) (domain.Bundle, error)

	// AdmitSource creates a queued bundle for sourceID, or re-queues an existing
	// terminal one. It returns domain.ErrInFlight when the bundle is not terminal.
	AdmitSource(ctx context.Context, sourceID string, now time.Time) (domain.Bundle, error)
	// ClaimNextQueued moves the earliest queued bundle to processing, atomically
	// with the check that no bundle is active.
	ClaimNextQueued(ctx context.Context, now time.Time) (domain.Bundle, error)
	// Transition is a compare-and-swap on the bundle status.
	Transition(ctx context.Context, id int64, from, to domain.BundleStatus, now time.Time) error
	// Fail moves the bundle from one of the given statuses to error with the message recorded.
	Fail(ctx context.Context, id int64, from []domain.BundleStatus, message string, now time.Time) error

	SaveArticleChange(ctx context.Context, change domain.ArticleChange) (domain.ArticleChange, error)
	SaveImageChange(ctx context.Context, change domain.ImageChange) (domain.ImageChange, error)
	ListArticleChanges(ctx context.Context, bundleID int64) ([]domain.ArticleChange, error)
	ListImageChanges(ctx context.Context, bundleID int64) ([]domain.ImageChange, error)

	CreateWebhook(ctx context.Context, webhook domain.Webhook) (domain.Webhook, error)
	GetWebhook(ctx context.Context, id int64) (domain.Webhook, error)
	ResolveWebhook(ctx context.Context, id int64, status domain.WebhookStatus, reason domain.RejectReason, bundleID *int64) error
}

// UnitKind identifies the pipeline stage a unit of work triggers.
type UnitKind string

const (
	UnitAdmit   UnitKind = "admit"
	UnitProcess UnitKind = "process"
	UnitPublish UnitKind = "publish"
	UnitWebhook UnitKind = "webhook"
)

// Unit is one discrete piece of work for the worker pool.
type Unit struct {
	Kind      UnitKind
	BundleID  int64
	WebhookID int64
}

// JobQueue accepts units of work for asynchronous execution.
type JobQueue interface {
	Enqueue(ctx context.Context, unit Unit) error
	ScheduleAfter(d time.Duration, unit Unit)
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Clock is injected so lifecycle timestamps are deterministic in tests.
type Clock func() time.Time
