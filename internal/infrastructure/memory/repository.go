package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var _ ports.BundleRepository = (*Repository)(nil)

// Repository keeps bundles, change records and webhooks in process memory.
// A single mutex makes every operation atomic, claims included.
type Repository struct {
	mu sync.Mutex

	lastBundle  int64
	lastChange  int64
	lastWebhook int64

	bundles  map[int64]*domain.Bundle
	articles map[int64][]domain.ArticleChange
	images   map[int64][]domain.ImageChange
	webhooks map[int64]domain.Webhook
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		bundles:  map[int64]*domain.Bundle{},
		articles: map[int64][]domain.ArticleChange{},
		images:   map[int64][]domain.ImageChange{},
		webhooks: map[int64]domain.Webhook{},
	}
}

func (r *Repository) GetBundle(_ context.Context, id int64) (domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bundles[id]
	if !ok {
		return domain.Bundle{}, fmt.Errorf("bundle %d: %w", id, domain.ErrNotFound)
	}
	return *b, nil
}

func (r *Repository) GetBundleBySource(_ context.Context, sourceID string) (domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b := r.bySource(sourceID); b != nil {
		return *b, nil
	}
	return domain.Bundle{}, fmt.Errorf("bundle for source %s: %w", sourceID, domain.ErrNotFound)
}

func (r *Repository) ListBundles(_ context.Context, limit int) ([]domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ActiveBundle(_ context.Context) (domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bundles {
		if b.Status.Active() {
			return *b, nil
		}
	}
	return domain.Bundle{}, domain.ErrNotFound
}

func (r *Repository) AdmitSource(_ context.Context, sourceID string, now time.Time) (domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bySource(sourceID)
	if b == nil {
		r.lastBundle++
		b = &domain.Bundle{ID: r.lastBundle, SourceID: sourceID, Status: domain.BundleQueued, QueuedAt: at(now)}
		r.bundles[b.ID] = b
		return *b, nil
	}
	if !b.Status.Terminal() {
		return domain.Bundle{}, fmt.Errorf("%s is %s: %w", b, b.Status, domain.ErrInFlight)
	}

	b.Status, b.Error = domain.BundleQueued, ""
	b.QueuedAt, b.ProcessedAt, b.PublishedAt = at(now), nil, nil
	delete(r.articles, b.ID)
	delete(r.images, b.ID)
	return *b, nil
}

func (r *Repository) ClaimNextQueued(_ context.Context, _ time.Time) (domain.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.Bundle
	for _, b := range r.bundles {
		if b.Status.Active() {
			return domain.Bundle{}, domain.ErrAdmissionConflict
		}
		if b.Status != domain.BundleQueued {
			continue
		}
		if next == nil || earlier(b, next) {
			next = b
		}
	}
	if next == nil {
		return domain.Bundle{}, domain.ErrNotFound
	}

	next.Status, next.Error = domain.BundleProcessing, ""
	return *next, nil
}

func (r *Repository) Transition(_ context.Context, id int64, from, to domain.BundleStatus, now time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bundles[id]
	if !ok {
		return fmt.Errorf("bundle %d: %w", id, domain.ErrNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("%s is %s, expected %s: %w", b, b.Status, from, domain.ErrStaleStatus)
	}

	b.Status = to
	switch to {
	case domain.BundleQueued:
		b.QueuedAt = at(now)
	case domain.BundleDraft:
		b.ProcessedAt = at(now)
	case domain.BundlePublished:
		b.PublishedAt = at(now)
	}
	return nil
}

func (r *Repository) Fail(_ context.Context, id int64, from []domain.BundleStatus, message string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bundles[id]
	if !ok {
		return fmt.Errorf("bundle %d: %w", id, domain.ErrNotFound)
	}
	if !slices.Contains(from, b.Status) || !domain.CanTransition(b.Status, domain.BundleError) {
		return fmt.Errorf("%s is %s: %w", b, b.Status, domain.ErrStaleStatus)
	}

	b.Status, b.Error = domain.BundleError, message
	return nil
}

func (r *Repository) SaveArticleChange(_ context.Context, change domain.ArticleChange) (domain.ArticleChange, error) {
	if err := change.Status.Validate(); err != nil {
		return domain.ArticleChange{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bundles[change.BundleID]; !ok {
		return domain.ArticleChange{}, fmt.Errorf("bundle %d: %w", change.BundleID, domain.ErrNotFound)
	}
	r.lastChange++
	change.ID = r.lastChange
	r.articles[change.BundleID] = append(r.articles[change.BundleID], change)
	return change, nil
}

func (r *Repository) SaveImageChange(_ context.Context, change domain.ImageChange) (domain.ImageChange, error) {
	if err := change.Status.Validate(); err != nil {
		return domain.ImageChange{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bundles[change.BundleID]; !ok {
		return domain.ImageChange{}, fmt.Errorf("bundle %d: %w", change.BundleID, domain.ErrNotFound)
	}
	r.lastChange++
	change.ID = r.lastChange
	r.images[change.BundleID] = append(r.images[change.BundleID], change)
	return change, nil
}

func (r *Repository) ListArticleChanges(_ context.Context, bundleID int64) ([]domain.ArticleChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.articles[bundleID])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) ListImageChanges(_ context.Context, bundleID int64) ([]domain.ImageChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.images[bundleID])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) CreateWebhook(_ context.Context, webhook domain.Webhook) (domain.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastWebhook++
	webhook.ID = r.lastWebhook
	webhook.Payload = slices.Clone(webhook.Payload)
	r.webhooks[webhook.ID] = webhook
	return webhook, nil
}

func (r *Repository) GetWebhook(_ context.Context, id int64) (domain.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.webhooks[id]
	if !ok {
		return domain.Webhook{}, fmt.Errorf("webhook %d: %w", id, domain.ErrNotFound)
	}
	return w, nil
}

func (r *Repository) ResolveWebhook(_ context.Context, id int64, status domain.WebhookStatus, reason domain.RejectReason, bundleID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.webhooks[id]
	if !ok {
		return fmt.Errorf("webhook %d: %w", id, domain.ErrNotFound)
	}
	if w.Status != domain.WebhookPending {
		return fmt.Errorf("webhook %d is %s: %w", id, w.Status, domain.ErrStaleStatus)
	}
	w.Status, w.Reason = status, reason
	if bundleID != nil {
		id := *bundleID
		w.BundleID = &id
	}
	r.webhooks[id] = w
	return nil
}

func (r *Repository) bySource(sourceID string) *domain.Bundle {
	for _, b := range r.bundles {
		if b.SourceID == sourceID {
			return b
		}
	}
	return nil
}

func earlier(a, b *domain.Bundle) bool {
	if a.QueuedAt != nil && b.QueuedAt != nil && !a.QueuedAt.Equal(*b.QueuedAt) {
		return a.QueuedAt.Before(*b.QueuedAt)
	}
	return a.ID < b.ID
}

func at(t time.Time) *time.Time {
	return &t
}
