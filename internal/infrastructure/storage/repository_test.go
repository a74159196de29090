package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(context.Background(), Config{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "sfdoc.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestNewRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Type: "mysql"})
	require.Error(t, err)
}

func TestAdmitSource(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)
	assert.Positive(t, bundle.ID)
	assert.Equal(t, domain.BundleQueued, bundle.Status)

	stored, err := repo.GetBundleBySource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, bundle.ID, stored.ID)
	require.NotNil(t, stored.QueuedAt)
	assert.True(t, t0.Equal(*stored.QueuedAt))
	assert.Nil(t, stored.ProcessedAt)

	_, err = repo.AdmitSource(ctx, "src-1", t0)
	require.ErrorIs(t, err, domain.ErrInFlight)
}

func TestAdmitSourceRequeuesTerminal(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)
	_, err = repo.ClaimNextQueued(ctx, t0)
	require.NoError(t, err)
	_, err = repo.SaveArticleChange(ctx, domain.ArticleChange{BundleID: bundle.ID, Slug: "faq", Status: domain.ChangeNew})
	require.NoError(t, err)
	_, err = repo.SaveImageChange(ctx, domain.ImageChange{BundleID: bundle.ID, Filename: "a.png", Status: domain.ChangeDeleted})
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, bundle.ID, []domain.BundleStatus{domain.BundleProcessing}, "boom", t0))

	later := t0.Add(time.Hour)
	requeued, err := repo.AdmitSource(ctx, "src-1", later)
	require.NoError(t, err)
	assert.Equal(t, bundle.ID, requeued.ID)
	assert.Equal(t, domain.BundleQueued, requeued.Status)
	assert.Empty(t, requeued.Error)

	stored, err := repo.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleQueued, stored.Status)
	assert.Empty(t, stored.Error)
	assert.True(t, later.Equal(*stored.QueuedAt))

	articles, err := repo.ListArticleChanges(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Empty(t, articles)
	images, err := repo.ListImageChanges(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestClaimNextQueued(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.ClaimNextQueued(ctx, t0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	second, err := repo.AdmitSource(ctx, "src-2", t0.Add(time.Minute))
	require.NoError(t, err)
	first, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)

	claimed, err := repo.ClaimNextQueued(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, domain.BundleProcessing, claimed.Status)

	_, err = repo.ClaimNextQueued(ctx, t0)
	require.ErrorIs(t, err, domain.ErrAdmissionConflict)

	active, err := repo.ActiveBundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	require.NoError(t, repo.Transition(ctx, first.ID, domain.BundleProcessing, domain.BundleDraft, t0))
	require.NoError(t, repo.Transition(ctx, first.ID, domain.BundleDraft, domain.BundlePublishing, t0))
	_, err = repo.ClaimNextQueued(ctx, t0)
	require.ErrorIs(t, err, domain.ErrAdmissionConflict)

	require.NoError(t, repo.Transition(ctx, first.ID, domain.BundlePublishing, domain.BundlePublished, t0))
	claimed, err = repo.ClaimNextQueued(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
}

func TestClaimNextQueuedConcurrently(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b", "c"} {
		_, err := repo.AdmitSource(ctx, source, t0)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ClaimNextQueued(ctx, t0)
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrAdmissionConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)
	_, err = repo.ClaimNextQueued(ctx, t0)
	require.NoError(t, err)

	require.NoError(t, repo.Transition(ctx, bundle.ID, domain.BundleProcessing, domain.BundleDraft, t0))
	err = repo.Transition(ctx, bundle.ID, domain.BundleProcessing, domain.BundleDraft, t0)
	require.ErrorIs(t, err, domain.ErrStaleStatus)

	err = repo.Transition(ctx, bundle.ID, domain.BundleDraft, domain.BundlePublished, t0)
	require.Error(t, err)

	err = repo.Transition(ctx, 999, domain.BundleDraft, domain.BundlePublishing, t0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repo.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleDraft, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
	assert.True(t, t0.Equal(*stored.ProcessedAt))
}

func TestFail(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)

	err = repo.Fail(ctx, bundle.ID, []domain.BundleStatus{domain.BundleProcessing}, "boom", t0)
	require.ErrorIs(t, err, domain.ErrStaleStatus)

	_, err = repo.ClaimNextQueued(ctx, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, bundle.ID, []domain.BundleStatus{domain.BundleProcessing, domain.BundlePublishing}, "boom", t0))

	stored, err := repo.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleError, stored.Status)
	assert.Equal(t, "boom", stored.Error)

	_, err = repo.ActiveBundle(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeRecords(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)

	saved, err := repo.SaveArticleChange(ctx, domain.ArticleChange{
		BundleID:   bundle.ID,
		Slug:       "install-guide",
		ArticleID:  "kA0000000000001",
		VersionID:  "ka0000000000001",
		Status:     domain.ChangeNew,
		Title:      "Install",
		PreviewURL: "https://kb/preview",
	})
	require.NoError(t, err)
	assert.Positive(t, saved.ID)

	_, err = repo.SaveArticleChange(ctx, domain.ArticleChange{BundleID: bundle.ID, Slug: "x", Status: "renamed"})
	require.Error(t, err)

	_, err = repo.SaveImageChange(ctx, domain.ImageChange{BundleID: 999, Filename: "a.png", Status: domain.ChangeNew})
	require.ErrorIs(t, err, domain.ErrNotFound)

	articles, err := repo.ListArticleChanges(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ArticleChange{saved}, articles)
}

func TestWebhooks(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateWebhook(ctx, domain.Webhook{
		Payload:     []byte(`{"event_id":"x"}`),
		Fingerprint: "abc",
		Status:      domain.WebhookPending,
		ReceivedAt:  t0,
	})
	require.NoError(t, err)

	bundle, err := repo.AdmitSource(ctx, "src-1", t0)
	require.NoError(t, err)
	require.NoError(t, repo.ResolveWebhook(ctx, created.ID, domain.WebhookAccepted, domain.RejectNone, &bundle.ID))

	stored, err := repo.GetWebhook(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAccepted, stored.Status)
	assert.Equal(t, []byte(`{"event_id":"x"}`), stored.Payload)
	require.NotNil(t, stored.BundleID)
	assert.Equal(t, bundle.ID, *stored.BundleID)
	assert.True(t, t0.Equal(stored.ReceivedAt))

	err = repo.ResolveWebhook(ctx, created.ID, domain.WebhookRejected, domain.RejectInFlight, nil)
	require.ErrorIs(t, err, domain.ErrStaleStatus)

	_, err = repo.GetWebhook(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListBundles(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b", "c"} {
		_, err := repo.AdmitSource(ctx, source, t0)
		require.NoError(t, err)
	}

	bundles, err := repo.ListBundles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	assert.Equal(t, "c", bundles[0].SourceID)
	assert.Equal(t, "b", bundles[1].SourceID)
}
