package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

func TestProcessNewArticle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	bundle, outcome, err := h.process(t, "src-1", map[string]string{
		"guide/install.html":       page("install-guide", "Install Guide", `<p>See <a href="../faq/faq.html">FAQ</a></p><img src="img/diagram.png">`),
		"guide/img/diagram.png":    "png-bytes",
		"faq/faq.html":             page("faq", "FAQ", `<p>Questions</p>`),
		"guide/_private/note.html": page("secret", "Secret", `<p>hidden</p>`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, domain.BundleDraft, bundle.Status)
	assert.NotNil(t, bundle.ProcessedAt)

	changes := h.articleChanges(t, bundle.ID)
	require.Len(t, changes, 2)
	bySlug := map[string]domain.ArticleChange{}
	for _, c := range changes {
		bySlug[c.Slug] = c
		assert.Equal(t, domain.ChangeNew, c.Status)
	}
	require.Contains(t, bySlug, "install-guide")
	assert.NotContains(t, bySlug, "secret")

	guide := bySlug["install-guide"]
	assert.Equal(t, "Install Guide", guide.Title)
	assert.Contains(t, guide.PreviewURL, "https://kb.example.org/knowledge/publishing/articlePreview.apexp?id=")
	assert.NotContains(t, guide.PreviewURL, "pubstatus")

	draft := h.version(t, "install-guide", domain.PublishDraft)
	require.NotNil(t, draft)
	assert.Equal(t, guide.VersionID, draft.VersionID)
	assert.Equal(t, guide.ArticleID, draft.ArticleID)
	assert.Contains(t, draft.Body, `href="https://draft.example.org/s/article/faq"`)
	assert.Contains(t, draft.Body, `src="https://cdn.example.org/draft/diagram.png"`)

	staged, ok := h.objects.Get("draft/diagram.png")
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(staged))

	images := h.imageChanges(t, bundle.ID)
	require.Len(t, images, 1)
	assert.Equal(t, "diagram.png", images[0].Filename)
	assert.Equal(t, domain.ChangeNew, images[0].Status)
}

func TestProcessIdenticalArticleIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.articles.Seed(domain.ArticleRecord{
		PublishStatus: domain.PublishOnline,
		ArticleFields: domain.ArticleFields{Title: "FAQ", Slug: "faq", Body: `<p>Questions</p>`},
	})

	bundle, outcome, err := h.process(t, "src-1", map[string]string{
		"faq.html":     page("FAQ", "FAQ", `<p>Questions</p>`),
		"install.html": page("install-guide", "Install", `<p>New</p>`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, domain.BundleDraft, bundle.Status)

	changes := h.articleChanges(t, bundle.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, "install-guide", changes[0].Slug)
	assert.Nil(t, h.version(t, "faq", domain.PublishDraft))
}

func TestProcessNothingChanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.articles.Seed(domain.ArticleRecord{
		PublishStatus: domain.PublishOnline,
		ArticleFields: domain.ArticleFields{Title: "FAQ", Slug: "faq", Body: `<p>Questions</p>`},
	})

	bundle, outcome, err := h.process(t, "src-1", map[string]string{
		"faq.html": page("faq", "FAQ", `<p>Questions</p>`),
	})
	assert.Equal(t, OutcomeNothingChanged, outcome)

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, domain.BundleError, bundle.Status)
	assert.Equal(t, "no articles or images changed", bundle.Error)
	assert.Empty(t, h.articleChanges(t, bundle.ID))
	assert.Zero(t, h.articles.Mutations())
	assert.True(t, hasUnit(h.jobs.Units(), ports.UnitAdmit))
}

func TestProcessDuplicateSlugs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	bundle, outcome, err := h.process(t, "src-1", map[string]string{
		"a/faq.html":  page("faq", "FAQ", `<img src="logo.png">`),
		"b/faq.html":  page("FAQ", "Other FAQ", `<img src="logo.png">`),
		"a/logo.png":  "a",
		"b/logo.png":  "b",
		"ok/new.html": page("new", "New", `<p>x</p>`),
	})
	assert.Equal(t, OutcomeValidationFailed, outcome)

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "Found URL name duplicates:\nfaq\n\ta/faq.html\n\tb/faq.html\n\n"+
		"Found image duplicates:\nlogo.png\n\ta/logo.png\n\tb/logo.png", validation.Message)

	assert.Equal(t, domain.BundleError, bundle.Status)
	assert.Equal(t, validation.Message, bundle.Error)
	assert.Empty(t, h.articleChanges(t, bundle.ID))
	assert.Empty(t, h.imageChanges(t, bundle.ID))
	assert.Zero(t, h.articles.Mutations())
	assert.Zero(t, h.objects.Mutations())
}

func TestProcessChangedArticleCopiesPublishedVersion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	online := h.articles.Seed(domain.ArticleRecord{
		PublishStatus: domain.PublishOnline,
		ArticleFields: domain.ArticleFields{Title: "FAQ", Slug: "faq", Body: `<p>Old answers</p>`},
	})

	bundle, _, err := h.process(t, "src-1", map[string]string{
		"faq.html": page("faq", "FAQ", `<p>New answers</p>`),
	})
	require.NoError(t, err)

	changes := h.articleChanges(t, bundle.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeChanged, changes[0].Status)
	assert.Equal(t, online.ArticleID, changes[0].ArticleID)
	assert.NotEqual(t, online.VersionID, changes[0].VersionID)

	draft := h.version(t, "faq", domain.PublishDraft)
	require.NotNil(t, draft)
	assert.Equal(t, "<p>New answers</p>", draft.Body)
	assert.Equal(t, "<p>Old answers</p>", h.version(t, "faq", domain.PublishOnline).Body)
}

func TestProcessUpdatesExistingDraft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	existing := h.articles.Seed(domain.ArticleRecord{
		PublishStatus: domain.PublishDraft,
		ArticleFields: domain.ArticleFields{Title: "Install", Slug: "install-guide", Body: `<p>v1</p>`},
	})

	bundle, _, err := h.process(t, "src-1", map[string]string{
		"install.html": page("install-guide", "Install", `<p>v2</p>`),
	})
	require.NoError(t, err)

	changes := h.articleChanges(t, bundle.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeNew, changes[0].Status)
	assert.Equal(t, existing.VersionID, changes[0].VersionID)
	assert.Equal(t, "<p>v2</p>", h.version(t, "install-guide", domain.PublishDraft).Body)
}

func TestProcessRequiresClaimedBundle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	bundle, err := h.queue.Enqueue(ctx, "src-1")
	require.NoError(t, err)

	_, err = h.pipeline.ProcessBundle(ctx, bundle.ID)
	require.ErrorIs(t, err, domain.ErrStaleStatus)

	stored, err := h.repo.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleQueued, stored.Status)
}

func TestProcessFetchFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	queued, err := h.queue.Enqueue(ctx, "missing")
	require.NoError(t, err)
	_, ok, err := h.queue.Admit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	h.jobs.Drain()

	outcome, err := h.pipeline.ProcessBundle(ctx, queued.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	bundle, err := h.repo.GetBundle(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleError, bundle.Status)
	assert.Contains(t, bundle.Error, "fetch bundle")
	assert.Equal(t, []ports.Unit{{Kind: ports.UnitAdmit}}, h.jobs.Units())
}

func TestProcessOversizedBundle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withUnpackLimit(64))

	bundle, outcome, err := h.process(t, "src-1", map[string]string{
		"faq.html": page("faq", "FAQ", strings.Repeat("<p>answer</p>", 20)),
	})
	require.ErrorIs(t, err, content.ErrArchiveTooLarge)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, domain.BundleError, bundle.Status)
	assert.Contains(t, bundle.Error, "unpack bundle")
}

type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withSource(blockingSource{}), withTimeout(20*time.Millisecond))
	ctx := context.Background()

	queued, err := h.queue.Enqueue(ctx, "slow")
	require.NoError(t, err)
	_, ok, err := h.queue.Admit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.pipeline.ProcessBundle(ctx, queued.ID)

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	bundle, err := h.repo.GetBundle(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BundleError, bundle.Status)
	assert.Contains(t, bundle.Error, "timed out")
	assert.True(t, hasUnit(h.jobs.Units(), ports.UnitAdmit))
}

func TestPreviewURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://kb/knowledge/publishing/articlePreview.apexp?id=kA01234567890ab",
		PreviewURL("https://kb", "kA01234567890abcdef", false))
	assert.Equal(t, "https://kb/knowledge/publishing/articlePreview.apexp?id=short&pubstatus=o",
		PreviewURL("https://kb", "short", true))
}
