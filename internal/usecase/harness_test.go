package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/memory"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var testLinker = content.Linker{
	DraftBaseURL:      "https://draft.example.org",
	ProductionBaseURL: "https://help.example.org",
	ArticlePath:       "s/article",
	ImageBaseURL:      "https://cdn.example.org",
	DraftPrefix:       "draft/",
}

type harness struct {
	repo     *memory.Repository
	articles *memory.ArticleStore
	objects  *memory.ObjectStore
	source   *memory.BundleSource
	jobs     *memory.JobRecorder

	queue     *Queue
	pipeline  *Pipeline
	publisher *Publisher
	webhooks  *WebhookFilter
}

type harnessOption func(*PipelineDeps)

func withSource(source ports.BundleSource) harnessOption {
	return func(d *PipelineDeps) { d.Source = source }
}

func withTimeout(timeout time.Duration) harnessOption {
	return func(d *PipelineDeps) { d.Timeout = timeout }
}

func withUnpackLimit(limit int64) harnessOption {
	return func(d *PipelineDeps) { d.MaxUnpackSize = limit }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	h := &harness{
		repo:     memory.NewRepository(),
		articles: memory.NewArticleStore(),
		objects:  memory.NewObjectStore(),
		source:   memory.NewBundleSource(),
		jobs:     &memory.JobRecorder{},
	}

	extractor, err := content.NewExtractor([]string{"**/_private/**"}, logger)
	require.NoError(t, err)

	stager := NewStager(StagerDeps{
		Articles:       h.articles,
		Objects:        h.objects,
		Repository:     h.repo,
		Linker:         testLinker,
		PreviewBaseURL: "https://kb.example.org",
		Concurrency:    4,
		Logger:         logger,
	})

	deps := PipelineDeps{
		Source:      h.source,
		Articles:    h.articles,
		Objects:     h.objects,
		Repository:  h.repo,
		Jobs:        h.jobs,
		Extractor:   extractor,
		Stager:      stager,
		Linker:      testLinker,
		Clock:       clock,
		Logger:      logger,
		WorkDir:     t.TempDir(),
		Timeout:     time.Minute,
		Concurrency: 4,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.pipeline, err = NewPipeline(deps)
	require.NoError(t, err)

	h.publisher, err = NewPublisher(PublisherDeps{
		Articles:    h.articles,
		Objects:     h.objects,
		Repository:  h.repo,
		Jobs:        h.jobs,
		Linker:      testLinker,
		Clock:       clock,
		Logger:      logger,
		Timeout:     time.Minute,
		Concurrency: 4,
	})
	require.NoError(t, err)

	h.queue = NewQueue(QueueDeps{
		Repository:  h.repo,
		Objects:     h.objects,
		Jobs:        h.jobs,
		DraftPrefix: testLinker.DraftPrefix,
		Clock:       clock,
		Logger:      logger,
		Concurrency: 4,
	})

	h.webhooks, err = NewWebhookFilter(WebhookDeps{
		Repository: h.repo,
		Jobs:       h.jobs,
		Clock:      clock,
		Logger:     logger,
	})
	require.NoError(t, err)

	return h
}

// process queues sourceID with files as its archive, admits it and runs the
// processing unit.
func (h *harness) process(t *testing.T, sourceID string, files map[string]string) (domain.Bundle, Outcome, error) {
	t.Helper()
	ctx := context.Background()

	h.source.Add(sourceID, buildArchive(t, files))
	queued, err := h.queue.Enqueue(ctx, sourceID)
	require.NoError(t, err)

	claimed, ok, err := h.queue.Admit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, queued.ID, claimed.ID)

	outcome, err := h.pipeline.ProcessBundle(ctx, claimed.ID)
	bundle, getErr := h.repo.GetBundle(ctx, claimed.ID)
	require.NoError(t, getErr)
	return bundle, outcome, err
}

func (h *harness) articleChanges(t *testing.T, bundleID int64) []domain.ArticleChange {
	t.Helper()
	changes, err := h.repo.ListArticleChanges(context.Background(), bundleID)
	require.NoError(t, err)
	return changes
}

func (h *harness) imageChanges(t *testing.T, bundleID int64) []domain.ImageChange {
	t.Helper()
	changes, err := h.repo.ListImageChanges(context.Background(), bundleID)
	require.NoError(t, err)
	return changes
}

func (h *harness) version(t *testing.T, slug string, status domain.PublishStatus) *domain.ArticleRecord {
	t.Helper()
	rec, err := h.articles.QueryBySlug(context.Background(), slug, status)
	require.NoError(t, err)
	return rec
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func page(slug, title, body string) string {
	return `<html><head><title>` + title + `</title><meta name="UrlName" content="` + slug + `"></head><body>` + body + `</body></html>`
}

func hasUnit(units []ports.Unit, kind ports.UnitKind) bool {
	for _, u := range units {
		if u.Kind == kind {
			return true
		}
	}
	return false
}
