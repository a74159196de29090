package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// PublisherDeps wires the stores a publish run mutates.
type PublisherDeps struct {
	Articles    ports.ArticleStore
	Objects     ports.ObjectStore
	Repository  ports.BundleRepository
	Jobs        ports.JobQueue
	Linker      content.Linker
	Clock       ports.Clock
	Logger      *slog.Logger
	Timeout     time.Duration
	Concurrency int
}

// Publisher promotes the staged changes of a draft bundle to production.
type Publisher struct {
	articles    ports.ArticleStore
	objects     ports.ObjectStore
	repository  ports.BundleRepository
	jobs        ports.JobQueue
	linker      content.Linker
	clock       ports.Clock
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int

	tracer    trace.Tracer
	published metric.Int64Counter
}

// NewPublisher constructs the publisher.
func NewPublisher(deps PublisherDeps) (*Publisher, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	published, err := otel.Meter(instrumentationName).Int64Counter("sfdoc.bundles.published",
		metric.WithDescription("Publish runs, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create published counter: %w", err)
	}

	return &Publisher{
		articles:    deps.Articles,
		objects:     deps.Objects,
		repository:  deps.Repository,
		jobs:        deps.Jobs,
		linker:      deps.Linker,
		clock:       clock,
		logger:      logger.With("component", "publisher"),
		timeout:     deps.Timeout,
		concurrency: deps.Concurrency,
		tracer:      otel.Tracer(instrumentationName),
		published:   published,
	}, nil
}

// Publish moves a draft bundle through publishing. The state change to
// publishing is a compare-and-swap, so a second concurrent call fails with
// domain.ErrStaleStatus without touching the stores.
func (p *Publisher) Publish(ctx context.Context, bundleID int64) error {
	bundle, err := p.repository.GetBundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("load bundle %d: %w", bundleID, err)
	}
	if err = p.repository.Transition(ctx, bundle.ID, domain.BundleDraft, domain.BundlePublishing, p.clock()); err != nil {
		return fmt.Errorf("start publishing %s: %w", bundle, err)
	}

	ctx, span := p.tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.Int64("bundle.id", bundle.ID),
		attribute.String("bundle.source_id", bundle.SourceID),
	))
	defer span.End()

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err = p.RunSteps(runCtx, bundle.ID)
	if err == nil {
		err = p.repository.Transition(ctx, bundle.ID, domain.BundlePublishing, domain.BundlePublished, p.clock())
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &domain.TimeoutError{Unit: "publishing " + bundle.String(), Err: err}
	}

	if err != nil {
		p.published.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		span.SetStatus(codes.Error, "failed to publish bundle")
		span.RecordError(err)
		failBundle(ctx, p.repository, p.jobs, p.clock, p.logger, bundle, domain.BundlePublishing, err)
		return err
	}

	p.published.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	p.logger.InfoContext(ctx, "bundle published", slog.Int64("bundle_id", bundle.ID), slog.String("source_id", bundle.SourceID))

	if err = p.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		return fmt.Errorf("retrigger admission: %w", err)
	}
	return nil
}

// RunSteps executes the four publish groups in order against the recorded
// changes of a bundle. Every step skips targets already in their final state,
// so running it again over a published bundle mutates nothing.
func (p *Publisher) RunSteps(ctx context.Context, bundleID int64) error {
	articles, err := p.repository.ListArticleChanges(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("list article changes: %w", err)
	}
	images, err := p.repository.ListImageChanges(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("list image changes: %w", err)
	}

	var (
		liveArticles, deletedArticles []domain.ArticleChange
		liveImages, deletedImages     []domain.ImageChange
	)
	for _, change := range articles {
		switch change.Status {
		case domain.ChangeNew, domain.ChangeChanged:
			liveArticles = append(liveArticles, change)
		case domain.ChangeDeleted:
			deletedArticles = append(deletedArticles, change)
		default:
			return fmt.Errorf("article %s: %w", change.Slug, change.Status.Validate())
		}
	}
	for _, change := range images {
		switch change.Status {
		case domain.ChangeNew, domain.ChangeChanged:
			liveImages = append(liveImages, change)
		case domain.ChangeDeleted:
			deletedImages = append(deletedImages, change)
		default:
			return fmt.Errorf("image %s: %w", change.Filename, change.Status.Validate())
		}
	}

	if err = runGroup(ctx, p.concurrency, liveArticles, p.publishArticle); err != nil {
		return fmt.Errorf("publish articles: %w", err)
	}
	if err = runGroup(ctx, p.concurrency, liveImages, p.promoteImage); err != nil {
		return fmt.Errorf("promote images: %w", err)
	}
	if err = runGroup(ctx, p.concurrency, deletedArticles, p.archiveArticle); err != nil {
		return fmt.Errorf("archive articles: %w", err)
	}
	if err = runGroup(ctx, p.concurrency, deletedImages, p.deleteImage); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

func runGroup[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}

func (p *Publisher) publishArticle(ctx context.Context, change domain.ArticleChange) error {
	version, err := p.articles.GetVersion(ctx, change.VersionID)
	if err != nil {
		return fmt.Errorf("load draft %s: %w", change.Slug, err)
	}
	if version.PublishStatus == domain.PublishOnline {
		return nil
	}

	body, err := p.linker.Promote(version.Body)
	if err != nil {
		return fmt.Errorf("rewrite links of %s: %w", change.Slug, err)
	}
	fields := version.ArticleFields
	fields.Body = body

	if err = p.articles.UpdateDraft(ctx, change.VersionID, fields); err != nil {
		return fmt.Errorf("push body of %s: %w", change.Slug, err)
	}
	if err = p.articles.SetPublishStatus(ctx, change.VersionID, domain.PublishOnline); err != nil {
		return fmt.Errorf("publish %s: %w", change.Slug, err)
	}

	p.logger.DebugContext(ctx, "published article", slog.String("slug", change.Slug), slog.String("version_id", change.VersionID))
	return nil
}

func (p *Publisher) promoteImage(ctx context.Context, change domain.ImageChange) error {
	staged := p.linker.DraftPrefix + change.Filename

	ok, err := p.objects.Exists(ctx, staged)
	if err != nil {
		return fmt.Errorf("check staged %s: %w", staged, err)
	}
	if !ok {
		live, err := p.objects.Exists(ctx, change.Filename)
		if err != nil {
			return fmt.Errorf("check %s: %w", change.Filename, err)
		}
		if live {
			return nil
		}
		return &domain.StoreError{Op: "promote", Target: staged, Err: domain.ErrNotFound}
	}

	if err = p.objects.Copy(ctx, staged, change.Filename); err != nil {
		return fmt.Errorf("copy %s: %w", staged, err)
	}
	if err = p.objects.Delete(ctx, staged); err != nil {
		return fmt.Errorf("remove staged %s: %w", staged, err)
	}
	return nil
}

func (p *Publisher) archiveArticle(ctx context.Context, change domain.ArticleChange) error {
	version, err := p.articles.GetVersion(ctx, change.VersionID)
	if err != nil {
		return fmt.Errorf("load %s: %w", change.Slug, err)
	}
	if version.PublishStatus == domain.PublishArchived {
		return nil
	}

	draft, err := p.articles.FindDraft(ctx, change.ArticleID)
	if err != nil {
		return fmt.Errorf("find pending draft of %s: %w", change.Slug, err)
	}
	if draft != nil {
		if err = p.articles.DeleteDraft(ctx, draft.VersionID); err != nil {
			return fmt.Errorf("delete pending draft of %s: %w", change.Slug, err)
		}
	}

	if err = p.articles.SetPublishStatus(ctx, change.VersionID, domain.PublishArchived); err != nil {
		return fmt.Errorf("archive %s: %w", change.Slug, err)
	}

	p.logger.DebugContext(ctx, "archived article", slog.String("slug", change.Slug))
	return nil
}

func (p *Publisher) deleteImage(ctx context.Context, change domain.ImageChange) error {
	ok, err := p.objects.Exists(ctx, change.Filename)
	if err != nil {
		return fmt.Errorf("check %s: %w", change.Filename, err)
	}
	if !ok {
		return nil
	}
	if err = p.objects.Delete(ctx, change.Filename); err != nil {
		return fmt.Errorf("delete %s: %w", change.Filename, err)
	}
	return nil
}
