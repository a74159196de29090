package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/topi314/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

const instrumentationName = "github.com/mrajeshsfdc/sfdoc/internal/usecase"

// Outcome is the explicit result of processing one bundle.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeValidationFailed
	OutcomeNothingChanged
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeValidationFailed:
		return "validation_failed"
	case OutcomeNothingChanged:
		return "nothing_changed"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PipelineDeps wires all driven adapters into the processing pipeline.
type PipelineDeps struct {
	Source     ports.BundleSource
	Articles   ports.ArticleStore
	Objects    ports.ObjectStore
	Repository ports.BundleRepository
	Jobs       ports.JobQueue
	Extractor  *content.Extractor
	Stager     *Stager
	Linker     content.Linker
	Clock      ports.Clock
	Logger     *slog.Logger

	WorkDir       string
	MaxUnpackSize int64
	Timeout       time.Duration
	Concurrency   int
}

// Pipeline turns a claimed bundle into staged drafts.
type Pipeline struct {
	source     ports.BundleSource
	articles   ports.ArticleStore
	objects    ports.ObjectStore
	repository ports.BundleRepository
	jobs       ports.JobQueue
	extractor  *content.Extractor
	stager     *Stager
	linker     content.Linker
	clock      ports.Clock
	logger     *slog.Logger

	workDir       string
	maxUnpackSize int64
	timeout       time.Duration
	concurrency   int

	tracer    trace.Tracer
	processed metric.Int64Counter
}

// NewPipeline constructs the processing component.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	processed, err := otel.Meter(instrumentationName).Int64Counter("sfdoc.bundles.processed",
		metric.WithDescription("Bundles processed, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}

	return &Pipeline{
		source:        deps.Source,
		articles:      deps.Articles,
		objects:       deps.Objects,
		repository:    deps.Repository,
		jobs:          deps.Jobs,
		extractor:     deps.Extractor,
		stager:        deps.Stager,
		linker:        deps.Linker,
		clock:         clock,
		logger:        logger.With("component", "pipeline"),
		workDir:       deps.WorkDir,
		maxUnpackSize: deps.MaxUnpackSize,
		timeout:       deps.Timeout,
		concurrency:   deps.Concurrency,
		tracer:        otel.Tracer(instrumentationName),
		processed:     processed,
	}, nil
}

// ProcessBundle runs fetch, unpack, extract, detect, diff and stage for a
// bundle already claimed into processing. Failures are recorded on the bundle
// and retrigger admission; the returned error is for the caller's logs.
func (p *Pipeline) ProcessBundle(ctx context.Context, bundleID int64) (Outcome, error) {
	bundle, err := p.repository.GetBundle(ctx, bundleID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load bundle %d: %w", bundleID, err)
	}
	if bundle.Status != domain.BundleProcessing {
		return OutcomeFailed, fmt.Errorf("%s is %s: %w", bundle, bundle.Status, domain.ErrStaleStatus)
	}

	ctx, span := p.tracer.Start(ctx, "ProcessBundle", trace.WithAttributes(
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

	started := p.clock()
	outcome, plan, err := p.process(runCtx, bundle)
	if err == nil {
		err = p.repository.Transition(ctx, bundle.ID, domain.BundleProcessing, domain.BundleDraft, p.clock())
		if err != nil {
			outcome, err = OutcomeFailed, fmt.Errorf("move to draft: %w", err)
		}
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &domain.TimeoutError{Unit: "processing " + bundle.String(), Err: err}
	}

	p.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))

	if err != nil {
		span.SetStatus(codes.Error, "failed to process bundle")
		span.RecordError(err)
		p.fail(ctx, bundle, domain.BundleProcessing, err)
		return outcome, err
	}

	counts := plan.Count()
	p.logger.InfoContext(ctx, "bundle staged",
		slog.Int64("bundle_id", bundle.ID),
		slog.String("source_id", bundle.SourceID),
		slog.Int("new", counts[domain.ChangeNew]),
		slog.Int("changed", counts[domain.ChangeChanged]),
		slog.Int("deleted", counts[domain.ChangeDeleted]),
		slog.Duration("took", p.clock().Sub(started)),
	)
	return OutcomeOK, nil
}

func (p *Pipeline) process(ctx context.Context, bundle domain.Bundle) (Outcome, Plan, error) {
	archive, err := p.source.Fetch(ctx, bundle.SourceID)
	if err != nil {
		return OutcomeFailed, Plan{}, fmt.Errorf("fetch bundle: %w", err)
	}

	dir, err := os.MkdirTemp(p.workDir, "sfdoc-bundle-")
	if err != nil {
		return OutcomeFailed, Plan{}, fmt.Errorf("create working directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.WarnContext(ctx, "failed to remove working directory", slog.String("dir", dir), tint.Err(rmErr))
		}
	}()

	if err = content.Unpack(archive, dir, p.maxUnpackSize); err != nil {
		return OutcomeFailed, Plan{}, fmt.Errorf("unpack bundle: %w", err)
	}

	result, err := p.extractor.Extract(ctx, dir)
	if err != nil {
		return OutcomeFailed, Plan{}, fmt.Errorf("extract bundle: %w", err)
	}

	if report := Detect(result.Slugs, result.Images); !report.Empty() {
		return OutcomeValidationFailed, Plan{}, report.Validation()
	}

	plan, err := p.plan(ctx, result)
	if err != nil {
		return OutcomeFailed, Plan{}, err
	}
	if plan.Empty() {
		return OutcomeNothingChanged, plan, &domain.ValidationError{Message: domain.ErrNothingChanged.Error()}
	}

	if err = p.stager.Stage(ctx, bundle, plan, result); err != nil {
		return OutcomeFailed, plan, fmt.Errorf("stage bundle: %w", err)
	}
	return OutcomeOK, plan, nil
}

// plan classifies an extracted bundle against the live stores.
func (p *Pipeline) plan(ctx context.Context, result *content.Result) (Plan, error) {
	incoming := make([]Incoming, 0, len(result.Documents))
	slugs := make([]string, 0, len(result.Documents))
	for _, doc := range result.Documents {
		production, err := p.linker.Render(doc, content.Production, result)
		if err != nil {
			return Plan{}, err
		}
		incoming = append(incoming, Incoming{Document: doc, Production: production})
		slugs = append(slugs, doc.Slug)
	}

	images := make([]IncomingImage, 0, len(result.Images))
	for key := range result.Images {
		images = append(images, IncomingImage{Key: key, Name: result.ImageName(key)})
	}

	snap, err := TakeSnapshot(ctx, p.articles, p.objects, p.linker.DraftPrefix, slugs, p.concurrency)
	if err != nil {
		return Plan{}, fmt.Errorf("snapshot live state: %w", err)
	}
	return Classify(incoming, images, snap), nil
}

func (p *Pipeline) fail(ctx context.Context, bundle domain.Bundle, from domain.BundleStatus, cause error) {
	failBundle(ctx, p.repository, p.jobs, p.clock, p.logger, bundle, from, cause)
}

// failBundle records cause on the bundle and retriggers admission. It uses a
// context detached from ctx so an expired unit can still be recorded.
func failBundle(ctx context.Context, repo ports.BundleRepository, jobs ports.JobQueue, clock ports.Clock, logger *slog.Logger, bundle domain.Bundle, from domain.BundleStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	logger.ErrorContext(ctx, "bundle failed",
		slog.Int64("bundle_id", bundle.ID),
		slog.String("source_id", bundle.SourceID),
		slog.String("from", string(from)),
		tint.Err(cause),
	)

	if err := repo.Fail(ctx, bundle.ID, []domain.BundleStatus{from}, cause.Error(), clock()); err != nil {
		logger.ErrorContext(ctx, "failed to record bundle error", slog.Int64("bundle_id", bundle.ID), tint.Err(err))
	}
	if err := jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		logger.ErrorContext(ctx, "failed to retrigger admission", tint.Err(err))
	}
}
