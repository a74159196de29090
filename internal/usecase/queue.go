package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/topi314/tint"
	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// QueueDeps wires the queue admission use case.
type QueueDeps struct {
	Repository  ports.BundleRepository
	Objects     ports.ObjectStore
	Jobs        ports.JobQueue
	DraftPrefix string
	// RetryDelay is how long admission waits after a failed claim.
	RetryDelay  time.Duration
	Clock       ports.Clock
	Logger      *slog.Logger
	Concurrency int
}

const defaultAdmitRetry = 30 * time.Second

// Queue admits queued bundles into the single processing slot.
type Queue struct {
	repository  ports.BundleRepository
	objects     ports.ObjectStore
	jobs        ports.JobQueue
	draftPrefix string
	retryDelay  time.Duration
	clock       ports.Clock
	logger      *slog.Logger
	concurrency int

	// admissions in this process are serialized so a sweep never overlaps a
	// claim made by the same process.
	mu sync.Mutex
}

// NewQueue constructs the admission use case.
func NewQueue(deps QueueDeps) *Queue {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryDelay := deps.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultAdmitRetry
	}
	return &Queue{
		repository:  deps.Repository,
		objects:     deps.Objects,
		jobs:        deps.Jobs,
		draftPrefix: deps.DraftPrefix,
		retryDelay:  retryDelay,
		clock:       clock,
		logger:      logger.With("component", "queue"),
		concurrency: deps.Concurrency,
	}
}

// Enqueue queues sourceID the same way an accepted webhook does: a new bundle
// is created, a terminal one is re-queued, anything else is domain.ErrInFlight.
func (q *Queue) Enqueue(ctx context.Context, sourceID string) (domain.Bundle, error) {
	bundle, err := q.repository.AdmitSource(ctx, sourceID, q.clock())
	if err != nil {
		return domain.Bundle{}, fmt.Errorf("queue %s: %w", sourceID, err)
	}
	q.logger.InfoContext(ctx, "bundle queued", slog.Int64("bundle_id", bundle.ID), slog.String("source_id", sourceID))

	if err = q.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		return bundle, fmt.Errorf("trigger admission: %w", err)
	}
	return bundle, nil
}

// Admit sweeps stale draft objects and claims the earliest queued bundle when
// no bundle is active. It returns false when nothing was admitted. A failed
// claim schedules another admission after the retry delay.
func (q *Queue) Admit(ctx context.Context) (domain.Bundle, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.Sweep(ctx); err != nil {
		q.logger.WarnContext(ctx, "draft sweep failed", tint.Err(err))
	}

	bundle, err := q.repository.ClaimNextQueued(ctx, q.clock())
	switch {
	case errors.Is(err, domain.ErrAdmissionConflict):
		q.logger.DebugContext(ctx, "admission declined, another bundle is active")
		return domain.Bundle{}, false, nil
	case errors.Is(err, domain.ErrNotFound):
		q.logger.DebugContext(ctx, "no queued bundles")
		return domain.Bundle{}, false, nil
	case err != nil:
		q.jobs.ScheduleAfter(q.retryDelay, ports.Unit{Kind: ports.UnitAdmit})
		q.logger.WarnContext(ctx, "claim failed, retrying admission later",
			slog.Duration("retry_in", q.retryDelay),
			tint.Err(err),
		)
		return domain.Bundle{}, false, fmt.Errorf("claim next bundle: %w", err)
	}

	q.logger.InfoContext(ctx, "bundle admitted", slog.Int64("bundle_id", bundle.ID), slog.String("source_id", bundle.SourceID))
	if err = q.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitProcess, BundleID: bundle.ID}); err != nil {
		return bundle, true, fmt.Errorf("enqueue processing of %s: %w", bundle, err)
	}
	return bundle, true, nil
}

// Sweep removes every object under the draft prefix unless a bundle currently
// holds the active slot, whose staged objects are still needed.
func (q *Queue) Sweep(ctx context.Context) error {
	active, err := q.repository.ActiveBundle(ctx)
	switch {
	case err == nil:
		q.logger.DebugContext(ctx, "skipping draft sweep", slog.Int64("active_bundle_id", active.ID))
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("check active bundle: %w", err)
	}

	keys, err := q.objects.ListPrefix(ctx, q.draftPrefix)
	if err != nil {
		return fmt.Errorf("list draft objects: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if q.concurrency > 0 {
		g.SetLimit(q.concurrency)
	}
	for _, key := range keys {
		g.Go(func() error {
			return q.objects.Delete(gctx, key)
		})
	}
	if err = g.Wait(); err != nil {
		return fmt.Errorf("delete draft objects: %w", err)
	}

	q.logger.InfoContext(ctx, "swept draft objects", slog.Int("count", len(keys)))
	return nil
}
